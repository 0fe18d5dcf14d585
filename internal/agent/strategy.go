package agent

import (
	"path"
	"strings"
)

// Type identifies a known interactive CLI agent.
type Type string

const (
	TypeNone   Type = ""
	TypeClaude Type = "claude"
	TypeGemini Type = "gemini"
	TypeAider  Type = "aider"
	TypeCodex  Type = "codex"
)

// Detection is the result of classifying one piece of stream text.
type Detection struct {
	IsDetected  bool
	Type        Type
	Confidence  float64
	MatchedText string
}

// Thresholds carries the tunable confidence constants. These are
// hand-tuned values, surfaced as configuration rather than baked in.
type Thresholds struct {
	Exact   float64 // bare command, no arguments
	Context float64 // command with arguments or path-qualified
}

// DefaultThresholds returns the stock tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{Exact: 1.0, Context: 0.9}
}

// Strategy recognizes one agent type in command input and output text.
type Strategy struct {
	agentType Type
	command   string
	banners   []string
}

// Type returns the agent type this strategy detects.
func (s *Strategy) Type() Type {
	return s.agentType
}

// DetectInput classifies a typed command line.
func (s *Strategy) DetectInput(text string, th Thresholds) Detection {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Detection{}
	}

	fields := strings.Fields(trimmed)
	first := fields[0]

	// Skip leading VAR=value environment assignments.
	idx := 0
	for idx < len(fields) && strings.Contains(fields[idx], "=") && !strings.ContainsAny(fields[idx], "/") {
		idx++
	}
	if idx > 0 && idx < len(fields) {
		first = fields[idx]
	}

	switch {
	case first == s.command && len(fields) == idx+1:
		return Detection{IsDetected: true, Type: s.agentType, Confidence: th.Exact, MatchedText: trimmed}
	case first == s.command:
		return Detection{IsDetected: true, Type: s.agentType, Confidence: th.Context, MatchedText: trimmed}
	case path.Base(first) == s.command:
		// Path-qualified invocation, slightly weaker signal.
		return Detection{IsDetected: true, Type: s.agentType, Confidence: th.Context - 0.05, MatchedText: trimmed}
	}
	return Detection{}
}

// DetectOutput scans streamed text for this agent's startup banner.
func (s *Strategy) DetectOutput(text string, th Thresholds) Detection {
	lower := strings.ToLower(text)
	for _, banner := range s.banners {
		if strings.Contains(lower, strings.ToLower(banner)) {
			return Detection{IsDetected: true, Type: s.agentType, Confidence: th.Context, MatchedText: banner}
		}
	}
	return Detection{}
}

// builtinStrategies returns the registry in deterministic match order.
// First match wins, so more specific commands come first.
func builtinStrategies() []*Strategy {
	return []*Strategy{
		{agentType: TypeClaude, command: "claude", banners: []string{
			"welcome to claude code",
			"claude code v",
		}},
		{agentType: TypeGemini, command: "gemini", banners: []string{
			"gemini cli",
			"welcome to gemini",
		}},
		{agentType: TypeAider, command: "aider", banners: []string{
			"aider v",
			"main model:",
		}},
		{agentType: TypeCodex, command: "codex", banners: []string{
			"openai codex",
			"codex session",
		}},
	}
}
