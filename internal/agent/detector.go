package agent

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/shared/id"
)

// Status is the per-session connection state.
type Status int

const (
	StatusNone Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "none"
	}
}

// ConnectionRecord is the detector's view of one session. At most one
// agent type is connected per session.
type ConnectionRecord struct {
	SessionID      id.SessionID `json:"sessionId"`
	AgentType      Type         `json:"agentType"`
	Status         Status       `json:"status"`
	LastConfidence float64      `json:"lastConfidence"`
}

// activityKeywords feed the generic "looks like agent activity" heuristic.
// It tracks activity timestamps only and never changes connection state.
var activityKeywords = []string{
	"thinking",
	"tool use",
	"tokens",
	"assistant:",
	"i'll",
	"let me",
	"esc to interrupt",
}

// Detector classifies session input/output streams against the strategy
// registry. It never returns errors: a chunk it cannot make sense of is
// simply not a detection.
type Detector struct {
	log        *logging.Logger
	thresholds Thresholds
	minLen     int
	strategies []*Strategy

	mu      sync.Mutex
	records map[id.SessionID]*ConnectionRecord
}

// NewDetector creates a detector with the built-in strategy registry.
func NewDetector(th Thresholds, minActivityLength int, log *logging.Logger) *Detector {
	if th.Exact <= 0 {
		th = DefaultThresholds()
	}
	if minActivityLength <= 0 {
		minActivityLength = 20
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Detector{
		log:        log,
		thresholds: th,
		minLen:     minActivityLength,
		strategies: builtinStrategies(),
		records:    make(map[id.SessionID]*ConnectionRecord),
	}
}

// ClassifyInput matches a typed command against the registry. First match
// in registry order wins, and any match transitions the session to
// Connected(type) unconditionally: a second agent started in the same
// session supersedes the first.
func (d *Detector) ClassifyInput(sid id.SessionID, text string) Detection {
	for _, s := range d.strategies {
		det := s.DetectInput(text, d.thresholds)
		if det.IsDetected {
			d.connect(sid, det)
			return det
		}
	}
	return Detection{}
}

// ClassifyOutput scans streamed output for startup banners. A banner is a
// secondary signal: it connects a session that has no agent yet but does
// not supersede an existing connection.
func (d *Detector) ClassifyOutput(sid id.SessionID, text string) Detection {
	for _, s := range d.strategies {
		det := s.DetectOutput(text, d.thresholds)
		if !det.IsDetected {
			continue
		}

		d.mu.Lock()
		rec, ok := d.records[sid]
		if ok && rec.Status == StatusConnected && rec.AgentType != det.Type {
			d.mu.Unlock()
			return det
		}
		d.mu.Unlock()

		d.connect(sid, det)
		return det
	}
	return Detection{}
}

// LooksLikeAgentActivity reports whether output text resembles agent
// work. Used for activity-timestamp tracking only.
func (d *Detector) LooksLikeAgentActivity(text string) bool {
	if len(text) < d.minLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range activityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Disconnect marks the session's agent as disconnected, keeping the last
// known type for display.
func (d *Detector) Disconnect(sid id.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[sid]
	if !ok || rec.Status != StatusConnected {
		return
	}
	rec.Status = StatusDisconnected
}

// Forget drops all detector state for a session. Called on removal.
func (d *Detector) Forget(sid id.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, sid)
}

// Record returns the session's connection record. The zero record means
// no agent was ever seen.
func (d *Detector) Record(sid id.SessionID) ConnectionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.records[sid]; ok {
		return *rec
	}
	return ConnectionRecord{SessionID: sid, Status: StatusNone}
}

func (d *Detector) connect(sid id.SessionID, det Detection) {
	d.mu.Lock()
	d.records[sid] = &ConnectionRecord{
		SessionID:      sid,
		AgentType:      det.Type,
		Status:         StatusConnected,
		LastConfidence: det.Confidence,
	}
	d.mu.Unlock()

	d.log.Debug("agent detected",
		zap.String("session_id", sid.String()),
		zap.String("agent", string(det.Type)),
		zap.Float64("confidence", det.Confidence))
}
