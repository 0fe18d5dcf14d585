// Package protocol defines the JSON envelopes exchanged with the
// presentation layer. Plain JSON, no binary framing.
package protocol

import "github.com/openpane/termhost/internal/state"

// Consumer-facing commands (host → presentation).
const (
	CommandCreated     = "created"
	CommandRemoved     = "removed"
	CommandExited      = "exited"
	CommandOutput      = "output"
	CommandStateUpdate = "stateUpdate"
	CommandFocus       = "focus"
	CommandInitFailed  = "initFailed"
	CommandError       = "error"
)

// Host-facing commands (presentation → host).
const (
	CommandCreateSession  = "createSession"
	CommandDestroySession = "destroySession"
	CommandWrite          = "write"
	CommandResize         = "resize"
	CommandSetActive      = "setActive"
	CommandReady          = "ready"
	CommandPing           = "ping"
	CommandPong           = "pong"
)

// Message is the consumer-facing envelope.
type Message struct {
	Command   string          `json:"command"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      string          `json:"data,omitempty"`
	ExitCode  *int            `json:"exitCode,omitempty"`
	State     *state.Snapshot `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Request is the host-facing envelope sent by the presentation layer.
type Request struct {
	Command    string `json:"command"`
	SessionID  string `json:"sessionId,omitempty"`
	ConsumerID string `json:"consumerId,omitempty"`
	Name       string `json:"name,omitempty"`
	WorkingDir string `json:"workingDirectory,omitempty"`
	Data       string `json:"data,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
}
