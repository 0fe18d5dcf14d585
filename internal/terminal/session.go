package terminal

import (
	"time"

	"github.com/openpane/termhost/internal/shared/id"
)

// SpawnOptions configures a new PTY process.
type SpawnOptions struct {
	Shell      string
	WorkingDir string
	Cols       int
	Rows       int
	Env        map[string]string
}

// Callbacks receive asynchronous process notifications. OnData is invoked
// from a single goroutine per process, preserving output arrival order.
type Callbacks struct {
	OnData  func(data []byte)
	OnExit  func(exitCode int)
	OnError func(err error)
}

// ProcessHandle is the minimal surface the manager needs from a spawned
// process. Implementations return ErrUnavailable once the handle degrades.
type ProcessHandle interface {
	Write(data []byte) error
	Resize(cols, rows int) error
	Kill() error
}

// Spawner abstracts the PTY spawn primitive so tests can substitute a
// fake process.
type Spawner interface {
	Spawn(opts SpawnOptions, cb Callbacks) (ProcessHandle, error)
}

// session is the registry entry. The handle is owned exclusively by the
// Manager; collaborators only ever see SessionInfo copies.
type session struct {
	id          id.SessionID
	slotNumber  int
	displayName string
	workingDir  string
	shell       string
	cols        int
	rows        int
	createdAt   time.Time

	handle     ProcessHandle
	destroying bool // guarded by Manager.mu
}

// SessionInfo is an immutable view of a session.
type SessionInfo struct {
	ID          id.SessionID `json:"id"`
	SlotNumber  int          `json:"slotNumber"`
	DisplayName string       `json:"displayName"`
	WorkingDir  string       `json:"workingDirectory"`
	Shell       string       `json:"shell"`
	Cols        int          `json:"cols"`
	Rows        int          `json:"rows"`
	CreatedAt   time.Time    `json:"createdAt"`
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		SlotNumber:  s.slotNumber,
		DisplayName: s.displayName,
		WorkingDir:  s.workingDir,
		Shell:       s.shell,
		Cols:        s.cols,
		Rows:        s.rows,
		CreatedAt:   s.createdAt,
	}
}
