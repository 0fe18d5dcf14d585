package state

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/shared/id"
	"github.com/openpane/termhost/internal/terminal"
)

var (
	// ErrNotFound is returned for operations on an unknown session id.
	ErrNotFound = errors.New("session not in state")

	// ErrLimitReached is returned by ValidateCreate at the session cap.
	ErrLimitReached = errors.New("session limit reached")

	// ErrNoSlotsAvailable is returned by ValidateCreate when every display
	// slot is taken.
	ErrNoSlotsAvailable = errors.New("no display slots available")
)

// Entry is one session's consumer-facing listing.
type Entry struct {
	ID       id.SessionID `json:"id"`
	Name     string       `json:"name"`
	IsActive bool         `json:"isActive"`
}

// Snapshot is an immutable view of session state. It is recomputed on
// every change, never mutated in place.
type Snapshot struct {
	Sessions       []Entry      `json:"sessions"`
	ActiveID       id.SessionID `json:"activeId,omitempty"`
	MaxSessions    int          `json:"maxSessions"`
	AvailableSlots []int        `json:"availableSlots"`
}

// Manager owns the active-session pointer and validates operations
// against the last refreshed session list.
type Manager struct {
	log *logging.Logger

	mu       sync.Mutex
	max      int
	sessions []terminal.SessionInfo
	activeID id.SessionID
	onChange func(Snapshot)
}

// NewManager creates a state manager for the given session cap.
func NewManager(maxSessions int, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{log: log, max: maxSessions}
}

// SetOnChange registers the snapshot listener. At most one; the
// coordinator fans snapshots out from there.
func (m *Manager) SetOnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Refresh replaces the session list and re-derives invariants: available
// slots are recomputed, a dangling active pointer is cleared, and when no
// session is active but some exist, the first in list order is elected.
func (m *Manager) Refresh(sessions []terminal.SessionInfo) Snapshot {
	m.mu.Lock()
	m.sessions = make([]terminal.SessionInfo, len(sessions))
	copy(m.sessions, sessions)

	if m.activeID != "" && !m.containsLocked(m.activeID) {
		m.activeID = ""
	}
	if m.activeID == "" && len(m.sessions) > 0 {
		m.activeID = m.sessions[0].ID
	}

	snap := m.snapshotLocked()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return snap
}

// SetActive moves the active pointer. Exactly one session is active
// afterwards.
func (m *Manager) SetActive(sid id.SessionID) (Snapshot, error) {
	m.mu.Lock()
	if !m.containsLocked(sid) {
		m.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}
	m.activeID = sid
	snap := m.snapshotLocked()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return snap, nil
}

// ActiveID returns the current active session id, or "" when none.
func (m *Manager) ActiveID() id.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// ValidateCreate checks whether another session may be created.
func (m *Manager) ValidateCreate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.max {
		return ErrLimitReached
	}
	if len(m.availableSlotsLocked()) == 0 {
		return ErrNoSlotsAvailable
	}
	return nil
}

// ValidateDestroy checks that the session exists.
func (m *Manager) ValidateDestroy(sid id.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.containsLocked(sid) {
		return ErrNotFound
	}
	return nil
}

// Snapshot returns the current immutable view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Health reports advisory warnings: duplicate display names and an
// inconsistent active pointer. Non-fatal by design.
func (m *Manager) Health() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var warnings []string

	seen := make(map[string]int)
	for _, s := range m.sessions {
		seen[s.DisplayName]++
	}
	for name, n := range seen {
		if n > 1 {
			warnings = append(warnings, fmt.Sprintf("duplicate display name %q (%d sessions)", name, n))
		}
	}

	if m.activeID != "" && !m.containsLocked(m.activeID) {
		warnings = append(warnings, fmt.Sprintf("active pointer %s refers to no live session", m.activeID))
	}
	if m.activeID == "" && len(m.sessions) > 0 {
		warnings = append(warnings, "sessions exist but none is active")
	}

	for _, w := range warnings {
		m.log.Warn("state health", zap.String("warning", w))
	}
	return warnings
}

func (m *Manager) containsLocked(sid id.SessionID) bool {
	for _, s := range m.sessions {
		if s.ID == sid {
			return true
		}
	}
	return false
}

func (m *Manager) availableSlotsLocked() []int {
	used := make(map[int]bool, len(m.sessions))
	for _, s := range m.sessions {
		used[s.SlotNumber] = true
	}
	var free []int
	for n := 1; n <= m.max; n++ {
		if !used[n] {
			free = append(free, n)
		}
	}
	return free
}

func (m *Manager) snapshotLocked() Snapshot {
	entries := make([]Entry, len(m.sessions))
	for i, s := range m.sessions {
		entries[i] = Entry{
			ID:       s.ID,
			Name:     s.DisplayName,
			IsActive: s.ID == m.activeID,
		}
	}
	return Snapshot{
		Sessions:       entries,
		ActiveID:       m.activeID,
		MaxSessions:    m.max,
		AvailableSlots: m.availableSlotsLocked(),
	}
}
