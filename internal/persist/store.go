// Package persist snapshots the session list to disk, best effort.
//
// Snapshots exist so a restarted host can show the consumer what was
// running before; they are not durable state. Every failure here is
// logged and swallowed.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/terminal"
)

const snapshotFile = "sessions.json"

// Snapshot is the on-disk format.
type Snapshot struct {
	SavedAt  time.Time              `json:"savedAt"`
	Sessions []terminal.SessionInfo `json:"sessions"`
}

// Store writes session snapshots under one directory.
type Store struct {
	dir     string
	enabled bool
	log     *logging.Logger
	lister  func() []terminal.SessionInfo

	mu        sync.Mutex
	lastSaved time.Time
}

// NewStore creates a store. The lister supplies the current session list
// at save time so the store never holds session state of its own.
func NewStore(dir string, enabled bool, lister func() []terminal.SessionInfo, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	return &Store{dir: dir, enabled: enabled, log: log, lister: lister}
}

// SaveSessions writes the current session list. Atomic via temp+rename.
func (s *Store) SaveSessions() error {
	if !s.enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{SavedAt: time.Now(), Sessions: s.lister()}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(s.dir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	s.lastSaved = snap.SavedAt
	s.log.Debug("sessions saved",
		zap.Int("count", len(snap.Sessions)),
		zap.String("path", path))
	return nil
}

// RestoreSessions reads the last snapshot. A missing file is not an
// error: it returns an empty snapshot.
func (s *Store) RestoreSessions() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, nil
}

// LastSaved returns the time of the last successful save.
func (s *Store) LastSaved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}
