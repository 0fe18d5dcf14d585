package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/shared/id"
)

// Options configures the Manager. Zero values are filled with defaults.
type Options struct {
	MaxSessions  int
	DestroyGrace time.Duration
	Shell        string
	DefaultCols  int
	DefaultRows  int
}

// CreateOptions configures a single session.
type CreateOptions struct {
	Name       string
	WorkingDir string
	Shell      string
	Cols       int
	Rows       int
	Env        map[string]string
}

type destroyJob struct {
	sid    id.SessionID
	handle ProcessHandle
	done   chan struct{}
}

// Manager owns the session registry and every PTY process in it.
type Manager struct {
	opts    Options
	log     *logging.Logger
	spawner Spawner
	alloc   *NumberAllocator
	hub     *eventHub
	newID   func() id.SessionID

	mu       sync.Mutex
	sessions map[id.SessionID]*session
	order    []id.SessionID

	destroyCh chan destroyJob
	stopOnce  sync.Once
	stopped   chan struct{}
	wg        sync.WaitGroup
}

// NewManager creates a Manager and starts its destroy worker.
func NewManager(opts Options, spawner Spawner, log *logging.Logger) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 5
	}
	if opts.DestroyGrace <= 0 {
		opts.DestroyGrace = 150 * time.Millisecond
	}
	if opts.DefaultCols <= 0 {
		opts.DefaultCols = 80
	}
	if opts.DefaultRows <= 0 {
		opts.DefaultRows = 24
	}
	if log == nil {
		log = logging.NewNop()
	}

	m := &Manager{
		opts:      opts,
		log:       log,
		spawner:   spawner,
		alloc:     NewNumberAllocator(opts.MaxSessions),
		hub:       newEventHub(),
		newID:     id.NewSessionID,
		sessions:  make(map[id.SessionID]*session),
		destroyCh: make(chan destroyJob, 64),
		stopped:   make(chan struct{}),
	}

	m.wg.Add(1)
	go m.runDestroyQueue()

	return m
}

// Subscribe registers a lifecycle event listener. Dispatch is synchronous:
// per-session Data events arrive in output order.
func (m *Manager) Subscribe(fn func(Event)) *Subscription {
	return m.hub.subscribe(fn)
}

// MaxSessions returns the configured session limit.
func (m *Manager) MaxSessions() int {
	return m.opts.MaxSessions
}

// Create spawns a new session. The slot number is the smallest free
// integer in [1, max]; a failed spawn registers nothing, so the number
// stays available.
func (m *Manager) Create(opts CreateOptions) (SessionInfo, error) {
	m.mu.Lock()

	if len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		return SessionInfo{}, ErrResourceExhausted
	}

	inUse := make([]int, 0, len(m.sessions))
	for _, s := range m.sessions {
		inUse = append(inUse, s.slotNumber)
	}
	slot, ok := m.alloc.FindAvailable(inUse)
	if !ok {
		m.mu.Unlock()
		return SessionInfo{}, ErrNoSlotAvailable
	}

	sid := m.newID()

	shell := opts.Shell
	if shell == "" {
		shell = m.opts.Shell
	}
	cols := opts.Cols
	if cols <= 0 {
		cols = m.opts.DefaultCols
	}
	rows := opts.Rows
	if rows <= 0 {
		rows = m.opts.DefaultRows
	}

	handle, err := m.spawner.Spawn(
		SpawnOptions{
			Shell:      shell,
			WorkingDir: opts.WorkingDir,
			Cols:       cols,
			Rows:       rows,
			Env:        opts.Env,
		},
		Callbacks{
			OnData:  func(data []byte) { m.handleData(sid, data) },
			OnExit:  func(code int) { m.handleExit(sid, code) },
			OnError: func(err error) { m.handleError(sid, err) },
		},
	)
	if err != nil {
		m.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("spawn failed: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("Terminal %d", slot)
	}

	s := &session{
		id:          sid,
		slotNumber:  slot,
		displayName: name,
		workingDir:  opts.WorkingDir,
		shell:       shell,
		cols:        cols,
		rows:        rows,
		createdAt:   time.Now(),
		handle:      handle,
	}
	m.sessions[sid] = s
	m.order = append(m.order, sid)
	info := s.info()
	m.mu.Unlock()

	m.log.Info("session created",
		zap.String("session_id", sid.String()),
		zap.Int("slot", slot))
	m.hub.publish(Event{Kind: EventCreated, SessionID: sid})

	return info, nil
}

// Destroy tears a session down. Idempotent but not re-entrant: a second
// destroy while the first is in flight returns ErrAlreadyInProgress.
// All destroys run one at a time through the FIFO queue; the grace period
// between kill and purge is fixed and not cancellable. The ctx only bounds
// how long the caller waits, not the teardown itself.
func (m *Manager) Destroy(ctx context.Context, sid id.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if s.destroying {
		m.mu.Unlock()
		return ErrAlreadyInProgress
	}
	s.destroying = true
	handle := s.handle
	m.mu.Unlock()

	job := destroyJob{sid: sid, handle: handle, done: make(chan struct{})}
	select {
	case m.destroyCh <- job:
	case <-m.stopped:
		return ErrUnavailable
	}

	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runDestroyQueue() {
	defer m.wg.Done()
	for {
		select {
		case job := <-m.destroyCh:
			m.executeDestroy(job)
		case <-m.stopped:
			return
		}
	}
}

func (m *Manager) executeDestroy(job destroyJob) {
	defer close(job.done)

	if job.handle != nil {
		if err := job.handle.Kill(); err != nil {
			m.log.Warn("kill failed",
				zap.String("session_id", job.sid.String()),
				zap.Error(err))
		}
	}

	// Give the child a chance to exit before state is purged.
	time.Sleep(m.opts.DestroyGrace)

	if m.purge(job.sid) {
		m.hub.publish(Event{Kind: EventRemoved, SessionID: job.sid})
	}
}

// purge removes the registry entry. Returns false if something else
// already removed it.
func (m *Manager) purge(sid id.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sid]; !ok {
		return false
	}
	delete(m.sessions, sid)
	for i, other := range m.order {
		if other == sid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// handleExit purges on process-originated exit. If a destroy is mid-flight
// the destroy owns the cleanup and this is a no-op.
func (m *Manager) handleExit(sid id.SessionID, code int) {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	if !ok || s.destroying {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.purge(sid) {
		m.log.Info("session exited",
			zap.String("session_id", sid.String()),
			zap.Int("exit_code", code))
		m.hub.publish(Event{Kind: EventExited, SessionID: sid, ExitCode: code})
	}
}

func (m *Manager) handleData(sid id.SessionID, data []byte) {
	m.mu.Lock()
	_, ok := m.sessions[sid]
	m.mu.Unlock()
	if !ok {
		// Late output from a purged session.
		return
	}
	m.hub.publish(Event{Kind: EventData, SessionID: sid, Data: data})
}

func (m *Manager) handleError(sid id.SessionID, err error) {
	m.log.Warn("process error",
		zap.String("session_id", sid.String()),
		zap.Error(err))
}

// Write sends input to the session's process.
func (m *Manager) Write(sid id.SessionID, data []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	handle := s.handle
	m.mu.Unlock()

	if handle == nil {
		return ErrUnavailable
	}
	return handle.Write(data)
}

// Resize changes the session's terminal dimensions.
func (m *Manager) Resize(sid id.SessionID, cols, rows int) error {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	handle := s.handle
	if handle == nil {
		m.mu.Unlock()
		return ErrUnavailable
	}
	s.cols = cols
	s.rows = rows
	m.mu.Unlock()

	return handle.Resize(cols, rows)
}

// Get returns a copy of the session's state.
func (m *Manager) Get(sid id.SessionID) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	if !ok {
		return SessionInfo{}, ErrNotFound
	}
	return s.info(), nil
}

// List returns all live sessions in creation order.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]SessionInfo, 0, len(m.order))
	for _, sid := range m.order {
		if s, ok := m.sessions[sid]; ok {
			infos = append(infos, s.info())
		}
	}
	return infos
}

// Count returns the live session count.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close kills every session and stops the destroy worker. Events are not
// emitted for sessions torn down during shutdown.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		handles := make([]ProcessHandle, 0, len(m.sessions))
		for _, s := range m.sessions {
			if s.handle != nil {
				handles = append(handles, s.handle)
			}
		}
		m.sessions = make(map[id.SessionID]*session)
		m.order = nil
		m.mu.Unlock()

		for _, h := range handles {
			_ = h.Kill()
		}

		close(m.stopped)
		m.wg.Wait()
		m.hub.close()
	})
}
