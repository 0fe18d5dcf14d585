package coordinator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpane/termhost/internal/protocol"
	"github.com/openpane/termhost/internal/shared/id"
	"github.com/openpane/termhost/internal/state"
	"github.com/openpane/termhost/internal/terminal"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []protocol.Message
	err      error
}

func (t *fakeTransport) SendMessage(msg protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.messages = append(t.messages, msg)
	return nil
}

func (t *fakeTransport) all() []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *fakeTransport) byCommand(cmd string) []protocol.Message {
	var out []protocol.Message
	for _, m := range t.all() {
		if m.Command == cmd {
			out = append(out, m)
		}
	}
	return out
}

type fakePersister struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakePersister) SaveSessions() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakePersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeHandle struct {
	cb terminal.Callbacks
}

func (h *fakeHandle) Write(data []byte) error     { return nil }
func (h *fakeHandle) Resize(cols, rows int) error { return nil }
func (h *fakeHandle) Kill() error                 { return nil }

type fakeSpawner struct {
	mu      sync.Mutex
	handles []*fakeHandle
}

func (s *fakeSpawner) Spawn(opts terminal.SpawnOptions, cb terminal.Callbacks) (terminal.ProcessHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &fakeHandle{cb: cb}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSpawner) last() *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[len(s.handles)-1]
}

// gate is a test stand-in for the consumer-readiness predicate.
type gate struct {
	mu   sync.Mutex
	open map[id.SessionID]bool
}

func newGate() *gate {
	return &gate{open: make(map[id.SessionID]bool)}
}

func (g *gate) allow(sid id.SessionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open[sid] = true
}

func (g *gate) allowed(sid id.SessionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open[sid]
}

type fixture struct {
	mgr       *terminal.Manager
	spawner   *fakeSpawner
	transport *fakeTransport
	persister *fakePersister
	gate      *gate
	clk       *clock.Mock
	coord     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	spawner := &fakeSpawner{}
	mgr := terminal.NewManager(terminal.Options{
		MaxSessions:  5,
		DestroyGrace: time.Millisecond,
	}, spawner, nil)
	t.Cleanup(mgr.Close)

	f := &fixture{
		mgr:       mgr,
		spawner:   spawner,
		transport: &fakeTransport{},
		persister: &fakePersister{},
		gate:      newGate(),
		clk:       clock.NewMock(),
	}
	f.coord = New(Config{
		Transport:     f.transport,
		Persister:     f.persister,
		Source:        mgr,
		OutputAllowed: f.gate.allowed,
		Clock:         f.clk,
	})
	f.coord.Bind()
	t.Cleanup(f.coord.Close)
	return f
}

func (f *fixture) create(t *testing.T) terminal.SessionInfo {
	t.Helper()
	info, err := f.mgr.Create(terminal.CreateOptions{})
	require.NoError(t, err)
	return info
}

func TestCoordinator_Created_ForwardsAndArmsWatchdog(t *testing.T) {
	f := newFixture(t)

	info := f.create(t)

	created := f.transport.byCommand(protocol.CommandCreated)
	require.Len(t, created, 1)
	assert.Equal(t, info.ID.String(), created[0].SessionID)

	// Unacknowledged handshake: the watchdog re-announces.
	f.clk.Add(700 * time.Millisecond)
	assert.Len(t, f.transport.byCommand(protocol.CommandCreated), 2)
}

func TestCoordinator_WatchdogExhaustion_SignalsInitFailed(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	// Attempts at 700, 1400, 2800, 5600ms; the last one is final.
	for _, d := range []time.Duration{700, 1400, 2800, 5600} {
		f.clk.Add(d * time.Millisecond)
	}

	assert.Len(t, f.transport.byCommand(protocol.CommandInitFailed), 1)
	// Re-announces happened for the non-final attempts only.
	assert.Len(t, f.transport.byCommand(protocol.CommandCreated), 4)

	f.clk.Add(time.Hour)
	assert.Len(t, f.transport.byCommand(protocol.CommandInitFailed), 1, "failure signal is one-time")
}

func TestCoordinator_Acknowledge_StopsWatchdog(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)

	f.gate.allow(info.ID)
	f.coord.Acknowledge(info.ID)

	f.clk.Add(time.Hour)
	assert.Len(t, f.transport.byCommand(protocol.CommandCreated), 1)
	assert.Empty(t, f.transport.byCommand(protocol.CommandInitFailed))
}

func TestCoordinator_GatedOutput_BufferedThenFlushedInOrder(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)
	handle := f.spawner.last()

	handle.cb.OnData([]byte("chunk-a"))
	handle.cb.OnData([]byte("chunk-b"))
	assert.Empty(t, f.transport.byCommand(protocol.CommandOutput), "gated output stays buffered")

	f.gate.allow(info.ID)
	handle.cb.OnData([]byte("chunk-c"))

	out := f.transport.byCommand(protocol.CommandOutput)
	require.Len(t, out, 2)
	assert.Equal(t, "chunk-achunk-b", out[0].Data, "buffered prefix is one concatenated send")
	assert.Equal(t, "chunk-c", out[1].Data)
}

func TestCoordinator_FlushBufferedOutput_Explicit(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)
	handle := f.spawner.last()

	handle.cb.OnData([]byte("early"))
	f.gate.allow(info.ID)
	f.coord.FlushBufferedOutput(info.ID)

	out := f.transport.byCommand(protocol.CommandOutput)
	require.Len(t, out, 1)
	assert.Equal(t, "early", out[0].Data)

	// No buffer: no-op.
	f.coord.FlushBufferedOutput(info.ID)
	assert.Len(t, f.transport.byCommand(protocol.CommandOutput), 1)
}

func TestCoordinator_UngatedOutput_PassesThrough(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)
	f.gate.allow(info.ID)

	f.spawner.last().cb.OnData([]byte("hello"))

	out := f.transport.byCommand(protocol.CommandOutput)
	require.Len(t, out, 1)
	assert.Equal(t, "hello", out[0].Data)
	assert.Equal(t, info.ID.String(), out[0].SessionID)
}

func TestCoordinator_Removed_CleansUp(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)
	f.coord.SetConsumerID(info.ID, "term-7")
	f.spawner.last().cb.OnData([]byte("pending"))

	require.NoError(t, f.mgr.Destroy(t.Context(), info.ID))

	removed := f.transport.byCommand(protocol.CommandRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, "term-7", removed[0].SessionID)

	// Buffer cleared with the session; a late flush sends nothing.
	f.gate.allow(info.ID)
	f.coord.FlushBufferedOutput(info.ID)
	assert.Empty(t, f.transport.byCommand(protocol.CommandOutput))

	// Watchdog stopped with the session.
	f.clk.Add(time.Hour)
	assert.Len(t, f.transport.byCommand(protocol.CommandCreated), 1)
}

func TestCoordinator_Exited_ForwardsExitCode(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	f.spawner.last().cb.OnExit(137)

	exited := f.transport.byCommand(protocol.CommandExited)
	require.Len(t, exited, 1)
	require.NotNil(t, exited[0].ExitCode)
	assert.Equal(t, 137, *exited[0].ExitCode)
}

func TestCoordinator_Remapping(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)
	f.gate.allow(info.ID)

	f.coord.SetConsumerID(info.ID, "webview-3")
	f.spawner.last().cb.OnData([]byte("x"))

	out := f.transport.byCommand(protocol.CommandOutput)
	require.Len(t, out, 1)
	assert.Equal(t, "webview-3", out[0].SessionID)

	f.coord.ClearMappings()
	f.spawner.last().cb.OnData([]byte("y"))
	out = f.transport.byCommand(protocol.CommandOutput)
	require.Len(t, out, 2)
	assert.Equal(t, info.ID.String(), out[1].SessionID)
}

func TestCoordinator_ExpectConsumerID_ClaimedByNextCreation(t *testing.T) {
	f := newFixture(t)

	f.coord.ExpectConsumerID("pane-1")
	info := f.create(t)

	created := f.transport.byCommand(protocol.CommandCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "pane-1", created[0].SessionID)

	// Staged id is consumed: a second creation announces its own id.
	second := f.create(t)
	created = f.transport.byCommand(protocol.CommandCreated)
	require.Len(t, created, 2)
	assert.Equal(t, second.ID.String(), created[1].SessionID)
	assert.NotEqual(t, info.ID, second.ID)
}

func TestCoordinator_Bind_Idempotent(t *testing.T) {
	f := newFixture(t)

	f.coord.Bind()
	f.coord.Bind()

	f.create(t)
	assert.Len(t, f.transport.byCommand(protocol.CommandCreated), 1, "no duplicate delivery after re-bind")
}

func TestCoordinator_Persistence_BestEffort(t *testing.T) {
	f := newFixture(t)
	f.persister.err = errors.New("disk full")

	f.create(t)

	require.Eventually(t, func() bool {
		return f.persister.count() >= 1
	}, time.Second, 5*time.Millisecond)

	// A failing persister never breaks delivery.
	assert.Len(t, f.transport.byCommand(protocol.CommandCreated), 1)
}

func TestCoordinator_TransportFailure_IsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.transport.mu.Lock()
	f.transport.err = errors.New("consumer gone")
	f.transport.mu.Unlock()

	info := f.create(t)

	f.transport.mu.Lock()
	f.transport.err = nil
	f.transport.mu.Unlock()

	// The coordinator keeps working for subsequent events.
	f.gate.allow(info.ID)
	f.spawner.last().cb.OnData([]byte("still alive"))
	assert.Len(t, f.transport.byCommand(protocol.CommandOutput), 1)
}

func TestCoordinator_RelaySnapshotAndFocus(t *testing.T) {
	f := newFixture(t)
	info := f.create(t)

	f.coord.RelaySnapshot(state.Snapshot{ActiveID: info.ID, MaxSessions: 5})
	f.coord.RelayFocus(info.ID)

	updates := f.transport.byCommand(protocol.CommandStateUpdate)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].State)
	assert.Equal(t, info.ID, updates[0].State.ActiveID)

	focus := f.transport.byCommand(protocol.CommandFocus)
	require.Len(t, focus, 1)
	assert.Equal(t, info.ID.String(), focus[0].SessionID)
}
