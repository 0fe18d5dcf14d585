package coordinator

import (
	"bytes"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/monitoring"
	"github.com/openpane/termhost/internal/protocol"
	"github.com/openpane/termhost/internal/shared/id"
	"github.com/openpane/termhost/internal/state"
	"github.com/openpane/termhost/internal/terminal"
	"github.com/openpane/termhost/internal/watchdog"
)

// Transport delivers envelopes to the presentation layer. Sends are
// fire-and-forget from the coordinator's point of view: errors are
// logged, never fatal.
type Transport interface {
	SendMessage(msg protocol.Message) error
}

// Persister saves session state opportunistically. Best effort only.
type Persister interface {
	SaveSessions() error
}

// EventSource is the slice of the terminal manager the coordinator needs.
type EventSource interface {
	Subscribe(fn func(terminal.Event)) *terminal.Subscription
}

// Coordinator converts lifecycle events into consumer messages and owns
// the id remapping table, the pending output buffers, and the
// initialization watchdog.
type Coordinator struct {
	log       *logging.Logger
	transport Transport
	persister Persister
	source    EventSource
	allowed   func(id.SessionID) bool
	metrics   *monitoring.Metrics
	wd        *watchdog.Watchdog

	mu      sync.Mutex
	remap   map[id.SessionID]string
	pending map[id.SessionID][][]byte
	nextID  string
	subs    []*terminal.Subscription
}

// Config wires the coordinator's collaborators.
type Config struct {
	Transport Transport
	Persister Persister
	Source    EventSource
	// OutputAllowed gates Data delivery per session. Until it returns
	// true, output is buffered.
	OutputAllowed func(id.SessionID) bool
	Watchdog      watchdog.Options
	Clock         clock.Clock
	Logger        *logging.Logger
	Metrics       *monitoring.Metrics
}

// New creates a coordinator. Call Bind to start consuming events.
func New(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	allowed := cfg.OutputAllowed
	if allowed == nil {
		allowed = func(id.SessionID) bool { return true }
	}

	c := &Coordinator{
		log:       log,
		transport: cfg.Transport,
		persister: cfg.Persister,
		source:    cfg.Source,
		allowed:   allowed,
		metrics:   cfg.Metrics,
		remap:     make(map[id.SessionID]string),
		pending:   make(map[id.SessionID][][]byte),
	}
	c.wd = watchdog.New(cfg.Watchdog, c.onWatchdogAttempt, cfg.Clock, log.Named("watchdog"))
	return c
}

// Bind subscribes to the event source. Idempotent: re-binding tears down
// existing subscriptions first, so reconnect cycles never double-deliver.
func (c *Coordinator) Bind() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}

	sub := c.source.Subscribe(c.handleEvent)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

// Close cancels subscriptions and the watchdog.
func (c *Coordinator) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	c.wd.Dispose()
}

// SetConsumerID retargets a session to a consumer-facing id. Used when
// the presentation layer reconnects with its own id space.
func (c *Coordinator) SetConsumerID(sid id.SessionID, consumerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remap[sid] = consumerID
}

// ExpectConsumerID stages a consumer-supplied id for the next session
// creation. The staged id is claimed by the first Created event, so the
// announcement already carries the consumer's id. Callers create the
// session synchronously after staging.
func (c *Coordinator) ExpectConsumerID(consumerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID = consumerID
}

// ClearMappings drops the whole remapping table. Called on reconnect
// before the consumer re-registers its ids.
func (c *Coordinator) ClearMappings() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remap = make(map[id.SessionID]string)
	c.nextID = ""
}

// Acknowledge records the consumer handshake for a session: the watchdog
// stops and any buffered output is flushed.
func (c *Coordinator) Acknowledge(sid id.SessionID) {
	c.wd.Stop(sid, "acknowledged")
	c.FlushBufferedOutput(sid)
}

// FlushBufferedOutput drains the session's pending buffer as one
// concatenated send. No-op if nothing is buffered.
func (c *Coordinator) FlushBufferedOutput(sid id.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked(sid)
}

// RelayFocus forwards a focus change to the consumer.
func (c *Coordinator) RelayFocus(sid id.SessionID) {
	c.mu.Lock()
	target := c.targetLocked(sid)
	c.mu.Unlock()
	c.send(protocol.Message{Command: protocol.CommandFocus, SessionID: target})
}

// RelaySnapshot forwards a state snapshot to the consumer. Wire this to
// state.Manager.SetOnChange.
func (c *Coordinator) RelaySnapshot(snap state.Snapshot) {
	c.send(protocol.Message{Command: protocol.CommandStateUpdate, State: &snap})
}

func (c *Coordinator) handleEvent(ev terminal.Event) {
	switch ev.Kind {
	case terminal.EventCreated:
		c.handleCreated(ev.SessionID)
	case terminal.EventRemoved:
		c.handleRemoved(ev.SessionID)
	case terminal.EventExited:
		c.handleExited(ev.SessionID, ev.ExitCode)
	case terminal.EventData:
		c.handleData(ev.SessionID, ev.Data)
	}
}

func (c *Coordinator) handleCreated(sid id.SessionID) {
	c.mu.Lock()
	if c.nextID != "" {
		c.remap[sid] = c.nextID
		c.nextID = ""
	}
	target := c.targetLocked(sid)
	c.mu.Unlock()

	c.send(protocol.Message{Command: protocol.CommandCreated, SessionID: target})
	c.wd.Start(sid, "created", watchdog.Options{})
	c.persist("create")
}

func (c *Coordinator) handleRemoved(sid id.SessionID) {
	c.wd.Stop(sid, "removed")

	c.mu.Lock()
	target := c.targetLocked(sid)
	c.dropPendingLocked(sid)
	delete(c.remap, sid)
	c.mu.Unlock()

	c.send(protocol.Message{Command: protocol.CommandRemoved, SessionID: target})
	c.persist("remove")
}

func (c *Coordinator) handleExited(sid id.SessionID, code int) {
	c.wd.Stop(sid, "exited")

	c.mu.Lock()
	target := c.targetLocked(sid)
	c.dropPendingLocked(sid)
	delete(c.remap, sid)
	c.mu.Unlock()

	exitCode := code
	c.send(protocol.Message{Command: protocol.CommandExited, SessionID: target, ExitCode: &exitCode})
	c.persist("exit")
}

// handleData delivers or buffers one output chunk. The mutex is held
// across the send so a buffered prefix always reaches the transport
// before any later chunk.
func (c *Coordinator) handleData(sid id.SessionID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.allowed(sid) {
		chunk := make([]byte, len(data))
		copy(chunk, data)
		c.pending[sid] = append(c.pending[sid], chunk)
		if c.metrics != nil {
			c.metrics.BufferedChunks.Inc()
		}
		return
	}

	c.flushLocked(sid)
	if c.metrics != nil {
		c.metrics.OutputBytes.Add(float64(len(data)))
	}
	c.send(protocol.Message{
		Command:   protocol.CommandOutput,
		SessionID: c.targetLocked(sid),
		Data:      string(data),
	})
}

func (c *Coordinator) dropPendingLocked(sid id.SessionID) {
	if chunks := c.pending[sid]; len(chunks) > 0 && c.metrics != nil {
		c.metrics.BufferedChunks.Sub(float64(len(chunks)))
	}
	delete(c.pending, sid)
}

func (c *Coordinator) flushLocked(sid id.SessionID) {
	chunks, ok := c.pending[sid]
	if !ok || len(chunks) == 0 {
		delete(c.pending, sid)
		return
	}
	delete(c.pending, sid)

	joined := bytes.Join(chunks, nil)
	if c.metrics != nil {
		c.metrics.BufferedChunks.Sub(float64(len(chunks)))
		c.metrics.BufferFlushes.Inc()
		c.metrics.OutputBytes.Add(float64(len(joined)))
	}
	c.send(protocol.Message{
		Command:   protocol.CommandOutput,
		SessionID: c.targetLocked(sid),
		Data:      string(joined),
	})
}

// onWatchdogAttempt re-announces creation; the final attempt surfaces a
// one-time initialization failure instead.
func (c *Coordinator) onWatchdogAttempt(sid id.SessionID, a watchdog.Attempt) {
	c.mu.Lock()
	target := c.targetLocked(sid)
	c.mu.Unlock()

	if a.IsFinal {
		c.log.Warn("initialization handshake exhausted",
			zap.String("session_id", sid.String()),
			zap.Int("attempts", a.Attempt))
		if c.metrics != nil {
			c.metrics.WatchdogExhaustions.Inc()
		}
		c.send(protocol.Message{Command: protocol.CommandInitFailed, SessionID: target})
		return
	}
	if c.metrics != nil {
		c.metrics.WatchdogRetries.Inc()
	}
	c.send(protocol.Message{Command: protocol.CommandCreated, SessionID: target})
}

func (c *Coordinator) targetLocked(sid id.SessionID) string {
	if mapped, ok := c.remap[sid]; ok {
		return mapped
	}
	return sid.String()
}

func (c *Coordinator) send(msg protocol.Message) {
	if c.transport == nil {
		return
	}
	if err := c.transport.SendMessage(msg); err != nil {
		c.log.Warn("send failed",
			zap.String("command", msg.Command),
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
	}
}

func (c *Coordinator) persist(reason string) {
	if c.persister == nil {
		return
	}
	go func() {
		if err := c.persister.SaveSessions(); err != nil {
			c.log.Warn("session persistence failed",
				zap.String("reason", reason),
				zap.Error(err))
		}
	}()
}
