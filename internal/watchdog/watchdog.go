// Package watchdog retries the session initialization handshake.
//
// Between "session created" and "consumer acknowledged" nothing guarantees
// the handshake completes; the watchdog re-fires a caller-supplied callback
// at exponentially increasing intervals until the caller stops it or the
// attempt budget is exhausted. After the final attempt the caller is
// expected to surface a user-visible failure instead of retrying forever.
package watchdog

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/shared/id"
)

// Options tunes the retry schedule. Zero fields fall back to defaults.
type Options struct {
	InitialDelay  time.Duration
	MaxAttempts   int
	BackoffFactor float64
	DelayCeiling  time.Duration
}

// DefaultOptions returns the standard schedule: 700ms initial delay,
// factor 2, capped at 6s, at most 4 attempts.
func DefaultOptions() Options {
	return Options{
		InitialDelay:  700 * time.Millisecond,
		MaxAttempts:   4,
		BackoffFactor: 2,
		DelayCeiling:  6 * time.Second,
	}
}

func (o Options) merged(defaults Options) Options {
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaults.InitialDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaults.MaxAttempts
	}
	if o.BackoffFactor <= 1 {
		o.BackoffFactor = defaults.BackoffFactor
	}
	if o.DelayCeiling <= 0 {
		o.DelayCeiling = defaults.DelayCeiling
	}
	return o
}

// Attempt describes one callback invocation.
type Attempt struct {
	Attempt int
	IsFinal bool
}

// Callback is invoked on each timer fire. Panics are deliberately not
// recovered here: a failing callback is a consumer-side bug the caller
// must own.
type Callback func(sid id.SessionID, a Attempt)

type entry struct {
	attempt int
	delay   time.Duration
	opts    Options
	timer   *clock.Timer
}

// Watchdog holds one retry state machine per session.
type Watchdog struct {
	clk      clock.Clock
	log      *logging.Logger
	defaults Options
	cb       Callback

	mu       sync.Mutex
	entries  map[id.SessionID]*entry
	disposed bool
}

// New creates a watchdog. Pass clock.New() in production and
// clock.NewMock() in tests.
func New(defaults Options, cb Callback, clk clock.Clock, log *logging.Logger) *Watchdog {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Watchdog{
		clk:      clk,
		log:      log,
		defaults: defaults.merged(DefaultOptions()),
		cb:       cb,
		entries:  make(map[id.SessionID]*entry),
	}
}

// Start arms the watchdog for a session. An existing entry for the same
// session is cancelled first, so Start doubles as an idempotent restart.
func (w *Watchdog) Start(sid id.SessionID, reason string, overrides Options) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}

	if existing, ok := w.entries[sid]; ok {
		existing.timer.Stop()
		delete(w.entries, sid)
	}

	opts := overrides.merged(w.defaults)
	e := &entry{delay: opts.InitialDelay, opts: opts}
	e.timer = w.clk.AfterFunc(opts.InitialDelay, func() { w.fire(sid) })
	w.entries[sid] = e

	w.log.Debug("watchdog armed",
		zap.String("session_id", sid.String()),
		zap.String("reason", reason),
		zap.Duration("initial_delay", opts.InitialDelay))
}

// Stop cancels the pending timer for a session. No-op when absent.
func (w *Watchdog) Stop(sid id.SessionID, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[sid]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(w.entries, sid)

	w.log.Debug("watchdog stopped",
		zap.String("session_id", sid.String()),
		zap.String("reason", reason))
}

// Active reports whether a watchdog entry exists for the session.
func (w *Watchdog) Active(sid id.SessionID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[sid]
	return ok
}

// Dispose cancels and discards every entry.
func (w *Watchdog) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for sid, e := range w.entries {
		e.timer.Stop()
		delete(w.entries, sid)
	}
	w.disposed = true
}

func (w *Watchdog) fire(sid id.SessionID) {
	w.mu.Lock()
	e, ok := w.entries[sid]
	if !ok || w.disposed {
		w.mu.Unlock()
		return
	}

	e.attempt++
	attempt := Attempt{Attempt: e.attempt, IsFinal: e.attempt >= e.opts.MaxAttempts}

	if attempt.IsFinal {
		delete(w.entries, sid)
	} else {
		next := time.Duration(float64(e.delay) * e.opts.BackoffFactor)
		if next > e.opts.DelayCeiling {
			next = e.opts.DelayCeiling
		}
		e.delay = next
		e.timer = w.clk.AfterFunc(next, func() { w.fire(sid) })
	}
	cb := w.cb
	w.mu.Unlock()

	w.log.Debug("watchdog fired",
		zap.String("session_id", sid.String()),
		zap.Int("attempt", attempt.Attempt),
		zap.Bool("final", attempt.IsFinal))

	if cb != nil {
		cb(sid, attempt)
	}
}
