package terminal

import (
	"sync"

	"github.com/openpane/termhost/internal/shared/id"
)

// EventKind identifies a lifecycle event type.
type EventKind int

const (
	// EventCreated fires after a session is spawned and registered.
	EventCreated EventKind = iota
	// EventRemoved fires after a caller-initiated destroy completes.
	EventRemoved
	// EventExited fires when the process exits on its own.
	EventExited
	// EventData fires for each output chunk, in per-session arrival order.
	EventData
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventRemoved:
		return "removed"
	case EventExited:
		return "exited"
	case EventData:
		return "data"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification. Data is only set for EventData;
// ExitCode is only meaningful for EventExited.
type Event struct {
	Kind      EventKind
	SessionID id.SessionID
	Data      []byte
	ExitCode  int
}

// Subscription is a handle to an event feed. Cancel is idempotent.
type Subscription struct {
	hub    *eventHub
	handle int
}

// Cancel removes the subscription from the hub.
func (s *Subscription) Cancel() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.remove(s.handle)
	s.hub = nil
}

// eventHub is an observer-list publisher. Dispatch is synchronous, so
// events published from a session's reader goroutine keep arrival order.
type eventHub struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]func(Event)
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]func(Event))}
}

func (h *eventHub) subscribe(fn func(Event)) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &Subscription{}
	}
	h.next++
	h.subs[h.next] = fn
	return &Subscription{hub: h, handle: h.next}
}

func (h *eventHub) remove(handle int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, handle)
}

func (h *eventHub) publish(ev Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[int]func(Event))
}
