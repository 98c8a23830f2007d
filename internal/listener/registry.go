package listener

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handler receives the raw JSON payload of an event.
type Handler func(payload json.RawMessage)

// ID identifies a single registration. Go funcs are not comparable, so the ID
// returned by Subscribe stands in for the callback reference on Unsubscribe.
type ID string

// Binder is the transport side of a registration: something that can start
// and stop delivering an event to a handler.
type Binder interface {
	Bind(event string, id ID, h Handler)
	Unbind(event string, id ID)
}

// Entry is one (event, handler) registration.
type Entry struct {
	Event   string
	ID      ID
	Handler Handler
}

// Registry holds the connection-agnostic set of registrations.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []Entry // subscription order
	binder  Binder  // live transport, nil when disconnected
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Subscribe registers h for event and returns its ID. Duplicate handlers are
// allowed. If a transport is attached, h is bound to it immediately.
// An empty event name is ignored and the zero ID returned.
func (r *Registry) Subscribe(event string, h Handler) ID {
	if event == "" || h == nil {
		r.logger.Warn("ignoring subscription with empty event or nil handler", "event", event)
		return ""
	}

	id := ID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, Entry{Event: event, ID: id, Handler: h})
	if r.binder != nil {
		r.binder.Bind(event, id, h)
	}

	r.logger.Debug("listener subscribed", "event", event, "id", id)
	return id
}

// Unsubscribe removes the registration id for event, detaching it from the
// attached transport. Unknown registrations are a no-op.
func (r *Registry) Unsubscribe(event string, id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.Event != event || e.ID != id {
			continue
		}
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		if r.binder != nil {
			r.binder.Unbind(event, id)
		}
		r.logger.Debug("listener unsubscribed", "event", event, "id", id)
		return
	}
}

// Replay binds every registration onto b in subscription order and returns
// the number of registrations bound. It does not attach b.
func (r *Registry) Replay(b Binder) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replayLocked(b)
}

func (r *Registry) replayLocked(b Binder) int {
	for _, e := range r.entries {
		b.Bind(e.Event, e.ID, e.Handler)
	}
	return len(r.entries)
}

// Attach replays the registry onto b and makes b the live transport, so later
// Subscribe/Unsubscribe calls reach it directly.
func (r *Registry) Attach(b Binder) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.replayLocked(b)
	r.binder = b
	return n
}

// Detach clears the live transport if it is still b.
func (r *Registry) Detach(b Binder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.binder == b {
		r.binder = nil
	}
}

// Snapshot returns a copy of all registrations in subscription order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns the number of registrations for event.
func (r *Registry) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Len returns the total number of registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
