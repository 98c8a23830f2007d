package listener

import (
	"encoding/json"
	"log/slog"
	"sync"
)

type binding struct {
	id ID
	h  Handler
}

// Table is the per-transport handler set. A transport's read loop calls
// Dispatch for every inbound event.
type Table struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]binding
}

// NewTable creates an empty Table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		logger:   logger,
		handlers: make(map[string][]binding),
	}
}

// Bind adds h for event.
func (t *Table) Bind(event string, id ID, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[event] = append(t.handlers[event], binding{id: id, h: h})
}

// Unbind removes the binding id for event.
func (t *Table) Unbind(event string, id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bs := t.handlers[event]
	for i, b := range bs {
		if b.id == id {
			bs = append(bs[:i:i], bs[i+1:]...)
			break
		}
	}
	if len(bs) == 0 {
		delete(t.handlers, event)
		return
	}
	t.handlers[event] = bs
}

// Len returns the number of handlers bound to event.
func (t *Table) Len(event string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers[event])
}

// Dispatch invokes every handler bound to event, in bind order, and returns
// how many ran. A panicking handler is logged and does not stop the others.
func (t *Table) Dispatch(event string, payload json.RawMessage) int {
	t.mu.RLock()
	bs := make([]binding, len(t.handlers[event]))
	copy(bs, t.handlers[event])
	t.mu.RUnlock()

	for _, b := range bs {
		t.invoke(event, b, payload)
	}
	return len(bs)
}

func (t *Table) invoke(event string, b binding, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("listener panicked", "event", event, "id", b.id, "panic", r)
		}
	}()
	b.h(payload)
}
