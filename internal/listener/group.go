package listener

import "sync"

// Subscriber is implemented by Registry and by the Connection Manager.
type Subscriber interface {
	Subscribe(event string, h Handler) ID
	Unsubscribe(event string, id ID)
}

// Group tracks subscriptions made on one Subscriber so a component can drop
// all of them at teardown.
type Group struct {
	sub Subscriber

	mu      sync.Mutex
	entries []Entry
}

// NewGroup returns an empty group bound to sub.
func NewGroup(sub Subscriber) *Group {
	return &Group{sub: sub}
}

// Add subscribes h for event and remembers the handle.
func (g *Group) Add(event string, h Handler) ID {
	id := g.sub.Subscribe(event, h)
	if id == "" {
		return ""
	}

	g.mu.Lock()
	g.entries = append(g.entries, Entry{Event: event, ID: id, Handler: h})
	g.mu.Unlock()
	return id
}

// Close unsubscribes everything added so far. The group can be reused.
func (g *Group) Close() {
	g.mu.Lock()
	entries := g.entries
	g.entries = nil
	g.mu.Unlock()

	for _, e := range entries {
		g.sub.Unsubscribe(e.Event, e.ID)
	}
}

// Len returns the number of live subscriptions in the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
