package engine

import (
	"sync"
	"time"
)

type EventType int

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type Handler func(Event)

type registration struct {
	id int
	fn Handler
}

// EventBus fans events out synchronously. Handlers registered for a type
// run in registration order, after any catch-all handlers; none may block.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	all    []registration
	byType map[EventType][]registration
}

func NewEventBus() *EventBus {
	return &EventBus{byType: make(map[EventType][]registration)}
}

// On registers a handler for the given event types, or for every event
// when no types are named. The returned function removes the handler.
func (eb *EventBus) On(fn Handler, types ...EventType) (off func()) {
	eb.mu.Lock()
	eb.nextID++
	reg := registration{id: eb.nextID, fn: fn}
	if len(types) == 0 {
		eb.all = append(eb.all, reg)
	} else {
		for _, t := range types {
			eb.byType[t] = append(eb.byType[t], reg)
		}
	}
	eb.mu.Unlock()

	id := reg.id
	return func() { eb.remove(id) }
}

func (eb *EventBus) remove(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.all = without(eb.all, id)
	for t, regs := range eb.byType {
		eb.byType[t] = without(regs, id)
	}
}

func without(regs []registration, id int) []registration {
	var out []registration
	for _, r := range regs {
		if r.id != id {
			out = append(out, r)
		}
	}
	return out
}

// Emit delivers the event to every matching handler. A zero timestamp is
// filled with the current time.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]Handler, 0, len(eb.all)+len(eb.byType[evt.Type]))
	for _, r := range eb.all {
		handlers = append(handlers, r.fn)
	}
	for _, r := range eb.byType[evt.Type] {
		handlers = append(handlers, r.fn)
	}
	eb.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}
