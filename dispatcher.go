package realtime

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handler receives an event's name and its data payload. Wildcard
// handlers see every event; exact-name handlers see only their own.
type Handler func(event string, data json.RawMessage)

// Subscription is the capability returned by Subscribe. Unsubscribe
// removes exactly the registration it was returned for.
type Subscription struct {
	event   string
	id      uint64
	removed atomic.Bool
	remove  func(*Subscription)
}

// Event returns the event name the subscription is registered for.
func (s *Subscription) Event() string { return s.event }

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.removed.CompareAndSwap(false, true) {
		return
	}
	if s.remove != nil {
		s.remove(s)
	}
}

type handlerEntry struct {
	sub     *Subscription
	handler Handler
}

type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   uint64
	logger   Logger
	metrics  *Metrics
}

func newDispatcher(logger Logger, metrics *Metrics) *dispatcher {
	return &dispatcher{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
		metrics:  metrics,
	}
}

func (d *dispatcher) subscribe(event string, h Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub := &Subscription{event: event, id: d.nextID, remove: d.unsubscribe}
	d.handlers[event] = append(d.handlers[event], handlerEntry{sub: sub, handler: h})
	return sub
}

func (d *dispatcher) unsubscribe(sub *Subscription) {
	sub.removed.Store(true)

	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.handlers[sub.event]
	for i, e := range entries {
		if e.sub != sub {
			continue
		}
		// Copy so that an in-progress dispatch keeps its snapshot intact.
		rest := make([]handlerEntry, 0, len(entries)-1)
		rest = append(rest, entries[:i]...)
		rest = append(rest, entries[i+1:]...)
		if len(rest) == 0 {
			delete(d.handlers, sub.event)
		} else {
			d.handlers[sub.event] = rest
		}
		return
	}
}

// dispatch delivers an incoming envelope to its exact-name handlers and
// then to the wildcard handlers.
func (d *dispatcher) dispatch(env Envelope) {
	d.trigger(env.Event, env.Data)
	if env.Event != EventWildcard {
		d.run(EventWildcard, env.Event, env.Data)
	}
}

// trigger invokes every handler registered for event. Handler panics
// are recovered and logged; they never reach the caller.
func (d *dispatcher) trigger(event string, data json.RawMessage) {
	d.run(event, event, data)
}

func (d *dispatcher) run(key, event string, data json.RawMessage) {
	d.mu.RLock()
	entries := d.handlers[key]
	d.mu.RUnlock()

	for _, e := range entries {
		if e.sub.removed.Load() {
			continue
		}
		d.invoke(e, event, data)
	}
}

func (d *dispatcher) invoke(e handlerEntry, event string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.handlerPanicked()
			d.logger.Error(CategoryDispatch, "handler panicked",
				"event", event,
				"subscription", e.sub.id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	e.handler(event, data)
}

// clear removes every handler and marks their subscriptions removed.
func (d *dispatcher) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entries := range d.handlers {
		for _, e := range entries {
			e.sub.removed.Store(true)
		}
	}
	d.handlers = make(map[string][]handlerEntry)
}
