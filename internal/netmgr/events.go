package netmgr

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind enumerates the local events emitted by the Manager.
type EventKind int

const (
	// EventRequest fires when a request starts (after correlation).
	EventRequest EventKind = iota
	// EventResponse fires when response headers are available.
	EventResponse
	// EventRequestFinished fires when a request completes, including the
	// close-out of a redirect hop.
	EventRequestFinished
	// EventRequestFailed fires when loading fails.
	EventRequestFailed
	// EventIdle fires once when an idle watcher declares network idle.
	EventIdle
)

type busListener struct {
	kind EventKind
	fn   func(any)
}

// eventBus fans local events out to registered listeners. Listener callbacks
// run synchronously on the emitting goroutine, which for protocol events is
// the single dispatch goroutine.
type eventBus struct {
	mu        sync.Mutex
	listeners map[string]busListener
}

func newEventBus() *eventBus {
	return &eventBus{listeners: make(map[string]busListener)}
}

func (b *eventBus) on(kind EventKind, fn func(any)) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.listeners[id] = busListener{kind: kind, fn: fn}
	b.mu.Unlock()
	return id
}

func (b *eventBus) off(id string) {
	b.mu.Lock()
	delete(b.listeners, id)
	b.mu.Unlock()
}

func (b *eventBus) emit(kind EventKind, payload any) {
	b.mu.Lock()
	fns := make([]func(any), 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.kind == kind {
			fns = append(fns, l.fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

// On registers a listener for kind and returns a registration id for Off.
func (m *Manager) On(kind EventKind, fn func(any)) string { return m.bus.on(kind, fn) }

// Off removes a listener registration.
func (m *Manager) Off(id string) { m.bus.off(id) }

// OnRequest registers a typed listener for EventRequest.
func (m *Manager) OnRequest(fn func(*Request)) string {
	return m.bus.on(EventRequest, func(v any) { fn(v.(*Request)) })
}

// OnResponse registers a typed listener for EventResponse.
func (m *Manager) OnResponse(fn func(*Response)) string {
	return m.bus.on(EventResponse, func(v any) { fn(v.(*Response)) })
}

// OnRequestFinished registers a typed listener for EventRequestFinished.
func (m *Manager) OnRequestFinished(fn func(*Request)) string {
	return m.bus.on(EventRequestFinished, func(v any) { fn(v.(*Request)) })
}

// OnRequestFailed registers a typed listener for EventRequestFailed.
func (m *Manager) OnRequestFailed(fn func(*Request)) string {
	return m.bus.on(EventRequestFailed, func(v any) { fn(v.(*Request)) })
}
