// Package event implements a narrow event dispatcher: not a general pub/sub
// system, only the two delivery shapes the host/device state machines need,
// plus the bounded ISR-to-poll-loop queue used to defer interrupt-context
// work onto the cooperative poll loop.
package event

import (
	"sync"

	"github.com/ramseymcgrath/Hurricane/wire"
)

// Handler receives fire-and-forget notifications (attach, detach,
// interface-enabled, interface-disabled).
type Handler func(ev wire.Event)

// ControlHandler is the interface-owning handler invoked by
// NotifyWithResponse. It mirrors registry.ControlHandlerFunc but is
// expressed locally so this package does not import registry.
type ControlHandler func(setup wire.SetupPacket, data []byte, respond func(n int, stall bool)) (handled bool)

// Bus is a coarse-locked dispatcher: re-entrant delivery is forbidden, the
// bus holds its lock across a dispatch, and handlers must not call back into
// the bus.
type Bus struct {
	mu       sync.Mutex
	handlers map[wire.EventKind]Handler
}

// New returns an empty event bus.
func New() *Bus {
	return &Bus{handlers: make(map[wire.EventKind]Handler)}
}

// Subscribe installs the single handler invoked for events of kind. A
// second Subscribe for the same kind replaces the first one, consistent
// with "invokes at most one matching handler."
func (b *Bus) Subscribe(kind wire.EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = h
}

// Notify delivers a fire-and-forget event to its subscriber, if any.
func (b *Bus) Notify(ev wire.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.handlers[ev.Kind]
	if h != nil {
		h(ev)
	}
}

// NotifyWithResponse invokes the interface's control handler while holding
// the bus lock, and returns whatever the handler returns: true if it
// answered synchronously, false if it retained respond for later
// (asynchronous) invocation. The caller (device dispatcher) owns the
// pending-request bookkeeping; the bus only serializes dispatch.
func (b *Bus) NotifyWithResponse(setup wire.SetupPacket, data []byte, handler ControlHandler, respond func(n int, stall bool)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return handler(setup, data, respond)
}
