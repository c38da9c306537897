package overlay

import "sync"

// SignalKind enumerates the observable events the core emits. Tests and
// diagnostics subscribe to these instead of parsing log lines.
type SignalKind string

const (
	SignalInitialized     SignalKind = "initialized"
	SignalMessageRouted    SignalKind = "message:routed"
	SignalRouteNotFound    SignalKind = "route:notfound"
	SignalMessageDelivered SignalKind = "message:delivered"
	SignalMessageExpired   SignalKind = "message:expired"
	SignalMessageMaxHops   SignalKind = "message:maxhops"
)

// Signal is one emitted event. Message carries an optional human-readable
// reason; Err is set only when the signal originates from a collaborator
// failure (e.g. a transport error translated into a route failure).
type Signal struct {
	Kind    SignalKind
	Peer    PeerId
	Message string
	Err     error
}

// signalBus is a minimal fan-out broadcaster: each subscriber gets its
// own buffered channel and a slow or absent reader never blocks emit.
type signalBus struct {
	mu   sync.RWMutex
	subs map[int]chan Signal
	next int
}

func newSignalBus() *signalBus {
	return &signalBus{subs: make(map[int]chan Signal)}
}

// Subscribe registers a new listener and returns a channel of future
// signals plus an unsubscribe function.
func (b *signalBus) Subscribe(buffer int) (<-chan Signal, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Signal, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
}

// emit broadcasts a signal to every current subscriber. A full channel
// drops the signal for that subscriber rather than blocking the actor.
func (b *signalBus) emit(s Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
