// Package events decouples the HTTP layer from the auth state holder: the
// REST client publishes session-expired without holding a reference to
// whoever reacts to it. The bus is owned by the composition root and injected
// into both sides; there is no package-level singleton.
package events

import "sync"

// Kind identifies the class of a cross-cutting event.
type Kind int

const (
	// KindSessionExpired is published when the backend answers 401 and the
	// stored credentials are no longer valid.
	KindSessionExpired Kind = iota
	// KindConnectivityChanged is published when a socket session changes
	// between connected and disconnected, for the reconnecting indicator.
	KindConnectivityChanged
)

// Event is a broadcast notification. Payload semantics depend on Kind.
type Event struct {
	Kind    Kind
	Message string
	// Online is meaningful for KindConnectivityChanged only.
	Online bool
}

// Bus is a minimal synchronous pub/sub. Handlers run on the publisher's
// goroutine and must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int64]func(Event))}
}

// Subscribe registers a handler and returns its cancel function. Cancel is
// idempotent.
func (b *Bus) Subscribe(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers the event to every current subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}
