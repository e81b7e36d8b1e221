// Package fanout broadcasts push envelopes to every registered listener.
package fanout

import (
	"sync"

	"github.com/prompt-enhancer/bridge/internal/model"
)

// Listener receives a push envelope. Listeners run synchronously on the
// publishing goroutine, so delivery order matches publish order; a listener
// must not block.
type Listener func(env model.Envelope)

type subscription struct {
	id int
	fn Listener
}

// Broadcaster forwards every published envelope to all current subscribers in
// subscription order. Subscribers distinguish relevance by the session ID
// carried in the envelope; the broadcaster itself does no filtering.
type Broadcaster struct {
	// deliverMu serializes publishers so no subscriber sees interleaved
	// event order.
	deliverMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   []subscription
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers the listener and returns a function that deregisters
// exactly this listener. Deregistering one subscriber does not affect others,
// and the returned function is safe to call more than once.
func (b *Broadcaster) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the envelope to every subscriber. Events are forwarded in
// the order received; there is no buffering beyond immediate dispatch.
// Delivery runs on a snapshot of the subscriber list taken outside the
// subscription lock, so a listener may unsubscribe itself or add new
// listeners from inside its callback. A listener removed mid-dispatch still
// receives the in-flight envelope; new listeners start with the next one.
func (b *Broadcaster) Publish(env model.Envelope) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fn(env)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
