package relay

import (
	"sync"

	"github.com/prompt-enhancer/bridge/internal/model"
)

// waiterKey identifies which response envelopes can resolve a pending call.
// Node-data calls additionally match on the node name so that concurrent
// calls for different nodes cannot steal each other's responses.
type waiterKey struct {
	success  model.EnvelopeType
	failure  model.EnvelopeType
	nodeName string
}

// waiter is one outstanding call. The channel is buffered so resolution never
// blocks even if the caller has already given up waiting.
type waiter struct {
	key waiterKey
	ch  chan model.Envelope
}

// pendingTable correlates inbound response envelopes with outstanding calls.
// A waiter is removed from the table before its result is delivered, which
// gives every call exactly-once resolution: a duplicate or stray response
// finds no waiter and is silently dropped.
type pendingTable struct {
	mu      sync.Mutex
	waiters []*waiter
}

func newPendingTable() *pendingTable {
	return &pendingTable{}
}

// add registers a one-shot waiter for the given key.
func (t *pendingTable) add(key waiterKey) *waiter {
	w := &waiter{key: key, ch: make(chan model.Envelope, 1)}
	t.mu.Lock()
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()
	return w
}

// remove deregisters the waiter. It returns false if the waiter was already
// gone, meaning a response resolved it first.
func (t *pendingTable) remove(w *waiter) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.waiters {
		if cur == w {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// resolve delivers the envelope to the first waiter it matches and reports
// whether one was found. The waiter is removed before delivery.
func (t *pendingTable) resolve(env model.Envelope) bool {
	t.mu.Lock()
	var match *waiter
	for i, w := range t.waiters {
		if env.Type != w.key.success && env.Type != w.key.failure {
			continue
		}
		if w.key.nodeName != "" && env.NodeName != w.key.nodeName {
			continue
		}
		match = w
		t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
		break
	}
	t.mu.Unlock()

	if match == nil {
		return false
	}
	match.ch <- env
	return true
}

// size returns the number of outstanding waiters.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
