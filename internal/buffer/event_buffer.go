// Package buffer provides a bounded ring of recent push envelopes for
// session replay.
package buffer

import (
	"sync"

	"github.com/prompt-enhancer/bridge/internal/model"
)

// EventBuffer is a thread-safe circular buffer that keeps the most recent
// push envelopes up to a fixed capacity. When the buffer is full, the oldest
// envelope is discarded to make room.
//
// The bridge uses it to replay recent node-completion events to a client that
// connects while an enhancement run is already in progress.
type EventBuffer struct {
	events   []model.Envelope
	capacity int
	mu       sync.RWMutex
}

// NewEventBuffer creates an EventBuffer with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]model.Envelope, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an envelope to the buffer, discarding the oldest entry when the
// buffer is at capacity.
func (b *EventBuffer) Append(env model.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == b.capacity {
		copy(b.events, b.events[1:])
		b.events[len(b.events)-1] = env
		return
	}
	b.events = append(b.events, env)
}

// Recent returns a copy of the buffered envelopes for one session, oldest
// first. An empty sessionID returns everything.
func (b *EventBuffer) Recent(sessionID string) []model.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []model.Envelope
	for _, env := range b.events {
		if sessionID == "" || env.SessionID == sessionID {
			out = append(out, env)
		}
	}
	return out
}

// DropSession removes all buffered envelopes belonging to the session. Called
// when a session is disconnected or evicted.
func (b *EventBuffer) DropSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.events[:0]
	for _, env := range b.events {
		if env.SessionID != sessionID {
			kept = append(kept, env)
		}
	}
	b.events = kept
}

// Clear removes all buffered envelopes.
func (b *EventBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
}

// Len returns the number of buffered envelopes.
func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Cap returns the capacity of the buffer.
func (b *EventBuffer) Cap() int {
	return b.capacity
}
