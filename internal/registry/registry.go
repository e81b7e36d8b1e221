// Package registry tracks per-session connection state and node results for
// the privileged side of the bridge.
package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prompt-enhancer/bridge/internal/model"
)

// Registry is the process-wide map from session ID to session state. It is
// constructed at startup and injected wherever session state is needed; there
// is deliberately no package-level instance. All methods are safe for
// concurrent use and none of them block while holding the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// SetClock overrides the registry's time source. Tests use this to control
// idle-eviction timing.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Upsert returns the session for the given ID, creating a fresh disconnected
// one if none exists. The returned value is a copy.
func (r *Registry) Upsert(sessionID string) *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(sessionID).Clone()
}

func (r *Registry) upsertLocked(sessionID string) *model.Session {
	if s, ok := r.sessions[sessionID]; ok {
		return s
	}
	now := r.now()
	s := &model.Session{
		ID:           sessionID,
		Connected:    false,
		LastActivity: now,
		NodeResults:  make(map[string]json.RawMessage),
		CreatedAt:    now,
	}
	r.sessions[sessionID] = s
	return s
}

// Get returns a copy of the session state, or false if absent.
func (r *Registry) Get(sessionID string) (*model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Touch resets the session's last-activity timestamp. Absent sessions are
// ignored: touch is called on every inbound event and events may arrive for
// sessions already evicted.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		s.LastActivity = r.now()
	}
}

// SetConnected updates the session's connectivity flag, creating the session
// if needed. A transition to connected also counts as activity.
func (r *Registry) SetConnected(sessionID string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.upsertLocked(sessionID)
	s.Connected = connected
	if connected {
		s.LastActivity = r.now()
	}
}

// RecordNodeResult stores the payload as the most recent result for the node,
// overwriting any earlier result. Recording against an absent session creates
// one implicitly: backend events may race ahead of explicit session creation.
func (r *Registry) RecordNodeResult(sessionID, nodeName string, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.upsertLocked(sessionID)
	s.NodeResults[nodeName] = payload
	s.LastActivity = r.now()
}

// NodeResult returns the most recent payload for the node, or false if the
// session or the node result is absent.
func (r *Registry) NodeResult(sessionID, nodeName string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	data, ok := s.NodeResults[nodeName]
	return data, ok
}

// Remove drops the session entry. The caller must have closed any live
// connection first.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdleSessions returns the IDs of sessions whose last activity is older than
// the threshold.
func (r *Registry) IdleSessions(threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var ids []string
	for id, s := range r.sessions {
		if s.IdleSince(now) > threshold {
			ids = append(ids, id)
		}
	}
	return ids
}
