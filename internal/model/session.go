package model

import (
	"encoding/json"
	"time"
)

// Session represents one enhancement workflow: a client-generated session ID,
// the connectivity state of its upstream event-stream connection, and the most
// recent result emitted by each pipeline node.
type Session struct {
	ID           string                     `json:"id"`
	Connected    bool                       `json:"connected"`
	LastActivity time.Time                  `json:"lastActivity"`
	NodeResults  map[string]json.RawMessage `json:"nodeResults,omitempty"`
	CreatedAt    time.Time                  `json:"createdAt"`
}

// Clone returns a deep copy of the session, safe to hand out across
// goroutine boundaries.
func (s *Session) Clone() *Session {
	c := *s
	if s.NodeResults != nil {
		c.NodeResults = make(map[string]json.RawMessage, len(s.NodeResults))
		for name, data := range s.NodeResults {
			c.NodeResults[name] = data
		}
	}
	return &c
}

// IdleSince reports how long the session has been without inbound traffic.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// SocketStatus is the connectivity snapshot returned for a status check.
type SocketStatus struct {
	Connected    bool      `json:"connected"`
	LastActivity time.Time `json:"lastActivity"`
}

// NodeEvent is an immutable fact pushed by the enhancer backend: one pipeline
// stage completed and produced a payload. NodeData is kept opaque because the
// backend emits both plain strings and structured objects depending on the
// stage.
type NodeEvent struct {
	NodeName string          `json:"node_name"`
	NodeData json.RawMessage `json:"node_data"`
}

// StreamFrame is the wire framing of the upstream event stream. Only
// "node_completed" frames are meaningful; anything else is skipped.
type StreamFrame struct {
	Event string    `json:"event"`
	Data  NodeEvent `json:"data"`
}

// EventNodeCompleted is the only frame kind the backend currently emits.
// There is no explicit terminal frame; callers treat the HTTP response of the
// enhancement call as the completion signal.
const EventNodeCompleted = "node_completed"
