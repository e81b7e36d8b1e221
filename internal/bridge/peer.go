// Package bridge exposes the relay to isolated clients over WebSocket: each
// connected peer posts request envelopes and receives response and push
// envelopes on the same connection.
package bridge

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Peer represents one connected isolated-context client.
type Peer struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewPeer creates a new peer for the connection. sessionID may be empty for
// peers that have not claimed a session yet; such peers receive all pushes.
func NewPeer(conn *websocket.Conn, sessionID string) *Peer {
	return &Peer{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
	}
}

// Send queues a message to be sent to the peer.
func (p *Peer) Send(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	select {
	case p.send <- data:
	default:
		// Buffer full, close the peer
		p.closeLocked()
	}
}

// Close closes the peer's send queue.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *Peer) closeLocked() {
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

// IsClosed returns true if the peer is closed.
func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SessionID returns the session this peer is scoped to.
func (p *Peer) SessionID() string {
	return p.sessionID
}

// Conn returns the underlying WebSocket connection.
func (p *Peer) Conn() *websocket.Conn {
	return p.conn
}

// SendChan returns the peer's outbound queue.
func (p *Peer) SendChan() <-chan []byte {
	return p.send
}
