package bridge

import (
	"sync"
)

// Hub tracks the set of connected peers.
type Hub struct {
	peers map[*Peer]bool
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		peers: make(map[*Peer]bool),
	}
}

// Register adds a peer to the hub.
func (h *Hub) Register(peer *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[peer] = true
}

// Unregister removes a peer from the hub and closes it.
func (h *Hub) Unregister(peer *Peer) {
	h.mu.Lock()
	delete(h.peers, peer)
	h.mu.Unlock()

	peer.Close()
}

// Broadcast sends data to every peer scoped to the session. Peers with an
// empty session ID receive everything.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for peer := range h.peers {
		if peer.sessionID == "" || sessionID == "" || peer.sessionID == sessionID {
			peer.Send(data)
		}
	}
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close closes every peer and empties the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*Peer, 0, len(h.peers))
	for peer := range h.peers {
		peers = append(peers, peer)
	}
	h.peers = make(map[*Peer]bool)
	h.mu.Unlock()

	for _, peer := range peers {
		peer.Close()
	}
}
