package bridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prompt-enhancer/bridge/internal/buffer"
	"github.com/prompt-enhancer/bridge/internal/model"
	"github.com/prompt-enhancer/bridge/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// Handler upgrades HTTP connections and relays envelopes between peers and
// the dispatcher.
type Handler struct {
	hub        *Hub
	dispatcher *relay.Dispatcher
	replay     *buffer.EventBuffer
}

// NewHandler creates a new bridge handler.
func NewHandler(hub *Hub, dispatcher *relay.Dispatcher, replay *buffer.EventBuffer) *Handler {
	return &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		replay:     replay,
	}
}

// Hub returns the handler's peer hub.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// HandleConnection upgrades the request to a WebSocket connection and starts
// the read and write pumps. The optional sessionId query parameter scopes the
// peer's push stream to that session.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	sessionID := r.URL.Query().Get("sessionId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	peer := NewPeer(conn, sessionID)
	h.hub.Register(peer)

	// Replay buffered pushes so a reconnecting peer sees completions it
	// missed while disconnected.
	h.sendReplay(peer, sessionID)

	go h.writePump(peer)
	go h.readPump(peer)

	return nil
}

// sendReplay queues the buffered push envelopes for the peer's session.
func (h *Handler) sendReplay(peer *Peer, sessionID string) {
	if h.replay == nil {
		return
	}
	for _, env := range h.replay.Recent(sessionID) {
		data, err := json.Marshal(env)
		if err != nil {
			log.Printf("Failed to marshal replay envelope: %v", err)
			continue
		}
		peer.Send(data)
	}
}

// Forward serializes a push envelope and delivers it to matching peers. Wire
// this to the dispatcher's push stream.
func (h *Handler) Forward(env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to marshal push envelope: %v", err)
		return
	}
	h.hub.Broadcast(env.SessionID, data)
}

// readPump pumps request envelopes from the WebSocket connection into the
// dispatcher.
func (h *Handler) readPump(peer *Peer) {
	defer func() {
		h.hub.Unregister(peer)
		peer.Conn().Close()
	}()

	peer.Conn().SetReadLimit(maxMessageSize)
	peer.Conn().SetReadDeadline(time.Now().Add(pongWait))
	peer.Conn().SetPongHandler(func(string) error {
		peer.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := peer.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var env model.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("Failed to unmarshal envelope: %v", err)
			continue
		}

		// Handle each request on its own goroutine so a slow enhance
		// call does not block status checks on the same connection.
		go func(env model.Envelope) {
			resp, ok := h.dispatcher.Handle(context.Background(), env)
			if !ok {
				return
			}
			data, err := json.Marshal(resp)
			if err != nil {
				log.Printf("Failed to marshal response envelope: %v", err)
				return
			}
			peer.Send(data)
		}(env)
	}
}

// writePump pumps queued messages from the peer's send channel to the
// WebSocket connection.
func (h *Handler) writePump(peer *Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		peer.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-peer.SendChan():
			peer.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				peer.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each envelope goes in its own frame so JSON.parse works
			// on the client side
			if err := peer.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(peer.SendChan())
			for i := 0; i < n; i++ {
				queued := <-peer.SendChan()
				peer.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := peer.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			peer.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := peer.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
