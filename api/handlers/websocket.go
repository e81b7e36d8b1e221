// Package handlers provides HTTP API request handlers.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prompt-enhancer/bridge/internal/bridge"
)

// WebSocketHandler exposes the envelope bridge over WebSocket.
type WebSocketHandler struct {
	bridgeHandler *bridge.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(bridgeHandler *bridge.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		bridgeHandler: bridgeHandler,
	}
}

// Attach handles WS /api/bridge - attaches an isolated client to the relay.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.bridgeHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// Upgrade failures have already written the HTTP error
		return
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/bridge", h.Attach)
}
