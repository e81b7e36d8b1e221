// Package handlers provides HTTP API request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prompt-enhancer/bridge/internal/model"
	"github.com/prompt-enhancer/bridge/internal/registry"
	"github.com/prompt-enhancer/bridge/internal/relay"
	"github.com/prompt-enhancer/bridge/internal/repository"
)

// EnhanceHandler handles HTTP requests for prompt enhancement and session
// state queries.
type EnhanceHandler struct {
	dispatcher *relay.Dispatcher
	registry   *registry.Registry
	results    *repository.ResultRepository
}

// NewEnhanceHandler creates a new EnhanceHandler. results may be nil when
// persistence is disabled.
func NewEnhanceHandler(dispatcher *relay.Dispatcher, reg *registry.Registry, results *repository.ResultRepository) *EnhanceHandler {
	return &EnhanceHandler{
		dispatcher: dispatcher,
		registry:   reg,
		results:    results,
	}
}

// EnhanceRequest represents the request body for enhancing a prompt.
type EnhanceRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	SessionID string `json:"sessionId" binding:"required"`
}

// StatusResponse represents a session's connectivity state in API responses.
type StatusResponse struct {
	SessionID    string `json:"sessionId"`
	Connected    bool   `json:"connected"`
	LastActivity string `json:"lastActivity"`
}

// NodeDataResponse represents a stored node result in API responses.
type NodeDataResponse struct {
	SessionID string          `json:"sessionId"`
	NodeName  string          `json:"nodeName"`
	NodeData  json.RawMessage `json:"nodeData"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// Enhance handles POST /api/enhance - runs the enhancement pipeline for a
// prompt within a session.
func (h *EnhanceHandler) Enhance(c *gin.Context) {
	var req EnhanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	env := model.Envelope{
		Type:      model.TypeEnhancePrompt,
		SessionID: req.SessionID,
		Prompt:    req.Prompt,
	}

	resp, ok := h.dispatcher.Handle(c.Request.Context(), env)
	if !ok {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Request was dropped")
		return
	}
	if resp.Type == model.TypeEnhanceError {
		status := http.StatusBadGateway
		if resp.Error == model.ErrPromptRequired.Error() || resp.Error == model.ErrSessionRequired.Error() {
			status = http.StatusBadRequest
		}
		sendError(c, status, "ENHANCE_FAILED", resp.Error)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": resp.SessionID,
		"result":    resp.Data,
	})
}

// Status handles GET /api/sessions/:id/status - reports the session's event
// stream connectivity.
func (h *EnhanceHandler) Status(c *gin.Context) {
	sessionID := c.Param("id")

	s, ok := h.registry.Get(sessionID)
	if !ok {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}
	h.registry.Touch(sessionID)

	c.JSON(http.StatusOK, StatusResponse{
		SessionID:    sessionID,
		Connected:    s.Connected,
		LastActivity: s.LastActivity.Format(time.RFC3339),
	})
}

// NodeData handles GET /api/sessions/:id/nodes/:node - returns the latest
// stored result for a pipeline node. Falls back to the persistent store when
// the in-memory registry has no entry, so results survive restarts.
func (h *EnhanceHandler) NodeData(c *gin.Context) {
	sessionID := c.Param("id")
	nodeName := c.Param("node")

	if data, ok := h.registry.NodeResult(sessionID, nodeName); ok {
		h.registry.Touch(sessionID)
		c.JSON(http.StatusOK, NodeDataResponse{
			SessionID: sessionID,
			NodeName:  nodeName,
			NodeData:  data,
		})
		return
	}

	if h.results != nil {
		data, err := h.results.GetNodeResult(c.Request.Context(), sessionID, nodeName)
		if err == nil {
			c.JSON(http.StatusOK, NodeDataResponse{
				SessionID: sessionID,
				NodeName:  nodeName,
				NodeData:  data,
			})
			return
		}
		if !errors.Is(err, model.ErrNodeDataNotFound) {
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load node result: "+err.Error())
			return
		}
	}

	sendError(c, http.StatusNotFound, "NODE_DATA_NOT_FOUND", "No result for node "+nodeName)
}

// ListNodes handles GET /api/sessions/:id/nodes - lists all stored node
// results for a session from the persistent store.
func (h *EnhanceHandler) ListNodes(c *gin.Context) {
	sessionID := c.Param("id")

	if h.results == nil {
		sendError(c, http.StatusNotFound, "PERSISTENCE_DISABLED", "No persistent store configured")
		return
	}

	events, err := h.results.ListNodeResults(c.Request.Context(), sessionID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list node results: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": sessionID,
		"nodes":     events,
	})
}

// Score handles GET /api/sessions/:id/score - digests the evaluation node's
// payload into a score summary.
func (h *EnhanceHandler) Score(c *gin.Context) {
	sessionID := c.Param("id")

	data, ok := h.registry.NodeResult(sessionID, relay.EvaluationNode)
	if !ok {
		sendError(c, http.StatusNotFound, "NODE_DATA_NOT_FOUND", "No evaluation result for session "+sessionID)
		return
	}

	summary, ok := relay.ScoreFromEvaluation(data)
	if !ok {
		sendError(c, http.StatusUnprocessableEntity, "SCORE_UNAVAILABLE", "Evaluation payload carries no overall score")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Delete handles DELETE /api/sessions/:id - disconnects the session's event
// stream and evicts it.
func (h *EnhanceHandler) Delete(c *gin.Context) {
	sessionID := c.Param("id")

	if _, ok := h.registry.Get(sessionID); !ok {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	h.dispatcher.Disconnect(sessionID)

	if h.results != nil {
		if err := h.results.DeleteSession(c.Request.Context(), sessionID); err != nil {
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete session: "+err.Error())
			return
		}
	}

	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the enhancement routes on a Gin router group.
func (h *EnhanceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/enhance", h.Enhance)
	rg.GET("/sessions/:id/status", h.Status)
	rg.GET("/sessions/:id/nodes", h.ListNodes)
	rg.GET("/sessions/:id/nodes/:node", h.NodeData)
	rg.GET("/sessions/:id/score", h.Score)
	rg.DELETE("/sessions/:id", h.Delete)
}
