package model

import (
	"encoding/json"
	"time"
)

// EnvelopeType discriminates the message envelopes relayed between the
// isolated context and the privileged context. The set is closed: every
// dispatch point matches all members exhaustively.
type EnvelopeType string

const (
	// Isolated -> privileged request types
	TypeEnhancePrompt     EnvelopeType = "ENHANCE_PROMPT"
	TypeCheckSocketStatus EnvelopeType = "CHECK_SOCKET_STATUS"
	TypeGetNodeData       EnvelopeType = "GET_NODE_DATA"

	// Privileged -> isolated response types
	TypeEnhanceResponse      EnvelopeType = "ENHANCE_PROMPT_RESPONSE"
	TypeEnhanceError         EnvelopeType = "ENHANCE_PROMPT_ERROR"
	TypeSocketStatusResponse EnvelopeType = "SOCKET_STATUS_RESPONSE"
	TypeSocketStatusError    EnvelopeType = "SOCKET_STATUS_ERROR"
	TypeNodeDataResponse     EnvelopeType = "NODE_DATA_RESPONSE"
	TypeNodeDataError        EnvelopeType = "NODE_DATA_ERROR"

	// Unsolicited push types
	TypeNodeCompleted      EnvelopeType = "NODE_COMPLETED"
	TypeSocketConnected    EnvelopeType = "SOCKET_CONNECTED"
	TypeSocketDisconnected EnvelopeType = "SOCKET_DISCONNECTED"
)

// Envelope is the single wire shape for all relayed messages. Which fields
// are populated depends on Type.
type Envelope struct {
	Type         EnvelopeType    `json:"type"`
	SessionID    string          `json:"sessionId,omitempty"`
	Prompt       string          `json:"prompt,omitempty"`
	NodeName     string          `json:"nodeName,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	NodeData     json.RawMessage `json:"nodeData,omitempty"`
	Error        string          `json:"error,omitempty"`
	Connected    bool            `json:"connected,omitempty"`
	LastActivity *time.Time      `json:"lastActivity,omitempty"`
}

// IsRequest reports whether the envelope is an isolated-side request.
func (e *Envelope) IsRequest() bool {
	switch e.Type {
	case TypeEnhancePrompt, TypeCheckSocketStatus, TypeGetNodeData:
		return true
	case TypeEnhanceResponse, TypeEnhanceError,
		TypeSocketStatusResponse, TypeSocketStatusError,
		TypeNodeDataResponse, TypeNodeDataError,
		TypeNodeCompleted, TypeSocketConnected, TypeSocketDisconnected:
		return false
	}
	return false
}

// IsPush reports whether the envelope is an unsolicited server push, as
// opposed to the response half of a pending call.
func (e *Envelope) IsPush() bool {
	switch e.Type {
	case TypeNodeCompleted, TypeSocketConnected, TypeSocketDisconnected:
		return true
	case TypeEnhancePrompt, TypeCheckSocketStatus, TypeGetNodeData,
		TypeEnhanceResponse, TypeEnhanceError,
		TypeSocketStatusResponse, TypeSocketStatusError,
		TypeNodeDataResponse, TypeNodeDataError:
		return false
	}
	return false
}

// ResponseTypes returns the success and error envelope types that answer a
// request envelope type. The second return is false for non-request types.
func ResponseTypes(req EnvelopeType) (success, failure EnvelopeType, ok bool) {
	switch req {
	case TypeEnhancePrompt:
		return TypeEnhanceResponse, TypeEnhanceError, true
	case TypeCheckSocketStatus:
		return TypeSocketStatusResponse, TypeSocketStatusError, true
	case TypeGetNodeData:
		return TypeNodeDataResponse, TypeNodeDataError, true
	}
	return "", "", false
}

// NodeCompletedEnvelope builds the push envelope for a completed node.
func NodeCompletedEnvelope(sessionID string, ev NodeEvent) Envelope {
	return Envelope{
		Type:      TypeNodeCompleted,
		SessionID: sessionID,
		NodeName:  ev.NodeName,
		NodeData:  ev.NodeData,
	}
}

// ConnectivityEnvelope builds the SOCKET_CONNECTED or SOCKET_DISCONNECTED
// push envelope for a session.
func ConnectivityEnvelope(sessionID string, connected bool) Envelope {
	t := TypeSocketDisconnected
	if connected {
		t = TypeSocketConnected
	}
	return Envelope{Type: t, SessionID: sessionID, Connected: connected}
}
