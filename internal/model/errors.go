package model

import "errors"

var (
	// ErrPromptRequired is returned when an enhancement request has no prompt.
	ErrPromptRequired = errors.New("prompt is required")

	// ErrSessionRequired is returned when a request is missing the session ID.
	ErrSessionRequired = errors.New("session id is required")

	// ErrSessionNotFound is returned when a session is not in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNodeDataNotFound is returned when a node has not produced a result yet.
	ErrNodeDataNotFound = errors.New("node data not found")

	// ErrCallTimeout is returned when a relayed call receives no response
	// within its deadline.
	ErrCallTimeout = errors.New("call timed out")

	// ErrBridgeClosed is returned when posting an envelope to a closed bridge.
	ErrBridgeClosed = errors.New("bridge closed")
)
