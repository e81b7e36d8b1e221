// Package relay correlates request/response calls between the isolated
// context, which may not perform network calls itself, and the privileged
// context that talks to the enhancer backend.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prompt-enhancer/bridge/internal/fanout"
	"github.com/prompt-enhancer/bridge/internal/model"
)

const (
	// EnhanceTimeout bounds the primary enhancement call.
	EnhanceTimeout = 30 * time.Second
	// AuxTimeout bounds auxiliary status and node-data calls.
	AuxTimeout = 5 * time.Second
)

// Poster is the outbound half of the bridge: it posts an envelope toward the
// privileged context. Responses come back through Deliver.
type Poster interface {
	Post(env model.Envelope) error
}

// Client is the isolated-side API. Each call posts a request envelope through
// the bridge, registers a one-shot waiter for the matching response type, and
// resolves with the response data, the carried error, or a timeout —
// whichever happens first.
type Client struct {
	post      Poster
	pending   *pendingTable
	pushes    *fanout.Broadcaster
	sessionID string

	enhanceTimeout time.Duration
	auxTimeout     time.Duration
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithSessionID fixes the client's session ID instead of generating one.
func WithSessionID(id string) ClientOption {
	return func(c *Client) { c.sessionID = id }
}

// WithTimeouts overrides the call deadlines. Tests use short values.
func WithTimeouts(enhance, aux time.Duration) ClientOption {
	return func(c *Client) {
		c.enhanceTimeout = enhance
		c.auxTimeout = aux
	}
}

// NewClient creates a relay client posting through the given bridge. A fresh
// session ID is generated unless WithSessionID is supplied.
func NewClient(post Poster, opts ...ClientOption) *Client {
	c := &Client{
		post:           post,
		pending:        newPendingTable(),
		pushes:         fanout.NewBroadcaster(),
		sessionID:      "session-" + uuid.NewString(),
		enhanceTimeout: EnhanceTimeout,
		auxTimeout:     AuxTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the client's session identifier.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Deliver feeds an inbound envelope from the bridge into the client. Push
// envelopes fan out to subscribers in arrival order; response envelopes
// resolve the matching pending call. A response with no pending call — a
// duplicate, or one arriving after its call timed out — is silently ignored.
func (c *Client) Deliver(env model.Envelope) {
	if env.IsPush() {
		c.pushes.Publish(env)
		return
	}
	c.pending.resolve(env)
}

// call posts the request and awaits its response envelope.
func (c *Client) call(ctx context.Context, req model.Envelope, timeout time.Duration) (model.Envelope, error) {
	success, failure, ok := model.ResponseTypes(req.Type)
	if !ok {
		return model.Envelope{}, fmt.Errorf("envelope type %s is not a request", req.Type)
	}

	w := c.pending.add(waiterKey{success: success, failure: failure, nodeName: req.NodeName})

	if err := c.post.Post(req); err != nil {
		c.pending.remove(w)
		return model.Envelope{}, fmt.Errorf("failed to post %s: %w", req.Type, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-w.ch:
		if env.Type == failure {
			return model.Envelope{}, fmt.Errorf("%s: %s", req.Type, env.Error)
		}
		return env, nil
	case <-timer.C:
		c.pending.remove(w)
		return model.Envelope{}, fmt.Errorf("%s after %s: %w", req.Type, timeout, model.ErrCallTimeout)
	case <-ctx.Done():
		c.pending.remove(w)
		return model.Envelope{}, ctx.Err()
	}
}

// EnhancePrompt sends the prompt to the privileged context for enhancement
// and returns the backend's JSON result. The 30 second ceiling abandons
// waiting; it does not stop the privileged-side call.
func (c *Client) EnhancePrompt(ctx context.Context, prompt string) (json.RawMessage, error) {
	env, err := c.call(ctx, model.Envelope{
		Type:      model.TypeEnhancePrompt,
		SessionID: c.sessionID,
		Prompt:    prompt,
	}, c.enhanceTimeout)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// CheckSocketStatus returns the session's last known connectivity state.
func (c *Client) CheckSocketStatus(ctx context.Context) (model.SocketStatus, error) {
	env, err := c.call(ctx, model.Envelope{
		Type:      model.TypeCheckSocketStatus,
		SessionID: c.sessionID,
	}, c.auxTimeout)
	if err != nil {
		return model.SocketStatus{}, err
	}
	status := model.SocketStatus{Connected: env.Connected}
	if env.LastActivity != nil {
		status.LastActivity = *env.LastActivity
	}
	return status, nil
}

// GetNodeData returns the most recent result recorded for the named node.
func (c *Client) GetNodeData(ctx context.Context, nodeName string) (json.RawMessage, error) {
	env, err := c.call(ctx, model.Envelope{
		Type:      model.TypeGetNodeData,
		SessionID: c.sessionID,
		NodeName:  nodeName,
	}, c.auxTimeout)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// OnNodeUpdate registers a callback for node-completion pushes and returns a
// function that deregisters exactly this callback. All pushes are delivered
// regardless of session; the callback filters by the client's own session.
func (c *Client) OnNodeUpdate(callback func(nodeName string, data json.RawMessage)) (unsubscribe func()) {
	return c.pushes.Subscribe(func(env model.Envelope) {
		if env.Type == model.TypeNodeCompleted && env.SessionID == c.sessionID {
			callback(env.NodeName, env.NodeData)
		}
	})
}

// OnConnectivityChange registers a callback for socket lifecycle pushes
// affecting this client's session.
func (c *Client) OnConnectivityChange(callback func(connected bool)) (unsubscribe func()) {
	return c.pushes.Subscribe(func(env model.Envelope) {
		switch env.Type {
		case model.TypeSocketConnected, model.TypeSocketDisconnected:
			if env.SessionID == c.sessionID {
				callback(env.Connected)
			}
		}
	})
}

// FallbackEnhancement produces a deterministic local enhancement when the
// backend is unreachable, so the caller always has something to inject.
func FallbackEnhancement(prompt string) string {
	return "# Task\n" + prompt +
		"\n\n# Desired Output\n- Well-structured response\n- Clear explanations\n- Accurate information" +
		"\n\n# Additional Context\nPlease be thorough and detailed in your response."
}
