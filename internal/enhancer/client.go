// Package enhancer provides the HTTP client for the external enhancer backend.
package enhancer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// fieldEnhancedPrompt is the canonical result field. Older backend builds
// returned "nodeOutput" instead; responses carrying only that field are
// normalized so callers see a single contract.
const (
	fieldEnhancedPrompt = "enhancedPrompt"
	fieldNodeOutput     = "nodeOutput"
)

// Client calls the enhancer backend's HTTP API. Only the privileged context
// constructs one; isolated clients reach it through the relay.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the backend at baseURL
// (e.g. "http://localhost:5000"). timeout bounds each HTTP call; zero means
// no client-side transport timeout and callers rely on context deadlines.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// enhanceRequest is the POST /enhancer body.
type enhanceRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId"`
}

// Enhance posts the prompt for enhancement and returns the backend's JSON
// response with the result field normalized to "enhancedPrompt". Non-2xx
// responses and network failures are returned as errors; the caller converts
// them to error envelopes at the relay boundary.
func (c *Client) Enhance(ctx context.Context, prompt, sessionID string) (json.RawMessage, error) {
	body, err := json.Marshal(enhanceRequest{Prompt: prompt, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode enhance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enhancer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create enhance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enhancer request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read enhancer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("enhancer returned status %d", resp.StatusCode)
	}

	return normalizeResult(data)
}

// NodeData fetches a single node's result over HTTP. This is the polling-era
// fallback path; live deployments receive node data over the event stream.
func (c *Client) NodeData(ctx context.Context, nodeName string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/node/"+nodeName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create node data request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("node data request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read node data response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("node data returned status %d", resp.StatusCode)
	}

	return json.RawMessage(data), nil
}

// normalizeResult rewrites a response whose result lives under "nodeOutput"
// so it is exposed under the canonical "enhancedPrompt" key. Responses that
// already carry the canonical key, or that are not JSON objects, pass through
// unchanged.
func normalizeResult(data []byte) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		// Not an object; hand it back as-is.
		return json.RawMessage(data), nil
	}

	if _, ok := obj[fieldEnhancedPrompt]; ok {
		return json.RawMessage(data), nil
	}
	out, ok := obj[fieldNodeOutput]
	if !ok {
		return json.RawMessage(data), nil
	}

	obj[fieldEnhancedPrompt] = out
	normalized, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize enhancer response: %w", err)
	}
	return normalized, nil
}
