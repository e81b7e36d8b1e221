package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prompt-enhancer/bridge/internal/model"
)

// Transport establishes an event-stream connection to the enhancer backend
// for one session. The manager tries transports in preference order and the
// first one that dials successfully stays sticky for the lifetime of the
// connection attempt, including reconnects.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string
	// Dial opens an event-stream connection scoped to the session.
	Dial(ctx context.Context, baseURL, sessionID string) (EventConn, error)
}

// EventConn is a live event-stream connection. ReadEvent blocks until the
// next node-completion event arrives or the connection fails.
type EventConn interface {
	ReadEvent() (model.NodeEvent, error)
	Close() error
}

// WebSocketTransport is the preferred bidirectional transport.
type WebSocketTransport struct {
	dialer *websocket.Dialer
}

// NewWebSocketTransport creates a websocket transport with the default dialer.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{dialer: websocket.DefaultDialer}
}

// Name returns "websocket".
func (t *WebSocketTransport) Name() string { return "websocket" }

// Dial connects to the backend's /events websocket endpoint, passing the
// session ID as a connection-time query parameter.
func (t *WebSocketTransport) Dial(ctx context.Context, baseURL, sessionID string) (EventConn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/events"
	q := u.Query()
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()

	ws, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &webSocketConn{ws: ws}, nil
}

type webSocketConn struct {
	ws *websocket.Conn
}

// ReadEvent reads frames until a node_completed event arrives. Frames of any
// other kind are skipped; the backend does not guarantee a terminal frame.
func (c *webSocketConn) ReadEvent() (model.NodeEvent, error) {
	for {
		var frame model.StreamFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return model.NodeEvent{}, err
		}
		if frame.Event == model.EventNodeCompleted {
			return frame.Data, nil
		}
	}
}

func (c *webSocketConn) Close() error {
	return c.ws.Close()
}

// PollingTransport degrades to repeated HTTP long-polls when the websocket
// transport cannot connect.
type PollingTransport struct {
	http     *http.Client
	interval time.Duration
}

// NewPollingTransport creates a polling transport. interval is the pause
// between empty polls; zero defaults to one second.
func NewPollingTransport(interval time.Duration) *PollingTransport {
	if interval == 0 {
		interval = time.Second
	}
	return &PollingTransport{
		http:     &http.Client{Timeout: 30 * time.Second},
		interval: interval,
	}
}

// Name returns "polling".
func (t *PollingTransport) Name() string { return "polling" }

// Dial probes the backend's poll endpoint once so that an unreachable backend
// fails the connection attempt instead of failing silently on the first read.
func (t *PollingTransport) Dial(ctx context.Context, baseURL, sessionID string) (EventConn, error) {
	pc := &pollingConn{
		transport: t,
		baseURL:   baseURL,
		sessionID: sessionID,
	}
	pc.ctx, pc.cancel = context.WithCancel(context.Background())

	events, err := pc.poll(ctx)
	if err != nil {
		pc.cancel()
		return nil, fmt.Errorf("poll probe failed: %w", err)
	}
	pc.queue = events
	return pc, nil
}

type pollingConn struct {
	transport *PollingTransport
	baseURL   string
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	queue     []model.NodeEvent
	cursor    int
}

// pollResponse is the body of GET /events; events are returned in emission
// order starting at the cursor.
type pollResponse struct {
	Events []model.StreamFrame `json:"events"`
	Cursor int                 `json:"cursor"`
}

func (c *pollingConn) ReadEvent() (model.NodeEvent, error) {
	for {
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue = c.queue[1:]
			return ev, nil
		}

		select {
		case <-c.ctx.Done():
			return model.NodeEvent{}, c.ctx.Err()
		case <-time.After(c.transport.interval):
		}

		events, err := c.poll(c.ctx)
		if err != nil {
			return model.NodeEvent{}, err
		}
		c.queue = events
	}
}

func (c *pollingConn) poll(ctx context.Context) ([]model.NodeEvent, error) {
	u := fmt.Sprintf("%s/events?sessionId=%s&cursor=%d",
		strings.TrimSuffix(c.baseURL, "/"), url.QueryEscape(c.sessionID), c.cursor)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	var pr pollResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	if pr.Cursor > 0 {
		c.cursor = pr.Cursor
	} else {
		c.cursor += len(pr.Events)
	}

	var events []model.NodeEvent
	for _, frame := range pr.Events {
		if frame.Event == model.EventNodeCompleted {
			events = append(events, frame.Data)
		}
	}
	return events, nil
}

func (c *pollingConn) Close() error {
	c.cancel()
	return nil
}
