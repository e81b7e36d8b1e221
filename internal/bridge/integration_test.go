package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prompt-enhancer/bridge/internal/buffer"
	"github.com/prompt-enhancer/bridge/internal/conn"
	"github.com/prompt-enhancer/bridge/internal/enhancer"
	"github.com/prompt-enhancer/bridge/internal/fanout"
	"github.com/prompt-enhancer/bridge/internal/model"
	"github.com/prompt-enhancer/bridge/internal/registry"
	"github.com/prompt-enhancer/bridge/internal/relay"
)

// stubConn blocks until closed; the integration tests drive pushes through
// the broadcaster instead of the event stream.
type stubConn struct {
	done chan struct{}
	once sync.Once
}

func (c *stubConn) ReadEvent() (model.NodeEvent, error) {
	<-c.done
	return model.NodeEvent{}, errors.New("closed")
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type stubTransport struct{}

func (t *stubTransport) Name() string { return "stub" }

func (t *stubTransport) Dial(ctx context.Context, baseURL, sessionID string) (conn.EventConn, error) {
	return &stubConn{done: make(chan struct{})}, nil
}

type bridgeFixture struct {
	server  *httptest.Server
	events  *fanout.Broadcaster
	replay  *buffer.EventBuffer
	handler *Handler
}

func newBridgeFixture(t *testing.T, backendURL string) *bridgeFixture {
	t.Helper()

	reg := registry.NewRegistry()
	events := fanout.NewBroadcaster()
	replay := buffer.NewEventBuffer(16)

	cfg := conn.Config{
		BaseURL:     backendURL,
		MaxRetries:  1,
		RetryDelay:  time.Millisecond,
		DialTimeout: time.Second,
	}
	manager := conn.NewManager(cfg, reg, events, replay, nil, &stubTransport{})
	t.Cleanup(manager.Close)

	dispatcher := relay.NewDispatcher(reg, manager, enhancer.NewClient(backendURL, 5*time.Second), events, nil)

	handler := NewHandler(NewHub(), dispatcher, replay)
	unsubscribe := events.Subscribe(handler.Forward)
	t.Cleanup(unsubscribe)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.HandleConnection(w, r)
	}))
	t.Cleanup(server.Close)
	t.Cleanup(handler.Hub().Close)

	return &bridgeFixture{server: server, events: events, replay: replay, handler: handler}
}

func (f *bridgeFixture) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?sessionId=" + sessionID
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil reads envelopes until one of the wanted type arrives, skipping
// interleaved pushes.
func readUntil(t *testing.T, ws *websocket.Conn, want model.EnvelopeType) model.Envelope {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env model.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("read failed waiting for %s: %v", want, err)
		}
		if env.Type == want {
			return env
		}
	}
}

func TestBridge_RequestResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"enhancedPrompt":"shiny"}`))
	}))
	defer backend.Close()

	f := newBridgeFixture(t, backend.URL)
	ws := f.dial(t, "session-int")

	err := ws.WriteJSON(model.Envelope{
		Type:      model.TypeEnhancePrompt,
		SessionID: "session-int",
		Prompt:    "dull",
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	env := readUntil(t, ws, model.TypeEnhanceResponse)
	var result map[string]string
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if result["enhancedPrompt"] != "shiny" {
		t.Errorf("expected shiny, got %q", result["enhancedPrompt"])
	}

	// The enhance call also produced a SOCKET_CONNECTED push for this peer;
	// it may arrive before or after the response
	ws.WriteJSON(model.Envelope{
		Type:      model.TypeCheckSocketStatus,
		SessionID: "session-int",
	})
	status := readUntil(t, ws, model.TypeSocketStatusResponse)
	if !status.Connected {
		t.Error("expected connected status after enhance")
	}
}

func TestBridge_UnknownSessionError(t *testing.T) {
	f := newBridgeFixture(t, "http://127.0.0.1:1")
	ws := f.dial(t, "session-x")

	ws.WriteJSON(model.Envelope{
		Type:      model.TypeCheckSocketStatus,
		SessionID: "session-x",
	})

	env := readUntil(t, ws, model.TypeSocketStatusError)
	if env.Error != model.ErrSessionNotFound.Error() {
		t.Errorf("unexpected error %q", env.Error)
	}
}

func TestBridge_PushForwarding(t *testing.T) {
	f := newBridgeFixture(t, "http://127.0.0.1:1")

	wsMine := f.dial(t, "session-a")
	wsOther := f.dial(t, "session-b")

	f.events.Publish(model.Envelope{
		Type:      model.TypeNodeCompleted,
		SessionID: "session-a",
		NodeName:  "NodeA",
		NodeData:  json.RawMessage(`{"v":1}`),
	})

	env := readUntil(t, wsMine, model.TypeNodeCompleted)
	if env.NodeName != "NodeA" {
		t.Errorf("expected NodeA, got %s", env.NodeName)
	}

	// The other peer must not receive a foreign session's push
	wsOther.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray model.Envelope
	if err := wsOther.ReadJSON(&stray); err == nil {
		t.Errorf("peer for session-b received stray push %+v", stray)
	}
}

func TestBridge_ReplayOnConnect(t *testing.T) {
	f := newBridgeFixture(t, "http://127.0.0.1:1")

	f.replay.Append(model.Envelope{
		Type:      model.TypeNodeCompleted,
		SessionID: "session-r",
		NodeName:  "EarlyNode",
		NodeData:  json.RawMessage(`{"v":1}`),
	})
	f.replay.Append(model.Envelope{
		Type:      model.TypeNodeCompleted,
		SessionID: "session-other",
		NodeName:  "ForeignNode",
	})

	ws := f.dial(t, "session-r")

	env := readUntil(t, ws, model.TypeNodeCompleted)
	if env.NodeName != "EarlyNode" {
		t.Errorf("expected replayed EarlyNode, got %s", env.NodeName)
	}
}
