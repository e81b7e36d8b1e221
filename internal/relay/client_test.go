package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prompt-enhancer/bridge/internal/model"
)

// scriptedPoster answers each posted request by calling respond on its own
// goroutine, simulating the asynchronous bridge boundary.
type scriptedPoster struct {
	client  *Client
	respond func(req model.Envelope) []model.Envelope
	err     error

	mu    sync.Mutex
	posts []model.Envelope
}

func (p *scriptedPoster) Post(env model.Envelope) error {
	p.mu.Lock()
	p.posts = append(p.posts, env)
	p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if p.respond == nil {
		return nil
	}
	go func() {
		for _, resp := range p.respond(env) {
			p.client.Deliver(resp)
		}
	}()
	return nil
}

func newTestClient(respond func(req model.Envelope) []model.Envelope) (*Client, *scriptedPoster) {
	p := &scriptedPoster{respond: respond}
	c := NewClient(p,
		WithSessionID("session-test"),
		WithTimeouts(200*time.Millisecond, 100*time.Millisecond),
	)
	p.client = c
	return c, p
}

func TestClient_EnhancePrompt(t *testing.T) {
	c, p := newTestClient(func(req model.Envelope) []model.Envelope {
		return []model.Envelope{{
			Type:      model.TypeEnhanceResponse,
			SessionID: req.SessionID,
			Data:      json.RawMessage(`{"enhancedPrompt":"better"}`),
		}}
	})

	data, err := c.EnhancePrompt(context.Background(), "make this better")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"enhancedPrompt":"better"}` {
		t.Errorf("unexpected data %s", data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(p.posts))
	}
	if p.posts[0].Type != model.TypeEnhancePrompt || p.posts[0].Prompt != "make this better" {
		t.Errorf("unexpected request %+v", p.posts[0])
	}
	if p.posts[0].SessionID != "session-test" {
		t.Errorf("expected session-test, got %s", p.posts[0].SessionID)
	}
}

func TestClient_EnhancePromptError(t *testing.T) {
	c, _ := newTestClient(func(req model.Envelope) []model.Envelope {
		return []model.Envelope{{
			Type:  model.TypeEnhanceError,
			Error: "backend exploded",
		}}
	})

	_, err := c.EnhancePrompt(context.Background(), "p")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "backend exploded") {
		t.Errorf("expected carried error message, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	c, _ := newTestClient(nil) // never responds

	start := time.Now()
	_, err := c.CheckSocketStatus(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, model.ErrCallTimeout) {
		t.Errorf("expected ErrCallTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}

	// The waiter was cleaned up on timeout
	if c.pending.size() != 0 {
		t.Errorf("expected no pending waiters, got %d", c.pending.size())
	}
}

func TestClient_LateResponseIgnored(t *testing.T) {
	c, _ := newTestClient(nil)

	if _, err := c.GetNodeData(context.Background(), "NodeA"); err == nil {
		t.Fatal("expected timeout")
	}

	// The response arriving after the timeout finds no waiter; a fresh call
	// must not consume it either
	c.Deliver(model.Envelope{
		Type:     model.TypeNodeDataResponse,
		NodeName: "NodeA",
		Data:     json.RawMessage(`"stale"`),
	})

	if _, err := c.GetNodeData(context.Background(), "NodeA"); err == nil {
		t.Fatal("fresh call must not be resolved by a stale response")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	c, _ := newTestClient(nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.EnhancePrompt(ctx, "p")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if c.pending.size() != 0 {
		t.Errorf("expected no pending waiters, got %d", c.pending.size())
	}
}

func TestClient_PostFailure(t *testing.T) {
	p := &scriptedPoster{err: errors.New("bridge down")}
	c := NewClient(p, WithSessionID("session-test"))
	p.client = c

	_, err := c.EnhancePrompt(context.Background(), "p")
	if err == nil || !strings.Contains(err.Error(), "bridge down") {
		t.Fatalf("expected post error, got %v", err)
	}
	if c.pending.size() != 0 {
		t.Errorf("failed post should clean up its waiter, got %d", c.pending.size())
	}
}

func TestClient_CheckSocketStatus(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, _ := newTestClient(func(req model.Envelope) []model.Envelope {
		return []model.Envelope{{
			Type:         model.TypeSocketStatusResponse,
			SessionID:    req.SessionID,
			Connected:    true,
			LastActivity: &last,
		}}
	})

	status, err := c.CheckSocketStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Connected {
		t.Error("expected connected=true")
	}
	if !status.LastActivity.Equal(last) {
		t.Errorf("expected %v, got %v", last, status.LastActivity)
	}
}

func TestClient_OnNodeUpdate(t *testing.T) {
	c, _ := newTestClient(nil)

	var got []string
	unsub := c.OnNodeUpdate(func(nodeName string, data json.RawMessage) {
		got = append(got, nodeName)
	})

	// Own session delivered, other sessions and non-node pushes filtered
	c.Deliver(model.Envelope{Type: model.TypeNodeCompleted, SessionID: "session-test", NodeName: "A"})
	c.Deliver(model.Envelope{Type: model.TypeNodeCompleted, SessionID: "other", NodeName: "B"})
	c.Deliver(model.Envelope{Type: model.TypeSocketConnected, SessionID: "session-test"})
	c.Deliver(model.Envelope{Type: model.TypeNodeCompleted, SessionID: "session-test", NodeName: "C"})

	unsub()
	c.Deliver(model.Envelope{Type: model.TypeNodeCompleted, SessionID: "session-test", NodeName: "D"})

	if len(got) != 2 || got[0] != "A" || got[1] != "C" {
		t.Errorf("expected [A C], got %v", got)
	}
}

func TestClient_OnConnectivityChange(t *testing.T) {
	c, _ := newTestClient(nil)

	var got []bool
	c.OnConnectivityChange(func(connected bool) {
		got = append(got, connected)
	})

	c.Deliver(model.Envelope{Type: model.TypeSocketConnected, SessionID: "session-test", Connected: true})
	c.Deliver(model.Envelope{Type: model.TypeSocketDisconnected, SessionID: "other"})
	c.Deliver(model.Envelope{Type: model.TypeSocketDisconnected, SessionID: "session-test"})

	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("expected [true false], got %v", got)
	}
}

func TestClient_GeneratedSessionID(t *testing.T) {
	p := &scriptedPoster{}
	c := NewClient(p)
	p.client = c

	if !strings.HasPrefix(c.SessionID(), "session-") {
		t.Errorf("expected session- prefix, got %s", c.SessionID())
	}

	c2 := NewClient(p)
	if c.SessionID() == c2.SessionID() {
		t.Error("two clients must not share a session ID")
	}
}

func TestFallbackEnhancement(t *testing.T) {
	out := FallbackEnhancement("write a poem")

	if !strings.HasPrefix(out, "# Task\nwrite a poem") {
		t.Errorf("expected task header with original prompt, got %q", out)
	}
	if !strings.Contains(out, "# Desired Output") {
		t.Error("expected desired output section")
	}
	if !strings.Contains(out, "# Additional Context") {
		t.Error("expected additional context section")
	}
}
