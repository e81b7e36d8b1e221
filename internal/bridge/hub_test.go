package bridge

import (
	"testing"
)

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub()

	p1 := NewPeer(nil, "s1")
	p2 := NewPeer(nil, "s2")

	h.Register(p1)
	h.Register(p2)
	if h.PeerCount() != 2 {
		t.Errorf("expected 2 peers, got %d", h.PeerCount())
	}

	h.Unregister(p1)
	if h.PeerCount() != 1 {
		t.Errorf("expected 1 peer, got %d", h.PeerCount())
	}
	if !p1.IsClosed() {
		t.Error("unregistered peer should be closed")
	}
	if p2.IsClosed() {
		t.Error("remaining peer should stay open")
	}
}

func TestHub_BroadcastFiltersBySession(t *testing.T) {
	h := NewHub()

	p1 := NewPeer(nil, "s1")
	p2 := NewPeer(nil, "s2")
	all := NewPeer(nil, "")
	h.Register(p1)
	h.Register(p2)
	h.Register(all)

	h.Broadcast("s1", []byte("for s1"))

	if got := len(p1.SendChan()); got != 1 {
		t.Errorf("s1 peer: expected 1 message, got %d", got)
	}
	if got := len(p2.SendChan()); got != 0 {
		t.Errorf("s2 peer: expected 0 messages, got %d", got)
	}
	if got := len(all.SendChan()); got != 1 {
		t.Errorf("unscoped peer: expected 1 message, got %d", got)
	}

	// Empty session ID reaches everyone
	h.Broadcast("", []byte("global"))
	if got := len(p2.SendChan()); got != 1 {
		t.Errorf("s2 peer: expected global message, got %d", got)
	}
}

func TestPeer_SendAfterClose(t *testing.T) {
	p := NewPeer(nil, "s1")
	p.Close()

	// Must not panic on a closed send channel
	p.Send([]byte("late"))

	if !p.IsClosed() {
		t.Error("expected peer closed")
	}
}

func TestPeer_BufferOverflowCloses(t *testing.T) {
	p := NewPeer(nil, "s1")

	for i := 0; i < 256; i++ {
		p.Send([]byte("x"))
	}
	if p.IsClosed() {
		t.Fatal("peer closed before buffer was full")
	}

	// One past capacity closes the peer instead of blocking
	p.Send([]byte("overflow"))
	if !p.IsClosed() {
		t.Error("expected peer closed on overflow")
	}
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	p1 := NewPeer(nil, "s1")
	p2 := NewPeer(nil, "s2")
	h.Register(p1)
	h.Register(p2)

	h.Close()

	if h.PeerCount() != 0 {
		t.Errorf("expected empty hub, got %d", h.PeerCount())
	}
	if !p1.IsClosed() || !p2.IsClosed() {
		t.Error("all peers should be closed")
	}
}
