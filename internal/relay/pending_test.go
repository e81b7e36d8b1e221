package relay

import (
	"testing"

	"github.com/prompt-enhancer/bridge/internal/model"
)

func enhanceKey() waiterKey {
	return waiterKey{success: model.TypeEnhanceResponse, failure: model.TypeEnhanceError}
}

func TestPendingTable_ResolveExactlyOnce(t *testing.T) {
	table := newPendingTable()
	w := table.add(enhanceKey())

	resp := model.Envelope{Type: model.TypeEnhanceResponse, Data: []byte(`{"a":1}`)}
	if !table.resolve(resp) {
		t.Fatal("expected first resolve to find the waiter")
	}

	// A duplicate response finds no waiter and is dropped
	if table.resolve(resp) {
		t.Error("duplicate response should not resolve anything")
	}

	select {
	case env := <-w.ch:
		if string(env.Data) != `{"a":1}` {
			t.Errorf("unexpected payload %s", env.Data)
		}
	default:
		t.Fatal("waiter channel should hold the response")
	}

	// The channel saw exactly one delivery
	select {
	case <-w.ch:
		t.Error("waiter received a second delivery")
	default:
	}
}

func TestPendingTable_FailureTypeResolves(t *testing.T) {
	table := newPendingTable()
	w := table.add(enhanceKey())

	if !table.resolve(model.Envelope{Type: model.TypeEnhanceError, Error: "boom"}) {
		t.Fatal("error envelope should resolve the waiter")
	}

	env := <-w.ch
	if env.Type != model.TypeEnhanceError || env.Error != "boom" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestPendingTable_RemoveAfterResolve(t *testing.T) {
	table := newPendingTable()
	w := table.add(enhanceKey())

	table.resolve(model.Envelope{Type: model.TypeEnhanceResponse})

	// remove reports false: the response won the race
	if table.remove(w) {
		t.Error("remove should report the waiter already resolved")
	}
	if table.size() != 0 {
		t.Errorf("expected empty table, got %d", table.size())
	}
}

func TestPendingTable_NodeNameMatching(t *testing.T) {
	table := newPendingTable()
	key := waiterKey{success: model.TypeNodeDataResponse, failure: model.TypeNodeDataError}

	keyA := key
	keyA.nodeName = "NodeA"
	keyB := key
	keyB.nodeName = "NodeB"

	wA := table.add(keyA)
	wB := table.add(keyB)

	// NodeB's response must not resolve NodeA's waiter even though it was
	// registered first
	table.resolve(model.Envelope{Type: model.TypeNodeDataResponse, NodeName: "NodeB", Data: []byte(`"b"`)})
	table.resolve(model.Envelope{Type: model.TypeNodeDataResponse, NodeName: "NodeA", Data: []byte(`"a"`)})

	if env := <-wA.ch; string(env.Data) != `"a"` {
		t.Errorf("NodeA waiter got %s", env.Data)
	}
	if env := <-wB.ch; string(env.Data) != `"b"` {
		t.Errorf("NodeB waiter got %s", env.Data)
	}
}

func TestPendingTable_UnmatchedTypeIgnored(t *testing.T) {
	table := newPendingTable()
	table.add(enhanceKey())

	if table.resolve(model.Envelope{Type: model.TypeSocketStatusResponse}) {
		t.Error("status response should not resolve an enhance waiter")
	}
	if table.size() != 1 {
		t.Errorf("waiter should remain, got size %d", table.size())
	}
}
