package chord

import (
	"testing"
	"time"

	"github.com/ringmr/ringmr/internal/rpcfacade"
)

func init() {
	// insertArgs.Value / lookupReply.Value travel as interface{}; gob
	// needs every concrete type registered up front, including builtins.
	rpcfacade.RegisterWireType("")
}

func TestInsertLookupLocalOwner(t *testing.T) {
	_, svc, _ := newTestNode(t)

	svc.Insert("greeting", "hello", false, false)
	got := svc.Lookup("greeting", nil)
	if got != "hello" {
		t.Fatalf("expected hello, got %v", got)
	}
}

func TestInsertSafeDoesNotOverwrite(t *testing.T) {
	_, svc, _ := newTestNode(t)

	svc.Insert("k", "first", false, false)
	svc.Insert("k", "second", false, true)

	if got := svc.Lookup("k", nil); got != "first" {
		t.Fatalf("safe insert overwrote existing value, got %v", got)
	}
}

func TestLookupMissingReturnsDefault(t *testing.T) {
	_, svc, _ := newTestNode(t)
	if got := svc.Lookup("absent", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestRemoveDeletesLocalKey(t *testing.T) {
	_, svc, _ := newTestNode(t)
	svc.Insert("k", "v", false, false)
	svc.Remove("k")
	if got := svc.Lookup("k", nil); got != nil {
		t.Fatalf("expected key removed, got %v", got)
	}
}

func TestRefreshIsIdempotentOnStableRing(t *testing.T) {
	_, svc, _ := newTestNode(t)
	svc.Insert("a", "1", false, false)
	svc.Insert("b", "2", false, false)

	before := svc.Items()
	svc.Refresh()
	svc.Refresh()
	after := svc.Items()

	if len(before) != len(after) {
		t.Fatalf("refresh changed item count: before=%d after=%d", len(before), len(after))
	}
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("refresh lost or changed %q: %v -> %v", k, v, after[k])
		}
	}
}

func TestClaimReplicatedItemsMergesAndShifts(t *testing.T) {
	_, svc, _ := newTestNode(t)

	svc.replMu.Lock()
	svc.replicated[0] = map[string]interface{}{"x": "1"}
	svc.replicated[1] = map[string]interface{}{"y": "2"}
	svc.replMu.Unlock()

	svc.ClaimReplicatedItems(1)

	if got := svc.Lookup("x", nil); got != "1" {
		t.Fatalf("expected claimed key x present, got %v", got)
	}
	repl := svc.ReplicatedItems(0)
	if _, ok := repl["y"]; !ok {
		t.Fatalf("expected replicated[0] to hold shifted entry y, got %v", repl)
	}
}

func TestRefreshReplicationPullsSuccessorItems(t *testing.T) {
	n1, svc1, _ := newTestNode(t)
	n2, svc2, _ := newTestNode(t)

	if err := n2.Join(n1.Address()); err != nil {
		t.Fatalf("join: %v", err)
	}
	n1.Notify(n2.Address())

	n1.mu.Lock()
	n1.successors[0] = n2.Address()
	n1.mu.Unlock()

	svc2.Insert("shared", "value", false, false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc1.RefreshReplication()
		if repl := svc1.ReplicatedItems(0); repl != nil {
			if v, ok := repl["shared"]; ok && v == "value" {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("replication never observed successor's item")
}
