package chord

import (
	"testing"
	"time"

	"github.com/ringmr/ringmr/internal/id"
	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

func testConfig() Config {
	return Config{
		FingerTableSize:       8,
		ReplicationSize:       3,
		StabilizationInterval: 20 * time.Millisecond,
		RecheckInterval:       time.Hour, // disabled: no namedir wired in these tests
		CallTimeout:           time.Second,
	}
}

// newTestNode starts a GobTransport and a Node bound to it, object name
// "node", registered under its own and its .service address.
func newTestNode(t *testing.T) (*Node, *Service, rpcfacade.Transport) {
	t.Helper()
	gt, err := rpcfacade.NewGobTransport("127.0.0.1:0", time.Second)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { gt.Shutdown() })

	lt := rpcfacade.NewLocalTransport(gt)

	self := rpcfacade.Address{Object: "node", Host: "127.0.0.1", Port: gt.Port()}

	n := NewNode(self, lt, nil, testConfig(), logger.Nop{})
	lt.Register(self, NodeMethods(n), NodeOnewayMethods())

	svc := NewService(n, lt, logger.Nop{})
	n.AttachService(svc)
	lt.Register(svc.self, ServiceMethods(svc), ServiceOnewayMethods())

	return n, svc, lt
}

func TestFindSuccessorDegenerateRingReturnsSelf(t *testing.T) {
	n, _, _ := newTestNode(t)
	addr, err := n.FindSuccessor(id.FromKey("anything"))
	if err != nil {
		t.Fatalf("find_successor: %v", err)
	}
	if !addr.Equal(n.Address()) {
		t.Fatalf("expected self, got %s", addr)
	}
}

func TestJoinAndStabilizeFormsTwoNodeRing(t *testing.T) {
	n1, _, _ := newTestNode(t)
	n2, _, _ := newTestNode(t)

	if err := n2.Join(n1.Address()); err != nil {
		t.Fatalf("join: %v", err)
	}

	n1.Start()
	n2.Start()
	t.Cleanup(n1.Stop)
	t.Cleanup(n2.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p1 := n1.Predecessor()
		p2 := n2.Predecessor()
		if p1.Equal(n2.Address()) && p2.Equal(n1.Address()) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("ring did not converge: n1.pred=%s n2.pred=%s", n1.Predecessor(), n2.Predecessor())
}

func TestNotifyAdoptsCloserPredecessor(t *testing.T) {
	n, _, _ := newTestNode(t)
	other := rpcfacade.Address{Object: "other", Host: "198.51.100.7", Port: 9}
	n.Notify(other)
	if !n.Predecessor().Equal(other) {
		t.Fatalf("expected predecessor to be adopted")
	}
}
