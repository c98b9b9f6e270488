package namedir

import (
	"sync"
	"testing"
	"time"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// fakeDHT is an in-memory stand-in for chord.Service, sufficient to
// exercise NameDir's backup/restore cycle without spinning up a ring.
type fakeDHT struct {
	mu   sync.Mutex
	data map[string]interface{}
}

func newFakeDHT() *fakeDHT {
	return &fakeDHT{data: make(map[string]interface{})}
}

func (f *fakeDHT) Lookup(key string, def interface{}) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v
	}
	return def
}

func (f *fakeDHT) Insert(key string, value interface{}, appendMode, safe bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if safe {
		if _, ok := f.data[key]; ok {
			return
		}
	}
	f.data[key] = value
}

func newTestHost(t *testing.T, name string, gossipPort int, peers []string) (*NameDir, *fakeDHT, rpcfacade.Transport) {
	t.Helper()
	gt, err := rpcfacade.NewGobTransport("127.0.0.1:0", time.Second)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { gt.Shutdown() })
	lt := rpcfacade.NewLocalTransport(gt)

	disc, err := NewDiscovery(name, "127.0.0.1", gossipPort, peers, logger.Nop{})
	if err != nil {
		t.Fatalf("discovery: %v", err)
	}
	t.Cleanup(func() { disc.Shutdown() })

	dht := newFakeDHT()
	self := rpcfacade.Address{Object: "registry", Host: "127.0.0.1", Port: gt.Port()}
	nd := New(self, disc, dht, lt, 20*time.Millisecond, 50*time.Millisecond, logger.Nop{})
	return nd, dht, lt
}

func TestNameDirSingleHostSelfPromotes(t *testing.T) {
	nd, _, _ := newTestHost(t, "solo", 17001, nil)
	nd.Start()
	t.Cleanup(nd.Stop)

	if !nd.IsLocal() {
		t.Fatalf("expected lone host to self-promote to local leader")
	}
}

func TestNameDirContestResolvesByIDPrecedence(t *testing.T) {
	nd1, _, _ := newTestHost(t, "host-a", 17011, nil)
	nd2, _, _ := newTestHost(t, "host-b", 17012, []string{"127.0.0.1:17011"})

	nd1.Start()
	t.Cleanup(nd1.Stop)
	nd2.Start()
	t.Cleanup(nd2.Stop)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		l1, l2 := nd1.IsLocal(), nd2.IsLocal()
		if l1 != l2 {
			return // exactly one converged to leader
		}
		time.Sleep(30 * time.Millisecond)
	}
	t.Fatalf("expected exactly one namedir to remain local, got nd1=%v nd2=%v", nd1.IsLocal(), nd2.IsLocal())
}

func TestNameDirBackupRestoresOnRestart(t *testing.T) {
	nd, dht, _ := newTestHost(t, "restart-host", 17021, nil)
	nd.Start()

	nd.Register("master", rpcfacade.Address{Object: "master", Host: "10.0.0.5", Port: 5000})
	nd.backup()

	if _, ok := dht.Lookup(BackupKey, nil).(map[string]rpcfacade.Address); !ok {
		t.Fatalf("expected backup to be staged in the dht")
	}
	nd.Stop()

	nd2 := New(nd.selfURI, nd.disc, dht, nd.transport, 20*time.Millisecond, 50*time.Millisecond, logger.Nop{})
	nd2.Start()
	t.Cleanup(nd2.Stop)

	addr, ok := nd2.Lookup("master")
	if !ok || addr.Port != 5000 {
		t.Fatalf("expected restored binding, got %v ok=%v", addr, ok)
	}
}
