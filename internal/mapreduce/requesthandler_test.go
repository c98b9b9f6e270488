package mapreduce

import (
	"sync"
	"testing"
	"time"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

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

// failingDHT fails its first N inserts with a panic, modeling a transport
// error RequestHandler.Startup must retry through.
type failingDHT struct {
	*fakeDHT
	failuresLeft int
}

func (f *failingDHT) Insert(key string, value interface{}, appendMode, safe bool) {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		panic("simulated transport error")
	}
	f.fakeDHT.Insert(key, value, appendMode, safe)
}

func TestRequestHandlerStartupStagesChunkedData(t *testing.T) {
	dht := newFakeDHT()
	gt, err := rpcfacade.NewGobTransport("127.0.0.1:0", time.Second)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { gt.Shutdown() })
	lt := rpcfacade.NewLocalTransport(gt)

	h := NewRequestHandler(dht, lt, 2, 3, 10*time.Millisecond, logger.Nop{})
	userAddr := rpcfacade.Address{Object: "user", Host: "127.0.0.1", Port: 9}

	ok := h.Startup(userAddr, []interface{}{1, 2, 3, 4, 5}, "mapfn", "reducefn")
	if !ok {
		t.Fatalf("expected startup to succeed")
	}

	chunks, ok := dht.Lookup(StagedDataKey, nil).(map[TaskID]interface{})
	if !ok || len(chunks) != 3 {
		t.Fatalf("expected 3 chunks of size 2, got %+v", chunks)
	}
	if dht.Lookup(StagedMapCodeKey, nil).(string) != "mapfn" {
		t.Fatalf("expected map function name staged")
	}
	if dht.Lookup(StagedReduceCodeKey, nil).(string) != "reducefn" {
		t.Fatalf("expected reduce function name staged")
	}
}

func TestRequestHandlerStartupRetriesThenSucceeds(t *testing.T) {
	dht := &failingDHT{fakeDHT: newFakeDHT(), failuresLeft: 2}
	lt := rpcfacade.NewLocalTransport(nil)
	h := NewRequestHandler(dht, lt, 10, 5, time.Millisecond, logger.Nop{})

	ok := h.Startup(rpcfacade.Address{Object: "user", Host: "h", Port: 1}, []interface{}{1}, "m", "r")
	if !ok {
		t.Fatalf("expected startup to eventually succeed after transient failures")
	}
}

func TestRequestHandlerStartupExhaustsRetries(t *testing.T) {
	dht := &failingDHT{fakeDHT: newFakeDHT(), failuresLeft: 100}
	lt := rpcfacade.NewLocalTransport(nil)
	h := NewRequestHandler(dht, lt, 10, 3, time.Millisecond, logger.Nop{})

	ok := h.Startup(rpcfacade.Address{Object: "user", Host: "h", Port: 1}, []interface{}{1}, "m", "r")
	if ok {
		t.Fatalf("expected startup to fail after exhausting retries")
	}
}

func TestRequestHandlerNotifyResultsDeliversToUser(t *testing.T) {
	dht := newFakeDHT()
	dht.Insert(FinalResultsKey, map[string]interface{}{"out/a": 42}, false, false)

	gt, err := rpcfacade.NewGobTransport("127.0.0.1:0", time.Second)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { gt.Shutdown() })
	lt := rpcfacade.NewLocalTransport(gt)

	var mu sync.Mutex
	var received map[string]interface{}
	userAddr := rpcfacade.Address{Object: "user", Host: "127.0.0.1", Port: gt.Port()}
	lt.Register(userAddr, rpcfacade.MethodTable{
		MethodUserNotify: func(args interface{}) (interface{}, error) {
			mu.Lock()
			received = args.(userNotifyArgs).Results
			mu.Unlock()
			return nil, nil
		},
	}, rpcfacade.OnewayMethods{MethodUserNotify: true})

	h := NewRequestHandler(dht, lt, 10, 3, time.Millisecond, logger.Nop{})
	h.Startup(userAddr, nil, "m", "r")
	h.NotifyResults()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := received
		mu.Unlock()
		if got != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if received == nil || received["out/a"] != 42 {
		t.Fatalf("expected results delivered to user, got %+v", received)
	}
}
