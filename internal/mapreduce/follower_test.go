package mapreduce

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// fakeMasterLocator always resolves to the same address, avoiding a real
// NameDir for these follower-only tests.
type fakeMasterLocator struct {
	addr rpcfacade.Address
}

func (f fakeMasterLocator) Lookup(name string) (rpcfacade.Address, bool) {
	return f.addr, true
}

// reportCollector is a fake Master that only records ReportTask calls.
type reportCollector struct {
	mu      sync.Mutex
	reports []reportTaskArgs
}

func (r *reportCollector) methods() rpcfacade.MethodTable {
	return rpcfacade.MethodTable{
		MethodSubscribe: func(args interface{}) (interface{}, error) { return nil, nil },
		MethodReportTask: func(args interface{}) (interface{}, error) {
			r.mu.Lock()
			r.reports = append(r.reports, args.(reportTaskArgs))
			r.mu.Unlock()
			return nil, nil
		},
	}
}

func (r *reportCollector) wait(t *testing.T, n int) []reportTaskArgs {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.reports)
		r.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reportTaskArgs{}, r.reports...)
}

func newTestFollower(t *testing.T) (*Follower, *reportCollector, *FuncRegistry) {
	t.Helper()
	gt, err := rpcfacade.NewGobTransport("127.0.0.1:0", time.Second)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { gt.Shutdown() })
	lt := rpcfacade.NewLocalTransport(gt)

	masterAddr := rpcfacade.Address{Object: "master", Host: "127.0.0.1", Port: gt.Port()}
	rc := &reportCollector{}
	lt.Register(masterAddr, rc.methods(), rpcfacade.OnewayMethods{MethodSubscribe: true, MethodReportTask: true})

	funcs := NewFuncRegistry()
	f := NewFollower(rpcfacade.Address{Object: "follower", Host: "127.0.0.1", Port: gt.Port()}, fakeMasterLocator{addr: masterAddr}, lt, funcs, logger.Nop{})
	f.Start()
	t.Cleanup(f.Stop)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := f.masterAddr
		f.mu.Unlock()
		if !got.IsZero() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f, rc, funcs
}

func TestFollowerMapConcatenatesPerShardResults(t *testing.T) {
	f, rc, funcs := newTestFollower(t)
	funcs.RegisterMap("count", func(taskID TaskID, shard interface{}) ([]KV, error) {
		return []KV{{Key: "total", Value: shard}}, nil
	})

	f.Map("map/0", []interface{}{1, 2, 3}, "count")

	reports := rc.wait(t, 1)
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	pairs, _ := reports[0].Result.([]KV)
	if len(pairs) != 3 {
		t.Fatalf("expected 3 concatenated pairs, got %d", len(pairs))
	}
}

func TestFollowerReduceReportsComputedValue(t *testing.T) {
	f, rc, funcs := newTestFollower(t)
	funcs.RegisterReduce("sum", func(taskID TaskID, values []interface{}) (interface{}, error) {
		total := 0
		for _, v := range values {
			total += v.(int)
		}
		return total, nil
	})

	f.Reduce("out/a", []interface{}{1, 2, 3}, "sum")

	reports := rc.wait(t, 1)
	if len(reports) != 1 || reports[0].Result.(int) != 6 {
		t.Fatalf("expected reduce result 6, got %+v", reports)
	}
}

func TestFollowerUnknownFunctionLogsAndDoesNotReport(t *testing.T) {
	f, rc, _ := newTestFollower(t)
	f.Map("map/0", []interface{}{1}, "does-not-exist")

	time.Sleep(200 * time.Millisecond)
	rc.mu.Lock()
	got := len(rc.reports)
	rc.mu.Unlock()
	if got != 0 {
		t.Fatalf("expected no report for an unregistered function, got %d", got)
	}
}

func TestFollowerPreemptionAbandonsStaleTask(t *testing.T) {
	f, rc, funcs := newTestFollower(t)

	started := make(chan struct{})
	blocked := errors.New("preempted")
	funcs.RegisterMap("slow", func(taskID TaskID, shard interface{}) ([]KV, error) {
		close(started)
		time.Sleep(5 * time.Second)
		return nil, blocked
	})
	funcs.RegisterMap("fast", func(taskID TaskID, shard interface{}) ([]KV, error) {
		return []KV{{Key: "k", Value: shard}}, nil
	})

	f.Map("map/slow", []interface{}{1}, "slow")
	<-started
	f.Map("map/fast", []interface{}{2}, "fast")

	reports := rc.wait(t, 1)
	if len(reports) != 1 {
		t.Fatalf("expected exactly one surviving report, got %d", len(reports))
	}
	if reports[0].TaskID != "map/fast" {
		t.Fatalf("expected the fast task's report to survive, got %v", reports[0].TaskID)
	}
}
