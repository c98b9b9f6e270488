package mapreduce

import (
	"context"
	"sync"
	"time"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// FollowerState is a Follower's two-state machine: idle or running one
// task.
type FollowerState int

const (
	Idle FollowerState = iota
	Running
)

// PreemptJoinTimeout bounds how long map/reduce waits for a preempted
// task's goroutine to notice cancellation before abandoning it (spec
// §4.5 "best-effort join with timeout").
const PreemptJoinTimeout = 2 * time.Second

// MasterLocator finds the current master's address, retrying until one
// exists.
type MasterLocator interface {
	Lookup(name string) (rpcfacade.Address, bool)
}

// Follower executes at most one map or reduce task at a time, preempting
// whatever is running when a new one arrives.
type Follower struct {
	self      rpcfacade.Address
	nameDir   MasterLocator
	transport rpcfacade.Transport
	funcs     *FuncRegistry
	log       logger.Logger

	mu         sync.Mutex
	state      FollowerState
	masterAddr rpcfacade.Address
	cancel     context.CancelFunc
	done       chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewFollower constructs a Follower bound to funcs, the user map/reduce
// functions this host knows how to run.
func NewFollower(self rpcfacade.Address, nameDir MasterLocator, transport rpcfacade.Transport, funcs *FuncRegistry, log logger.Logger) *Follower {
	return &Follower{
		self:      self,
		nameDir:   nameDir,
		transport: transport,
		funcs:     funcs,
		log:       log.Named("mapreduce.follower"),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the subscribe loop: locate the master and subscribe,
// retrying until one exists.
func (f *Follower) Start() {
	f.wg.Add(1)
	go f.subscribeLoop()
}

func (f *Follower) Stop() {
	close(f.stopCh)
	f.preempt()
	f.wg.Wait()
}

func (f *Follower) subscribeLoop() {
	defer f.wg.Done()
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}
		addr, ok := f.nameDir.Lookup(MasterObjectName)
		if ok {
			c, err := f.transport.Dial(addr)
			if err == nil {
				NewMasterClient(c).Subscribe(f.self)
				c.Close()
				f.mu.Lock()
				f.masterAddr = addr
				f.mu.Unlock()
				f.log.Info("subscribed to master", logger.F("master", addr.String()))
				return
			}
			f.log.Warn("dial master failed, retrying", logger.F("error", err.Error()))
		}
		select {
		case <-time.After(time.Second):
		case <-f.stopCh:
			return
		}
	}
}

// preempt stops whatever task is currently running and waits up to
// PreemptJoinTimeout for it to notice.
func (f *Follower) preempt() {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(PreemptJoinTimeout):
		f.log.Warn("preempted task did not exit within timeout, abandoning")
	}
}

// Map implements the oneway map(taskId, chunk, func) RPC.
func (f *Follower) Map(taskID TaskID, chunk []interface{}, funcName string) {
	f.runTask(taskID, funcName, func(ctx context.Context) (interface{}, error) {
		fn, err := f.funcs.Map(funcName)
		if err != nil {
			return nil, err
		}
		var all []KV
		for _, shard := range chunk {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			pairs, err := fn(taskID, shard)
			if err != nil {
				return nil, err
			}
			all = append(all, pairs...)
		}
		return all, nil
	})
}

// Reduce implements the oneway reduce(taskId, values, func) RPC (spec
// §4.5).
func (f *Follower) Reduce(taskID TaskID, values []interface{}, funcName string) {
	f.runTask(taskID, funcName, func(ctx context.Context) (interface{}, error) {
		fn, err := f.funcs.Reduce(funcName)
		if err != nil {
			return nil, err
		}
		return fn(taskID, values)
	})
}

func (f *Follower) runTask(taskID TaskID, funcName string, work func(ctx context.Context) (interface{}, error)) {
	f.preempt()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	f.mu.Lock()
	f.state = Running
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	go func() {
		defer close(done)
		result, err := work(ctx)

		f.mu.Lock()
		f.state = Idle
		f.cancel = nil
		f.done = nil
		f.mu.Unlock()

		if ctx.Err() != nil {
			return // preempted; report is stale, drop it
		}
		if err != nil {
			f.log.Error("task failed", logger.F("task", string(taskID)), logger.F("error", err.Error()))
			return
		}
		f.report(taskID, funcName, result)
	}()
}

func (f *Follower) report(taskID TaskID, funcName string, result interface{}) {
	f.mu.Lock()
	master := f.masterAddr
	f.mu.Unlock()
	if master.IsZero() {
		f.log.Error("no known master to report task to", logger.F("task", string(taskID)))
		return
	}
	c, err := f.transport.Dial(master)
	if err != nil {
		f.log.Warn("dial master to report task failed", logger.F("error", err.Error()))
		return
	}
	defer c.Close()
	NewMasterClient(c).ReportTask(f.self, taskID, funcName, result)
}
