package mapreduce

import (
	"errors"
	"sync"
	"time"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// ErrUnknownTaskFunction is the one invariant violation escalated to
// fatal: a follower reported completion of a task whose function name
// matches neither the cached map nor reduce function. It is never
// returned to a caller across the wire; the MethodReportTask handler built
// by MasterMethods panics on it instead, killing the Master so NameDir
// elects a fresh one.
var ErrUnknownTaskFunction = errors.New("mapreduce: reported task function matches neither map nor reduce")

// DHT is the subset of chord.Service the Master needs.
type DHT interface {
	Lookup(key string, def interface{}) interface{}
	Insert(key string, value interface{}, appendMode, safe bool)
}

// NameDirLookup resolves the RequestHandler's advertised address at
// publish time.
type NameDirLookup interface {
	Lookup(name string) (rpcfacade.Address, bool)
}

// Checkpoint is the tuple backed up under MasterBackupKey.
type Checkpoint struct {
	MapTasks    Dump
	ReduceTasks Dump
	Followers   []rpcfacade.Address
	Results     map[string]interface{}
}

// Config tunes Master's phase C and backup cadence.
type Config struct {
	RequestTimeout time.Duration
	BackupInterval time.Duration
}

// Master coordinates one staged job across subscribed Followers (spec
// §4.4). At most one Master is ever running while NameDir has one leader
// (the host process binds Master.Start/Stop to its NameDir delegate
// callbacks).
type Master struct {
	self      rpcfacade.Address
	dht       DHT
	nameDir   NameDirLookup
	transport rpcfacade.Transport
	cfg       Config
	log       logger.Logger

	mapFuncName    string
	reduceFuncName string
	mapTasks       *TaskGroup
	reduceTasks    *TaskGroup

	followersMu sync.Mutex
	busy        map[rpcfacade.Address]bool
	idle        map[rpcfacade.Address]bool

	resultsMu sync.Mutex
	results   map[string]interface{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMaster constructs a Master; call Start to begin phase A.
func NewMaster(self rpcfacade.Address, dht DHT, nameDir NameDirLookup, transport rpcfacade.Transport, cfg Config, log logger.Logger) *Master {
	return &Master{
		self:        self,
		dht:         dht,
		nameDir:     nameDir,
		transport:   transport,
		cfg:         cfg,
		log:         log.Named("mapreduce.master"),
		mapTasks:    NewTaskGroup(),
		reduceTasks: NewTaskGroup(),
		busy:        make(map[rpcfacade.Address]bool),
		idle:        make(map[rpcfacade.Address]bool),
		results:     make(map[string]interface{}),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the phase loop and the independent backup loop.
func (m *Master) Start() {
	m.wg.Add(2)
	go m.runPhases()
	go m.backupLoop()
}

// Stop signals both loops to exit and waits for them.
func (m *Master) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Master) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Master) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-m.stopCh:
		return false
	}
}

// Subscribe registers follower as idle. Called at follower startup,
// retried until a master exists.
func (m *Master) Subscribe(follower rpcfacade.Address) {
	m.followersMu.Lock()
	defer m.followersMu.Unlock()
	m.idle[follower] = true
	m.log.Info("follower subscribed", logger.F("follower", follower.String()))
}

func (m *Master) runPhases() {
	defer m.wg.Done()

	if !m.phaseAWait() {
		return
	}
	m.phaseBInit()
	if !m.phaseCRun(m.mapTasks, m.mapFuncName, true) {
		return
	}
	if !m.phaseCRun(m.reduceTasks, m.reduceFuncName, false) {
		return
	}
	m.phaseDPublish()
}

// phaseAWait blocks until both the map and reduce code are staged.
func (m *Master) phaseAWait() bool {
	for {
		if m.stopped() {
			return false
		}
		mapCode, mOK := m.dht.Lookup(StagedMapCodeKey, nil).(string)
		reduceCode, rOK := m.dht.Lookup(StagedReduceCodeKey, nil).(string)
		if mOK && rOK && mapCode != "" && reduceCode != "" {
			m.mapFuncName = mapCode
			m.reduceFuncName = reduceCode
			return true
		}
		if !m.sleep(m.cfg.RequestTimeout) {
			return false
		}
	}
}

// phaseBInit restores from backup or stages fresh chunked input data
//.
func (m *Master) phaseBInit() {
	if backup, ok := m.dht.Lookup(MasterBackupKey, nil).(Checkpoint); ok {
		m.mapTasks.Load(backup.MapTasks)
		m.mapTasks.ResetAssignedToPending()
		m.reduceTasks.Load(backup.ReduceTasks)
		m.reduceTasks.ResetAssignedToPending()

		m.followersMu.Lock()
		m.busy = make(map[rpcfacade.Address]bool)
		m.idle = make(map[rpcfacade.Address]bool)
		for _, f := range backup.Followers {
			m.idle[f] = true
		}
		m.followersMu.Unlock()

		m.resultsMu.Lock()
		m.results = backup.Results
		if m.results == nil {
			m.results = make(map[string]interface{})
		}
		m.resultsMu.Unlock()

		m.log.Info("restored from master backup")
		return
	}

	m.mapTasks.Reset()
	m.reduceTasks.Reset()
	if data, ok := m.dht.Lookup(StagedDataKey, nil).(map[TaskID]interface{}); ok {
		m.mapTasks.SetPending(data)
	}
	m.log.Info("no backup found, starting from staged request")
}

// phaseCRun drives one phase (map or reduce) to completion, assigning
// tasks to idle followers until the group is empty.
func (m *Master) phaseCRun(group *TaskGroup, funcName string, isMap bool) bool {
	for group.Any() {
		if m.stopped() {
			return false
		}
		m.assignTick(group, funcName, isMap)
		if !m.sleep(m.cfg.RequestTimeout) {
			return false
		}
	}
	return true
}

func (m *Master) assignTick(group *TaskGroup, funcName string, isMap bool) {
	m.followersMu.Lock()
	var follower rpcfacade.Address
	for f := range m.idle {
		follower = f
		break
	}
	if follower.IsZero() {
		m.followersMu.Unlock()
		return
	}

	taskID, data, ok := group.PopPending()
	if !ok {
		m.followersMu.Unlock()
		return
	}
	delete(m.idle, follower)
	m.busy[follower] = true
	m.followersMu.Unlock()

	c, err := m.transport.Dial(follower)
	if err != nil {
		m.log.Warn("dial follower failed, task stays assigned until re-checkpoint",
			logger.F("follower", follower.String()), logger.F("error", err.Error()))
		return
	}
	defer c.Close()
	fc := NewFollowerClient(c)
	if isMap {
		fc.Map(taskID, data, funcName)
	} else {
		fc.Reduce(taskID, data, funcName)
	}
}

// ReportTask handles a follower's completion report.
func (m *Master) ReportTask(follower rpcfacade.Address, taskID TaskID, funcName string, result interface{}) error {
	m.followersMu.Lock()
	if m.busy[follower] {
		delete(m.busy, follower)
		m.idle[follower] = true
	} else {
		m.log.Error("follower reported a task but was not busy", logger.F("follower", follower.String()))
	}
	m.followersMu.Unlock()

	switch funcName {
	case m.mapFuncName:
		m.mapTasks.SetAsComplete(taskID)
		pairs, _ := result.([]KV)
		for _, kv := range pairs {
			m.addReducePending(kv.Key, kv.Value)
		}
		return nil
	case m.reduceFuncName:
		m.reduceTasks.SetAsComplete(taskID)
		m.resultsMu.Lock()
		m.results[string(taskID)] = result
		m.resultsMu.Unlock()
		return nil
	default:
		return ErrUnknownTaskFunction
	}
}

func (m *Master) addReducePending(outKey string, interVal interface{}) {
	id := TaskID(outKey)
	existing, _, ok := m.reduceTasks.lookupPendingOrAssigned(id)
	if !ok {
		m.reduceTasks.AddPending(id, []interface{}{interVal})
		return
	}
	values, _ := existing.([]interface{})
	m.reduceTasks.replacePending(id, append(values, interVal))
}

func (m *Master) phaseDPublish() {
	m.resultsMu.Lock()
	results := make(map[string]interface{}, len(m.results))
	for k, v := range m.results {
		results[k] = v
	}
	m.resultsMu.Unlock()

	m.dht.Insert(FinalResultsKey, results, false, false)

	addr, ok := m.nameDir.Lookup(RequestHandlerObjectName)
	if !ok {
		m.log.Error("no request handler registered, results published but not delivered")
		return
	}
	c, err := m.transport.Dial(addr)
	if err != nil {
		m.log.Warn("dial request handler failed", logger.F("error", err.Error()))
		return
	}
	defer c.Close()
	NewRequestHandlerClient(c).NotifyResults()
}

func (m *Master) backupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.BackupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.backup()
		}
	}
}

func (m *Master) backup() {
	m.followersMu.Lock()
	followers := make([]rpcfacade.Address, 0, len(m.busy)+len(m.idle))
	for f := range m.busy {
		followers = append(followers, f)
	}
	for f := range m.idle {
		followers = append(followers, f)
	}
	m.followersMu.Unlock()

	m.resultsMu.Lock()
	results := make(map[string]interface{}, len(m.results))
	for k, v := range m.results {
		results[k] = v
	}
	m.resultsMu.Unlock()

	cp := Checkpoint{
		MapTasks:    m.mapTasks.Dump(),
		ReduceTasks: m.reduceTasks.Dump(),
		Followers:   followers,
		Results:     results,
	}
	m.dht.Insert(MasterBackupKey, cp, false, false)
}
