package namedir

import (
	"sync"
	"time"

	"github.com/ringmr/ringmr/internal/id"
	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// DHT is the subset of ChordService's capability NameDir needs for its
// backup/restore cycle: a key-value store keyed
// by string, reachable through the RPC facade elsewhere in the module.
type DHT interface {
	Lookup(key string, def interface{}) interface{}
	Insert(key string, value interface{}, appendMode, safe bool)
}

// BackupKey is the well-known DHT key NameDir snapshots its registry
// under.
const BackupKey = "ns/backup"

func init() {
	// the backup value crosses the DHT's interface{} Value field, so gob
	// needs this concrete type registered (see chord.ServiceMethods).
	rpcfacade.RegisterWireType(map[string]rpcfacade.Address{})
}

// Callbacks is a delegate pair bound to one address via Delegate: invoked
// whenever this host's local registry starts or stops being the leader.
// Master and RequestHandler bind their lifetime to leadership of their
// host this way.
type Callbacks struct {
	OnStartup  func()
	OnShutdown func()
}

// NameDir is the per-host wrapper around a local registry server plus a
// discovery broadcaster, contested by id precedence, backed up into the
// DHT.
type NameDir struct {
	selfURI  rpcfacade.Address
	dht      DHT
	disc     *Discovery
	transport rpcfacade.Transport
	log      logger.Logger

	contestInterval time.Duration
	backupInterval  time.Duration

	mu        sync.Mutex
	alive     bool
	local     bool // true while this host runs the registry
	registry  *Registry
	leaderURI rpcfacade.Address // valid when local == false

	delegatesMu sync.Mutex
	delegates   map[string]Callbacks

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a NameDir bound to selfURI (the registry object address
// this host would serve if elected).
func New(selfURI rpcfacade.Address, disc *Discovery, dht DHT, transport rpcfacade.Transport,
	contestInterval, backupInterval time.Duration, log logger.Logger) *NameDir {
	return &NameDir{
		selfURI:         selfURI,
		dht:             dht,
		disc:            disc,
		transport:       transport,
		log:             log.Named("namedir"),
		contestInterval: contestInterval,
		backupInterval:  backupInterval,
		delegates:       make(map[string]Callbacks),
		stopCh:          make(chan struct{}),
	}
}

// Delegate registers startup/shutdown callbacks for addr. Must be called
// before Start to take effect on the first local-server start.
func (nd *NameDir) Delegate(addr rpcfacade.Address, cb Callbacks) {
	nd.delegatesMu.Lock()
	defer nd.delegatesMu.Unlock()
	nd.delegates[addr.String()] = cb
}

// Lookup resolves name against whichever registry is currently active
// (local or the known remote leader).
func (nd *NameDir) Lookup(name string) (rpcfacade.Address, bool) {
	nd.mu.Lock()
	local, reg, leader := nd.local, nd.registry, nd.leaderURI
	nd.mu.Unlock()

	if local {
		return reg.Lookup(name)
	}
	if leader.IsZero() {
		return rpcfacade.Address{}, false
	}
	c, err := nd.transport.Dial(leader)
	if err != nil {
		return rpcfacade.Address{}, false
	}
	defer c.Close()
	return NewRegistryClient(c).Lookup(name)
}

// Register binds name to addr on whichever registry is active.
func (nd *NameDir) Register(name string, addr rpcfacade.Address) {
	nd.mu.Lock()
	local, reg, leader := nd.local, nd.registry, nd.leaderURI
	nd.mu.Unlock()

	if local {
		reg.Register(name, addr, false)
		return
	}
	if leader.IsZero() {
		return
	}
	c, err := nd.transport.Dial(leader)
	if err != nil {
		return
	}
	defer c.Close()
	NewRegistryClient(c).Register(name, addr, false)
}

// RingObjectName is the well-known NameDir binding a ChordNode registers
// itself under so new hosts can discover an existing ring.
const RingObjectName = "chord.dht"

// LookupRing and RegisterRing satisfy chord.RingLookup, letting a Node
// consult and publish the shared ring binding without this package
// importing chord (chord stores NameDir's own backups, so the dependency
// only runs one way).
func (nd *NameDir) LookupRing() (rpcfacade.Address, bool) {
	return nd.Lookup(RingObjectName)
}

func (nd *NameDir) RegisterRing(addr rpcfacade.Address) {
	nd.Register(RingObjectName, addr)
}

// IsLocal reports whether this host currently runs the registry.
func (nd *NameDir) IsLocal() bool {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	return nd.local
}

// Start begins this host's participation: it launches a local registry
// server and discovery broadcaster and becomes the leader immediately,
// then the contest loop reconciles against any peer found via gossip.
func (nd *NameDir) Start() {
	nd.startLocal()

	nd.wg.Add(2)
	go nd.contestLoop()
	go nd.backupLoop()
}

// Stop halts both loops and, if this host is still the leader, invokes
// shutdown callbacks.
func (nd *NameDir) Stop() {
	close(nd.stopCh)
	nd.wg.Wait()

	nd.mu.Lock()
	defer nd.mu.Unlock()
	if nd.local {
		nd.runShutdownCallbacks()
		nd.disc.Announce(rpcfacade.Address{})
		nd.local = false
	}
}

func (nd *NameDir) startLocal() {
	nd.mu.Lock()
	reg := NewRegistry(nd.log)
	nd.registry = reg
	nd.local = true
	nd.mu.Unlock()

	nd.transport.Register(nd.selfURI, RegistryMethods(reg), RegistryOnewayMethods())

	if backup, ok := nd.dht.Lookup(BackupKey, nil).(map[string]rpcfacade.Address); ok {
		reg.LoadAll(backup)
		nd.log.Info("restored namedir backup from dht", logger.F("entries", len(backup)))
	}

	nd.runStartupCallbacks()
	nd.disc.Announce(nd.selfURI)
}

func (nd *NameDir) runStartupCallbacks() {
	nd.mu.Lock()
	reg := nd.registry
	nd.mu.Unlock()

	nd.delegatesMu.Lock()
	defer nd.delegatesMu.Unlock()
	for addrStr, cb := range nd.delegates {
		addr, err := rpcfacade.ParseAddress(addrStr)
		if err == nil {
			reg.Register(addr.Object, addr, false)
		}
		if cb.OnStartup != nil {
			cb.OnStartup()
		}
	}
}

func (nd *NameDir) runShutdownCallbacks() {
	nd.delegatesMu.Lock()
	defer nd.delegatesMu.Unlock()
	for _, cb := range nd.delegates {
		if cb.OnShutdown != nil {
			cb.OnShutdown()
		}
	}
}

func (nd *NameDir) contestLoop() {
	defer nd.wg.Done()
	ticker := time.NewTicker(nd.contestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-nd.stopCh:
			return
		case <-ticker.C:
			nd.refresh()
		}
	}
}

func (nd *NameDir) backupLoop() {
	defer nd.wg.Done()
	ticker := time.NewTicker(nd.backupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-nd.stopCh:
			return
		case <-ticker.C:
			nd.backup()
		}
	}
}

func (nd *NameDir) backup() {
	nd.mu.Lock()
	local, reg := nd.local, nd.registry
	nd.mu.Unlock()
	if !local || reg == nil {
		return
	}
	nd.dht.Insert(BackupKey, reg.List(), false, false)
}

func (nd *NameDir) reachable(addr rpcfacade.Address) bool {
	c, err := nd.transport.Dial(addr)
	if err != nil {
		return false
	}
	defer c.Close()
	ok, err := c.Ping()
	return err == nil && ok
}

// refresh implements the id-precedence election rule: the host whose id
// sorts first among contesting leaders wins.
func (nd *NameDir) refresh() {
	nd.mu.Lock()
	local := nd.local
	leader := nd.leaderURI
	nd.mu.Unlock()

	found, ok := nd.disc.Locate()

	if !local {
		if leader.IsZero() || !nd.reachable(leader) {
			if ok {
				nd.mu.Lock()
				nd.leaderURI = found
				nd.mu.Unlock()
				nd.log.Info("found replacement leader", logger.F("leader", found.String()))
			} else {
				nd.log.Info("no leader reachable, self-promoting")
				nd.startLocal()
			}
		}
		return
	}

	// local == true: contest against any other claimant.
	if ok && !found.Equal(nd.selfURI) {
		selfID := id.FromHost(nd.selfURI.Host)
		otherID := id.FromHost(found.Host)
		if selfID.Cmp(otherID) >= 0 {
			nd.log.Info("outranked by contesting leader, demoting", logger.F("winner", found.String()))
			nd.demote(found)
		}
	}
}

func (nd *NameDir) demote(newLeader rpcfacade.Address) {
	nd.mu.Lock()
	reg := nd.registry
	nd.mu.Unlock()

	if reg != nil {
		c, err := nd.transport.Dial(newLeader)
		if err == nil {
			client := NewRegistryClient(c)
			for name, addr := range reg.List() {
				client.Register(name, addr, true)
			}
			c.Close()
		}
	}

	nd.runShutdownCallbacks()
	nd.disc.Announce(rpcfacade.Address{})
	nd.transport.Unregister(nd.selfURI)

	nd.mu.Lock()
	nd.local = false
	nd.registry = nil
	nd.leaderURI = newLeader
	nd.mu.Unlock()
}
