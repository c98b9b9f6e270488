// Package chord implements the ring-maintenance half of the DHT: a Node
// tracking predecessor, successor list, and finger table, with a periodic
// stabilizer driving check_predecessor/stabilize/fix_fingers/check_ring,
// reached through internal/rpcfacade so a Node never depends on a
// particular transport.
package chord

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ringmr/ringmr/internal/id"
	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// RingLookup resolves the shared ring-name binding through NameDir; Node
// calls back into it during check_ring (§4.1 step 4) without importing
// internal/namedir directly, avoiding an import cycle (namedir itself
// stores its backups in this DHT).
type RingLookup interface {
	LookupRing() (rpcfacade.Address, bool)
	RegisterRing(addr rpcfacade.Address)
}

// Config tunes a Node's stabilization behavior.
type Config struct {
	FingerTableSize       int
	ReplicationSize       int
	StabilizationInterval time.Duration
	RecheckInterval       time.Duration
	CallTimeout           time.Duration
}

// Node is one host's Chord ring member.
type Node struct {
	self      rpcfacade.Address
	selfID    id.ID
	transport rpcfacade.Transport
	ring      RingLookup
	log       logger.Logger
	cfg       Config
	tracer    Tracer

	mu          sync.Mutex
	predecessor rpcfacade.Address
	successors  []rpcfacade.Address
	fingers     []rpcfacade.Address
	lastFinger  int
	lastRingRef rpcfacade.Address

	service *Service // co-located data layer, notified after join/successor shifts

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNode constructs a Node bound to self, with an empty ring (a brand new
// node is its own successor until it joins or is discovered via NameDir).
func NewNode(self rpcfacade.Address, transport rpcfacade.Transport, ring RingLookup, cfg Config, log logger.Logger) *Node {
	n := &Node{
		self:       self,
		selfID:     id.FromHost(self.Host),
		transport:  transport,
		ring:       ring,
		log:        log.Named("chord"),
		cfg:        cfg,
		tracer:     NopTracer{},
		successors: make([]rpcfacade.Address, cfg.ReplicationSize),
		fingers:    make([]rpcfacade.Address, cfg.FingerTableSize),
		lastFinger: -1,
		stopCh:     make(chan struct{}),
	}
	n.successors[0] = self
	return n
}

// AttachService binds the co-located data layer so stabilization can
// trigger refresh()/refresh_replication()/claim_replicated_items on it.
func (n *Node) AttachService(s *Service) {
	n.service = s
}

// SetTracer installs the otel-backed hop tracer; defaults to a no-op.
func (n *Node) SetTracer(t Tracer) {
	n.tracer = t
}

// SetRing installs the NameDir binding checkRing consults to recover from
// a split ring. Node construction and NameDir construction are mutually
// dependent, since NameDir's DHT is this node's co-located service, so
// this is wired in after both exist rather than threaded through NewNode.
func (n *Node) SetRing(ring RingLookup) {
	n.ring = ring
}

// ID returns this node's ring identifier.
func (n *Node) ID() id.ID {
	return n.selfID
}

// Address returns this node's own address.
func (n *Node) Address() rpcfacade.Address {
	return n.self
}

// Predecessor returns the current predecessor, the zero Address if none.
func (n *Node) Predecessor() rpcfacade.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.predecessor
}

// Successors returns a copy of the successor list.
func (n *Node) Successors() []rpcfacade.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]rpcfacade.Address, len(n.successors))
	copy(out, n.successors)
	return out
}

// RingTopology is a point-in-time snapshot of this node's view of the ring,
// for an operator probing a running cluster rather than for the
// stabilization loop itself.
type RingTopology struct {
	ID          id.ID
	Self        rpcfacade.Address
	Predecessor rpcfacade.Address
	Successors  []rpcfacade.Address
}

// DebugRingTopology composes this node's id, address, predecessor, and
// successor list into a single snapshot for introspection tooling.
func (n *Node) DebugRingTopology() RingTopology {
	return RingTopology{
		ID:          n.ID(),
		Self:        n.Address(),
		Predecessor: n.Predecessor(),
		Successors:  n.Successors(),
	}
}

func (n *Node) client(addr rpcfacade.Address) (*NodeClient, error) {
	c, err := n.transport.Dial(addr)
	if err != nil {
		return nil, err
	}
	return &NodeClient{c: c}, nil
}

func (n *Node) reachable(addr rpcfacade.Address) bool {
	if addr.IsZero() {
		return false
	}
	c, err := n.transport.Dial(addr)
	if err != nil {
		return false
	}
	defer c.Close()
	ok, err := c.Ping()
	return err == nil && ok
}

// FindSuccessor locates the node responsible for id x. A
// degenerate ring (no known successor) returns self.
func (n *Node) FindSuccessor(x id.ID) (rpcfacade.Address, error) {
	span := n.tracer.StartHop(n.self, x)
	defer span.End()

	n.mu.Lock()
	succ := n.successors[0]
	selfID := n.selfID
	n.mu.Unlock()

	if succ.IsZero() {
		return n.self, nil
	}
	succID := id.FromHost(succ.Host)
	if id.InArc(x, selfID, succID) {
		return succ, nil
	}

	closest, err := n.ClosestPrecedingNode(x)
	if err != nil {
		return rpcfacade.Address{}, err
	}
	if closest.Equal(n.self) {
		return n.self, nil
	}
	c, err := n.client(closest)
	if err != nil {
		return rpcfacade.Address{}, err
	}
	defer c.Close()
	return c.FindSuccessor(x)
}

// ClosestPrecedingNode scans the finger table then the successor list in
// reverse for the entry closest to x without passing it.
func (n *Node) ClosestPrecedingNode(x id.ID) (rpcfacade.Address, error) {
	n.mu.Lock()
	fingers := append([]rpcfacade.Address(nil), n.fingers...)
	successors := append([]rpcfacade.Address(nil), n.successors...)
	selfID := n.selfID
	n.mu.Unlock()

	var best rpcfacade.Address
	var bestID id.ID

	consider := func(addr rpcfacade.Address) {
		if addr.IsZero() || addr.Equal(n.self) {
			return
		}
		aid := id.FromHost(addr.Host)
		if !id.InArcOpen(aid, selfID, x) {
			return
		}
		if !n.reachable(addr) {
			return
		}
		if best.IsZero() || id.InArcOpen(aid, bestID, x) {
			best = addr
			bestID = aid
		}
	}

	for i := len(fingers) - 1; i >= 0; i-- {
		consider(fingers[i])
	}
	for i := len(successors) - 1; i >= 0; i-- {
		consider(successors[i])
	}

	if best.IsZero() {
		return n.self, nil
	}
	return best, nil
}

// Join attaches this node to the ring containing seed.
func (n *Node) Join(seed rpcfacade.Address) error {
	if !n.reachable(seed) {
		n.log.Error("join target unreachable", logger.F("seed", seed.String()))
		return fmt.Errorf("chord: join target %s unreachable", seed)
	}

	c, err := n.client(seed)
	if err != nil {
		return err
	}
	defer c.Close()

	newSucc, err := c.FindSuccessor(n.selfID)
	if err != nil {
		return fmt.Errorf("chord: join find_successor failed: %w", err)
	}

	n.mu.Lock()
	n.predecessor = rpcfacade.Address{}
	n.successors = make([]rpcfacade.Address, n.cfg.ReplicationSize)
	n.successors[0] = newSucc
	n.mu.Unlock()

	if n.service != nil {
		n.service.Refresh()
		n.service.RefreshReplication()
	}
	return nil
}

// Notify is invoked by a node claiming to be our predecessor.
func (n *Node) Notify(candidate rpcfacade.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if candidate.Equal(n.self) {
		return
	}
	if n.predecessor.IsZero() || !n.reachableLocked(n.predecessor) ||
		id.InArcOpen(id.FromHost(candidate.Host), id.FromHost(n.predecessor.Host), n.selfID) {
		n.predecessor = candidate
	}
}

func (n *Node) reachableLocked(addr rpcfacade.Address) bool {
	n.mu.Unlock()
	ok := n.reachable(addr)
	n.mu.Lock()
	return ok
}

// Start launches the stabilization loop as a background goroutine.
func (n *Node) Start() {
	n.wg.Add(1)
	go n.loop()
}

// Stop signals the stabilization loop to exit and waits for it.
func (n *Node) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

func (n *Node) loop() {
	defer n.wg.Done()
	timer := time.NewTimer(randJitter(n.cfg.StabilizationInterval))
	defer timer.Stop()

	recheck := time.NewTicker(n.cfg.RecheckInterval)
	defer recheck.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-timer.C:
			n.checkPredecessor()
			n.stabilize()
			n.fixFingers()
			timer.Reset(randJitter(n.cfg.StabilizationInterval))
		case <-recheck.C:
			n.checkRing()
		}
	}
}

// checkPredecessor clears an unreachable predecessor.
func (n *Node) checkPredecessor() {
	n.mu.Lock()
	pred := n.predecessor
	n.mu.Unlock()

	if pred.IsZero() {
		return
	}
	if !n.reachable(pred) {
		n.mu.Lock()
		n.predecessor = rpcfacade.Address{}
		n.mu.Unlock()
	}
}

// stabilize verifies and corrects this node's immediate successor,
// including the successor list left-shift on a dead primary successor
// and the notify back-edge.
func (n *Node) stabilize() {
	n.mu.Lock()
	succ := n.successors[0]
	pred := n.predecessor
	n.mu.Unlock()

	if succ.IsZero() {
		if !pred.IsZero() {
			n.mu.Lock()
			n.successors[0] = pred
			n.mu.Unlock()
		}
		return
	}

	if succ.Equal(n.self) {
		return
	}

	if !n.reachable(succ) {
		n.shiftSuccessors()
		return
	}

	c, err := n.client(succ)
	if err != nil {
		n.log.Warn("stabilize: dial successor failed", logger.F("error", err.Error()))
		return
	}
	defer c.Close()

	x, err := c.GetPredecessor()
	if err != nil {
		n.log.Warn("stabilize: get_predecessor failed", logger.F("error", err.Error()))
		return
	}

	n.mu.Lock()
	selfID := n.selfID
	succID := id.FromHost(succ.Host)
	n.mu.Unlock()

	if !x.IsZero() && n.reachable(x) && id.InArcOpen(id.FromHost(x.Host), selfID, succID) {
		n.mu.Lock()
		n.successors[0] = x
		succ = x
		n.mu.Unlock()
	}

	remote, err := n.client(succ)
	if err == nil {
		if list, err := remote.GetSuccessors(); err == nil {
			n.reconcileSuccessors(succ, list)
		}
		remote.Close()
	}

	if n.service != nil {
		n.service.RefreshReplication()
	}

	if notifier, err := n.client(succ); err == nil {
		notifier.Notify(n.self)
		notifier.Close()
	}
}

func (n *Node) reconcileSuccessors(head rpcfacade.Address, tail []rpcfacade.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := len(n.successors)
	merged := make([]rpcfacade.Address, r)
	merged[0] = head
	for i := 1; i < r && i-1 < len(tail); i++ {
		merged[i] = tail[i-1]
	}
	n.successors = merged
}

// shiftSuccessors left-shifts the successor list past dead entries,
// right-pads with zero addresses, and claims the replicated items of the
// shifted-out successors.
func (n *Node) shiftSuccessors() {
	n.mu.Lock()
	list := append([]rpcfacade.Address(nil), n.successors...)
	n.mu.Unlock()

	shift := 0
	for shift < len(list) && (list[shift].IsZero() || !n.reachable(list[shift])) {
		shift++
	}
	if shift == 0 {
		return
	}

	n.mu.Lock()
	r := len(n.successors)
	next := make([]rpcfacade.Address, r)
	for i := 0; i+shift < r; i++ {
		next[i] = list[i+shift]
	}
	n.successors = next
	n.mu.Unlock()

	if n.service != nil {
		n.service.ClaimReplicatedItems(shift)
	}
}

// fixFingers advances the round-robin finger repair cursor, refreshing
// one finger table entry per tick.
func (n *Node) fixFingers() {
	n.mu.Lock()
	n.lastFinger = (n.lastFinger + 1) % len(n.fingers)
	i := n.lastFinger
	target := id.PowerOffset(n.selfID, i)
	n.mu.Unlock()

	addr, err := n.FindSuccessor(target)
	if err != nil {
		n.log.Warn("fix_fingers failed", logger.F("index", i), logger.F("error", err.Error()))
		return
	}

	n.mu.Lock()
	n.fingers[i] = addr
	n.mu.Unlock()
}

// checkRing consults NameDir for the shared ring binding, joins it if it
// points somewhere new, or registers this node if nothing is registered
// yet. This is how two rings formed by a network partition heal back
// into one once the partition clears.
func (n *Node) checkRing() {
	if n.ring == nil {
		return
	}
	addr, ok := n.ring.LookupRing()
	if !ok {
		n.ring.RegisterRing(n.self)
		return
	}
	if addr.Equal(n.self) {
		return
	}
	n.mu.Lock()
	known := n.lastRingRef
	n.mu.Unlock()
	if addr.Equal(known) {
		return
	}
	if err := n.Join(addr); err != nil {
		n.log.Warn("check_ring join failed", logger.F("target", addr.String()), logger.F("error", err.Error()))
		return
	}
	n.mu.Lock()
	n.lastRingRef = addr
	n.mu.Unlock()
}

// randJitter spreads ticks so a fleet of nodes started together does not
// stabilize in lockstep.
func randJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}
