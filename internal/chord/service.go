package chord

import (
	"sync"

	"github.com/ringmr/ringmr/internal/id"
	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// Service is the data layer co-located with a Node. The owner of a key is
// found before itemsMu is taken; a local write re-checks ownership under
// that lock (locallyOwns), so a concurrent predecessor change cannot land
// an insert on a node that just stopped owning the key.
type Service struct {
	self      rpcfacade.Address // this service's own .service address
	nodeAddr  rpcfacade.Address // co-located Node's address
	node      *Node
	transport rpcfacade.Transport
	log       logger.Logger

	itemsMu sync.Mutex
	items   map[string]interface{}

	replMu     sync.Mutex
	replicated []map[string]interface{}
}

// NewService constructs the data layer for node, sized to its
// replication factor.
func NewService(node *Node, transport rpcfacade.Transport, log logger.Logger) *Service {
	r := len(node.Successors())
	repl := make([]map[string]interface{}, r)
	for i := range repl {
		repl[i] = make(map[string]interface{})
	}
	return &Service{
		self:       node.Address().ServiceAddress(),
		nodeAddr:   node.Address(),
		node:       node,
		transport:  transport,
		log:        log.Named("chord.service"),
		items:      make(map[string]interface{}),
		replicated: repl,
	}
}

func keyID(key string) id.ID {
	return id.FromKey(key)
}

func (s *Service) owner(key string) (rpcfacade.Address, error) {
	return s.node.FindSuccessor(keyID(key))
}

// locallyOwns re-checks, using only this node's own local ring state
// (no RPC, so it is safe to call with itemsMu held), whether key still
// falls in this node's arc (predecessor, self]. owner() and the itemsMu
// acquisition that follows it are not atomic, so this node's predecessor
// changing in between can mean the find_successor result that sent a
// caller here is already stale. This catches that race instead of
// writing the key locally anyway.
func (s *Service) locallyOwns(key string) bool {
	pred := s.node.Predecessor()
	if pred.IsZero() {
		return true
	}
	return id.InArc(keyID(key), id.FromHost(pred.Host), s.node.ID())
}

// Insert routes key/value to its owner. Oneway: failures are
// logged and dropped, never surfaced to the caller.
func (s *Service) Insert(key string, value interface{}, appendMode, safe bool) {
	if key == "" {
		s.log.Error("insert rejected: empty key")
		return
	}
	owner, err := s.owner(key)
	if err != nil {
		s.log.Error("insert: find_successor failed", logger.F("key", key), logger.F("error", err.Error()))
		return
	}

	if owner.Equal(s.nodeAddr) {
		s.itemsMu.Lock()
		if !s.locallyOwns(key) {
			s.itemsMu.Unlock()
			s.log.Warn("insert: ownership changed after routing decision, dropping", logger.F("key", key))
			return
		}
		if !safe {
			s.items[key] = value
		} else if _, present := s.items[key]; !present {
			s.items[key] = value
		}
		s.itemsMu.Unlock()
		return
	}

	s.forward(owner, func(c *ServiceClient) { c.Insert(key, value, appendMode, safe) })
}

// Lookup returns the value stored for key, or def if absent anywhere
// reachable.
func (s *Service) Lookup(key string, def interface{}) interface{} {
	owner, err := s.owner(key)
	if err != nil {
		s.log.Error("lookup: find_successor failed", logger.F("key", key), logger.F("error", err.Error()))
		return def
	}

	if owner.Equal(s.nodeAddr) {
		s.itemsMu.Lock()
		defer s.itemsMu.Unlock()
		if !s.locallyOwns(key) {
			s.log.Warn("lookup: ownership changed after routing decision, falling back to default", logger.F("key", key))
			return def
		}
		if v, ok := s.items[key]; ok {
			return v
		}
		return def
	}

	if !s.reachable(owner) {
		s.log.Info("lookup target unreachable", logger.F("owner", owner.String()))
		return def
	}
	c, err := s.dial(owner)
	if err != nil {
		return def
	}
	defer c.Close()
	v, ok := c.Lookup(key, def)
	if !ok {
		return def
	}
	return v
}

// Remove deletes key at its owner, fire-and-forget.
func (s *Service) Remove(key string) {
	if key == "" {
		s.log.Error("remove rejected: empty key")
		return
	}
	owner, err := s.owner(key)
	if err != nil {
		s.log.Error("remove: find_successor failed", logger.F("key", key), logger.F("error", err.Error()))
		return
	}
	if owner.Equal(s.nodeAddr) {
		s.itemsMu.Lock()
		if !s.locallyOwns(key) {
			s.itemsMu.Unlock()
			s.log.Warn("remove: ownership changed after routing decision, dropping", logger.F("key", key))
			return
		}
		delete(s.items, key)
		s.itemsMu.Unlock()
		return
	}
	s.forward(owner, func(c *ServiceClient) { c.Remove(key) })
}

// Refresh snapshots and clears local items, then re-inserts each with
// safe=true, migrating entries that now belong elsewhere. Run after a
// join changes this node's position in the ring.
func (s *Service) Refresh() {
	s.itemsMu.Lock()
	snapshot := s.items
	s.items = make(map[string]interface{})
	s.itemsMu.Unlock()

	for k, v := range snapshot {
		s.Insert(k, v, false, true)
	}
}

// RefreshReplication rebuilds replicated[i] from successors[i]'s full
// item set, for each live successor.
func (s *Service) RefreshReplication() {
	successors := s.node.Successors()

	s.replMu.Lock()
	if len(s.replicated) != len(successors) {
		s.replicated = make([]map[string]interface{}, len(successors))
		for i := range s.replicated {
			s.replicated[i] = make(map[string]interface{})
		}
	}
	s.replMu.Unlock()

	for i, succ := range successors {
		if succ.IsZero() || succ.Equal(s.nodeAddr) {
			continue
		}
		c, err := s.dial(succ.ServiceAddress())
		if err != nil {
			continue
		}
		snapshot, err := c.Items()
		c.Close()
		if err != nil {
			continue
		}
		s.replMu.Lock()
		s.replicated[i] = snapshot
		s.replMu.Unlock()
	}
}

// ClaimReplicatedItems merges replicated[0..n) into local items and
// shifts the replicated array left by n, invoked when n successors have
// just died.
func (s *Service) ClaimReplicatedItems(n int) {
	s.replMu.Lock()
	if n > len(s.replicated) {
		n = len(s.replicated)
	}
	claimed := s.replicated[:n]
	rest := append([]map[string]interface{}{}, s.replicated[n:]...)
	for len(rest) < len(s.replicated) {
		rest = append(rest, make(map[string]interface{}))
	}
	s.replicated = rest
	s.replMu.Unlock()

	s.itemsMu.Lock()
	for _, shard := range claimed {
		for k, v := range shard {
			s.items[k] = v
		}
	}
	s.itemsMu.Unlock()
}

// Items returns a shallow copy of the local item set, for
// RefreshReplication callers and debug introspection.
func (s *Service) Items() map[string]interface{} {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()
	out := make(map[string]interface{}, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// ReplicatedItems returns a shallow copy of replicated[i], or nil if i is
// out of range.
func (s *Service) ReplicatedItems(i int) map[string]interface{} {
	s.replMu.Lock()
	defer s.replMu.Unlock()
	if i < 0 || i >= len(s.replicated) {
		return nil
	}
	out := make(map[string]interface{}, len(s.replicated[i]))
	for k, v := range s.replicated[i] {
		out[k] = v
	}
	return out
}

// ItemDump is a snapshot of a service's owned items plus every replica
// level held for its predecessors, for an operator probing a running
// cluster rather than for the replication logic itself.
type ItemDump struct {
	Owned      map[string]interface{}
	Replicated []map[string]interface{}
}

// DebugDumpItems composes Items and every ReplicatedItems level into a
// single snapshot for introspection tooling.
func (s *Service) DebugDumpItems() ItemDump {
	s.replMu.Lock()
	levels := len(s.replicated)
	s.replMu.Unlock()

	replicated := make([]map[string]interface{}, levels)
	for i := range replicated {
		replicated[i] = s.ReplicatedItems(i)
	}
	return ItemDump{Owned: s.Items(), Replicated: replicated}
}

func (s *Service) reachable(addr rpcfacade.Address) bool {
	c, err := s.transport.Dial(addr)
	if err != nil {
		return false
	}
	defer c.Close()
	ok, err := c.Ping()
	return err == nil && ok
}

func (s *Service) dial(addr rpcfacade.Address) (*ServiceClient, error) {
	c, err := s.transport.Dial(addr)
	if err != nil {
		return nil, err
	}
	return &ServiceClient{c: c}, nil
}

func (s *Service) forward(owner rpcfacade.Address, do func(*ServiceClient)) {
	svcAddr := owner.ServiceAddress()
	if !s.reachable(svcAddr) {
		s.log.Info("forward target unreachable", logger.F("owner", svcAddr.String()))
		return
	}
	c, err := s.dial(svcAddr)
	if err != nil {
		return
	}
	defer c.Close()
	do(c)
}
