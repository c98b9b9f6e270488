package namedir

import (
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// Discovery is the broadcaster paired with the local registry server:
// hashicorp/memberlist (SWIM gossip) gives every host a way to find
// whichever peer is currently announcing a live registry, carried in the
// node metadata every member already gossips.
type Discovery struct {
	ml       *memberlist.Memberlist
	delegate *gossipDelegate
	log      logger.Logger
}

// NewDiscovery joins (or starts) a memberlist gossip cluster bound to
// bindAddr:bindPort, seeding from peers if any are given.
func NewDiscovery(nodeName, bindAddr string, bindPort int, peers []string, log logger.Logger) (*Discovery, error) {
	cfg := memberlist.DefaultLANConfig()
	cfg.Name = nodeName
	cfg.BindAddr = bindAddr
	cfg.BindPort = bindPort
	cfg.AdvertiseAddr = bindAddr
	cfg.AdvertisePort = bindPort
	cfg.LogOutput = nil

	delegate := &gossipDelegate{}
	cfg.Delegate = delegate

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, err
	}
	d := &Discovery{ml: ml, delegate: delegate, log: log.Named("namedir.discovery")}

	if len(peers) > 0 {
		if _, err := ml.Join(peers); err != nil {
			d.log.Warn("initial gossip join failed", logger.F("error", err.Error()))
		}
	}
	return d, nil
}

// Shutdown leaves the gossip cluster and releases its socket.
func (d *Discovery) Shutdown() error {
	if err := d.ml.Leave(time.Second); err != nil {
		d.log.Warn("gossip leave failed", logger.F("error", err.Error()))
	}
	return d.ml.Shutdown()
}

// Announce publishes addr as this member's registry leadership claim; an
// empty Address announces "I am not the leader".
func (d *Discovery) Announce(addr rpcfacade.Address) {
	d.delegate.setMeta([]byte(addr.String()))
	if err := d.ml.UpdateNode(time.Second); err != nil {
		d.log.Warn("gossip meta update failed", logger.F("error", err.Error()))
	}
}

// Locate scans the known gossip membership, excluding this member itself,
// for any advertised registry address. Multiple distinct claims are
// possible during a contest window; NameDir.refresh resolves them by id
// precedence.
func (d *Discovery) Locate() (rpcfacade.Address, bool) {
	self := d.ml.LocalNode().Name
	for _, m := range d.ml.Members() {
		if m.Name == self || len(m.Meta) == 0 {
			continue
		}
		addr, err := rpcfacade.ParseAddress(string(m.Meta))
		if err != nil || addr.IsZero() {
			continue
		}
		return addr, true
	}
	return rpcfacade.Address{}, false
}

// gossipDelegate carries no payload beyond per-member metadata; broadcasts
// and remote-state merges are unused because leadership claims live
// entirely in NodeMeta, refreshed by Announce.
type gossipDelegate struct {
	mu   sync.Mutex
	meta []byte
}

func (g *gossipDelegate) setMeta(meta []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.meta = meta
}

func (g *gossipDelegate) NodeMeta(limit int) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.meta) > limit {
		return g.meta[:limit]
	}
	return g.meta
}

func (g *gossipDelegate) NotifyMsg([]byte)                           {}
func (g *gossipDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (g *gossipDelegate) LocalState(join bool) []byte                { return nil }
func (g *gossipDelegate) MergeRemoteState(buf []byte, join bool)     {}
