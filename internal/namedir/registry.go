// Package namedir implements a contested, self-electing name registry:
// a local registry server, a peer-discovery broadcaster, id-precedence
// election between contesting leaders, and periodic backup into the DHT.
package namedir

import (
	"sync"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// Registry is the name→address table a NameDir serves while it is the
// elected leader, single-threaded behind one mutex.
type Registry struct {
	mu   sync.Mutex
	log  logger.Logger
	data map[string]rpcfacade.Address
}

// NewRegistry returns an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		log:  log.Named("namedir.registry"),
		data: make(map[string]rpcfacade.Address),
	}
}

// Lookup returns the address bound to name, and whether it was found.
func (r *Registry) Lookup(name string) (rpcfacade.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.data[name]
	return addr, ok
}

// Register binds name to addr. When safe is true, an existing binding is
// preserved, used while restoring a backup or forwarding bindings to a
// newly elected leader, so a late-arriving duplicate never clobbers one
// already refreshed there.
func (r *Registry) Register(name string, addr rpcfacade.Address, safe bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if safe {
		if _, exists := r.data[name]; exists {
			return
		}
	}
	r.data[name] = addr
}

// Remove deletes a binding, if present.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, name)
}

// List returns a shallow copy of the full registry, used for DHT backup
// and for forwarding to a newly elected leader.
func (r *Registry) List() map[string]rpcfacade.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]rpcfacade.Address, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}

// LoadAll merges entries into the registry with safe semantics (existing
// bindings win), used to restore a DHT backup.
func (r *Registry) LoadAll(entries map[string]rpcfacade.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, addr := range entries {
		if _, exists := r.data[name]; !exists {
			r.data[name] = addr
		}
	}
}
