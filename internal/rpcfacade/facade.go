package rpcfacade

import "time"

// MethodFunc decodes its own argument type from the Args value (produced by
// gob-decoding into a pointer of the type the handler expects), invokes the
// registered object, and returns a reply value to be gob-encoded back to
// the caller. Args and Reply concrete types must be registered with
// RegisterWireType before first use, exactly as gob requires for values
// carried through an interface{}.
type MethodFunc func(args interface{}) (reply interface{}, err error)

// MethodTable is the set of named RPCs a registered object exposes. Each
// domain package (chord, namedir, mapreduce) builds one of these for its
// RPC-facing type; see e.g. chord.NodeMethods.
type MethodTable map[string]MethodFunc

// OnewayMethods names the subset of a MethodTable invoked fire-and-forget:
// the caller does not wait for the reply. Mutating, idempotent RPCs like
// insert/remove/refresh/refresh_replication/claim_replicated_items and the
// map/reduce task dispatch all fall in this set.
type OnewayMethods map[string]bool

// Server is the inbound side: objects are registered under an Address and
// their methods become remotely callable.
type Server interface {
	Register(addr Address, methods MethodTable, oneway OnewayMethods)
	Unregister(addr Address)
	Close() error
}

// Client is a handle on one remote (or local) object, reached at a fixed
// Address.
type Client interface {
	// Call performs a request/reply invocation, blocking up to the
	// transport's configured timeout.
	Call(method string, args, reply interface{}) error
	// Go performs a fire-and-forget invocation: the call is sent and the
	// client does not wait on (or report) the remote's reply.
	Go(method string, args interface{})
	// Ping is a reachability probe: true iff the address is currently
	// answering requests within the timeout.
	Ping() (bool, error)
	// Close releases any resources held for this handle; the underlying
	// connection may be pooled and reused, so Close does not necessarily
	// disconnect anything.
	Close() error
}

// Transport is the Dialer + Server capability: dial a handle for an
// Address, and register local objects so others can dial in to them.
type Transport interface {
	Server
	Dial(addr Address) (Client, error)
	Shutdown() error
}

// DefaultTimeout is the per-call deadline NewGobTransport uses when it is
// given a timeout <= 0.
const DefaultTimeout = 3 * time.Second
