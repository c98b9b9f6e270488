package chord

import "github.com/ringmr/ringmr/internal/rpcfacade"

type insertArgs struct {
	Key    string
	Value  interface{}
	Append bool
	Safe   bool
}

type lookupArgs struct {
	Key     string
	Default interface{}
}
type lookupReply struct {
	Value interface{}
	Found bool
}

type removeArgs struct{ Key string }

type itemsReply struct{ Items map[string]interface{} }

type replicatedItemsArgs struct{ Index int }
type replicatedItemsReply struct{ Items map[string]interface{} }

func init() {
	rpcfacade.RegisterWireType(insertArgs{})
	rpcfacade.RegisterWireType(lookupArgs{})
	rpcfacade.RegisterWireType(lookupReply{})
	rpcfacade.RegisterWireType(removeArgs{})
	rpcfacade.RegisterWireType(itemsReply{})
	rpcfacade.RegisterWireType(replicatedItemsArgs{})
	rpcfacade.RegisterWireType(replicatedItemsReply{})

	// DHT values are opaque, uninterpreted payloads to the data layer, but
	// gob still requires every concrete type carried through an
	// interface{} field to be registered. The shapes the rest of this
	// module actually stores are registered here so application code does
	// not need to repeat it per key.
	rpcfacade.RegisterWireType("")
	rpcfacade.RegisterWireType([]byte(nil))
	rpcfacade.RegisterWireType(map[string]interface{}{})
	rpcfacade.RegisterWireType([]interface{}{})
}

// Method names exposed by a Service over the RPC facade.
const (
	MethodInsert          = "Insert"
	MethodLookup          = "Lookup"
	MethodRemove          = "Remove"
	MethodRefresh         = "Refresh"
	MethodRefreshRepl     = "RefreshReplication"
	MethodClaimReplicated = "ClaimReplicatedItems"
	MethodItems           = "Items"
	MethodReplicatedItems = "ReplicatedItems"
)

// ServiceClient is a typed handle on a remote Service.
type ServiceClient struct {
	c rpcfacade.Client
}

func (sc *ServiceClient) Close() error { return sc.c.Close() }

func (sc *ServiceClient) Insert(key string, value interface{}, appendMode, safe bool) {
	sc.c.Go(MethodInsert, insertArgs{Key: key, Value: value, Append: appendMode, Safe: safe})
}

func (sc *ServiceClient) Lookup(key string, def interface{}) (interface{}, bool) {
	var reply lookupReply
	if err := sc.c.Call(MethodLookup, lookupArgs{Key: key, Default: def}, &reply); err != nil {
		return nil, false
	}
	return reply.Value, reply.Found
}

func (sc *ServiceClient) Remove(key string) {
	sc.c.Go(MethodRemove, removeArgs{Key: key})
}

func (sc *ServiceClient) Refresh() {
	sc.c.Go(MethodRefresh, nil)
}

func (sc *ServiceClient) RefreshReplication() {
	sc.c.Go(MethodRefreshRepl, nil)
}

func (sc *ServiceClient) ClaimReplicatedItems(n int) {
	sc.c.Go(MethodClaimReplicated, replicatedItemsArgs{Index: n})
}

func (sc *ServiceClient) Items() (map[string]interface{}, error) {
	var reply itemsReply
	if err := sc.c.Call(MethodItems, nil, &reply); err != nil {
		return nil, err
	}
	return reply.Items, nil
}

func (sc *ServiceClient) ReplicatedItems(i int) (map[string]interface{}, error) {
	var reply replicatedItemsReply
	if err := sc.c.Call(MethodReplicatedItems, replicatedItemsArgs{Index: i}, &reply); err != nil {
		return nil, err
	}
	return reply.Items, nil
}

// ServiceMethods builds the MethodTable a Service registers with its
// Transport, under its .service Address.
func ServiceMethods(s *Service) rpcfacade.MethodTable {
	return rpcfacade.MethodTable{
		MethodInsert: func(args interface{}) (interface{}, error) {
			a := args.(insertArgs)
			s.Insert(a.Key, a.Value, a.Append, a.Safe)
			return nil, nil
		},
		MethodLookup: func(args interface{}) (interface{}, error) {
			a := args.(lookupArgs)
			v := s.Lookup(a.Key, a.Default)
			return lookupReply{Value: v, Found: v != nil}, nil
		},
		MethodRemove: func(args interface{}) (interface{}, error) {
			a := args.(removeArgs)
			s.Remove(a.Key)
			return nil, nil
		},
		MethodRefresh: func(args interface{}) (interface{}, error) {
			s.Refresh()
			return nil, nil
		},
		MethodRefreshRepl: func(args interface{}) (interface{}, error) {
			s.RefreshReplication()
			return nil, nil
		},
		MethodClaimReplicated: func(args interface{}) (interface{}, error) {
			a := args.(replicatedItemsArgs)
			s.ClaimReplicatedItems(a.Index)
			return nil, nil
		},
		MethodItems: func(args interface{}) (interface{}, error) {
			return itemsReply{Items: s.Items()}, nil
		},
		MethodReplicatedItems: func(args interface{}) (interface{}, error) {
			a := args.(replicatedItemsArgs)
			return replicatedItemsReply{Items: s.ReplicatedItems(a.Index)}, nil
		},
	}
}

// ServiceOnewayMethods names the fire-and-forget subset: insert, remove,
// refresh, refresh_replication, claim_replicated_items.
func ServiceOnewayMethods() rpcfacade.OnewayMethods {
	return rpcfacade.OnewayMethods{
		MethodInsert:          true,
		MethodRemove:          true,
		MethodRefresh:         true,
		MethodRefreshRepl:     true,
		MethodClaimReplicated: true,
	}
}
