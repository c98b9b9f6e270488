package namedir

import "github.com/ringmr/ringmr/internal/rpcfacade"

type lookupArgs struct{ Name string }
type lookupReply struct {
	Addr  rpcfacade.Address
	Found bool
}

type registerArgs struct {
	Name string
	Addr rpcfacade.Address
	Safe bool
}

type removeArgs struct{ Name string }

type listReply struct{ Entries map[string]rpcfacade.Address }

func init() {
	rpcfacade.RegisterWireType(lookupArgs{})
	rpcfacade.RegisterWireType(lookupReply{})
	rpcfacade.RegisterWireType(registerArgs{})
	rpcfacade.RegisterWireType(removeArgs{})
	rpcfacade.RegisterWireType(listReply{})
}

// Method names the registry exposes over the RPC facade.
const (
	MethodLookup   = "Lookup"
	MethodRegister = "Register"
	MethodList     = "List"
	MethodRemove   = "Remove"
)

// RegistryMethods builds the MethodTable the elected local leader
// registers under its registry Address.
func RegistryMethods(r *Registry) rpcfacade.MethodTable {
	return rpcfacade.MethodTable{
		MethodLookup: func(args interface{}) (interface{}, error) {
			a := args.(lookupArgs)
			addr, ok := r.Lookup(a.Name)
			return lookupReply{Addr: addr, Found: ok}, nil
		},
		MethodRegister: func(args interface{}) (interface{}, error) {
			a := args.(registerArgs)
			r.Register(a.Name, a.Addr, a.Safe)
			return nil, nil
		},
		MethodList: func(args interface{}) (interface{}, error) {
			return listReply{Entries: r.List()}, nil
		},
		MethodRemove: func(args interface{}) (interface{}, error) {
			a := args.(removeArgs)
			r.Remove(a.Name)
			return nil, nil
		},
	}
}

// RegistryOnewayMethods: Register/Remove are fire-and-forget, the same
// as every other mutating call in the core: a registration failing
// silently just means the next contest tick reconciles it.
func RegistryOnewayMethods() rpcfacade.OnewayMethods {
	return rpcfacade.OnewayMethods{MethodRegister: true, MethodRemove: true}
}

// RegistryClient is a typed handle on a (possibly remote) registry.
type RegistryClient struct {
	c rpcfacade.Client
}

// NewRegistryClient wraps an already-dialed rpcfacade.Client.
func NewRegistryClient(c rpcfacade.Client) *RegistryClient {
	return &RegistryClient{c: c}
}

func (rc *RegistryClient) Close() error { return rc.c.Close() }

func (rc *RegistryClient) Lookup(name string) (rpcfacade.Address, bool) {
	var reply lookupReply
	if err := rc.c.Call(MethodLookup, lookupArgs{Name: name}, &reply); err != nil {
		return rpcfacade.Address{}, false
	}
	return reply.Addr, reply.Found
}

func (rc *RegistryClient) Register(name string, addr rpcfacade.Address, safe bool) {
	rc.c.Go(MethodRegister, registerArgs{Name: name, Addr: addr, Safe: safe})
}

func (rc *RegistryClient) Remove(name string) {
	rc.c.Go(MethodRemove, removeArgs{Name: name})
}

func (rc *RegistryClient) List() (map[string]rpcfacade.Address, error) {
	var reply listReply
	if err := rc.c.Call(MethodList, nil, &reply); err != nil {
		return nil, err
	}
	return reply.Entries, nil
}
