package rpcfacade

import (
	"fmt"
	"sync"
)

// LocalTransport wraps a remote Transport and serves calls to objects
// registered on this process directly, in-memory, skipping the network: a
// fast path for co-located objects, falling through to the remote
// transport for anything not registered here.
type LocalTransport struct {
	remote Transport
	lock   sync.RWMutex
	local  map[string]*registration
}

// NewLocalTransport wraps remote. A nil remote is replaced with a
// black-holing transport so calls to addresses nobody local serves still
// fail cleanly instead of panicking.
func NewLocalTransport(remote Transport) *LocalTransport {
	if remote == nil {
		remote = &blackholeTransport{}
	}
	return &LocalTransport{remote: remote, local: make(map[string]*registration)}
}

func (lt *LocalTransport) Register(addr Address, methods MethodTable, oneway OnewayMethods) {
	lt.lock.Lock()
	lt.local[addr.String()] = &registration{methods: methods, oneway: oneway}
	lt.lock.Unlock()
	lt.remote.Register(addr, methods, oneway)
}

func (lt *LocalTransport) Unregister(addr Address) {
	lt.lock.Lock()
	delete(lt.local, addr.String())
	lt.lock.Unlock()
	lt.remote.Unregister(addr)
}

func (lt *LocalTransport) Close() error { return lt.remote.Close() }

func (lt *LocalTransport) Shutdown() error { return lt.remote.Shutdown() }

func (lt *LocalTransport) Dial(addr Address) (Client, error) {
	lt.lock.RLock()
	reg, ok := lt.local[addr.String()]
	lt.lock.RUnlock()
	if ok {
		return &localClient{addr: addr, reg: reg}, nil
	}
	return lt.remote.Dial(addr)
}

type localClient struct {
	addr Address
	reg  *registration
}

func (c *localClient) Call(method string, args, reply interface{}) error {
	fn, ok := c.reg.methods[method]
	if !ok {
		return fmt.Errorf("rpcfacade: local object %s has no method %q", c.addr, method)
	}
	result, err := fn(args)
	if err != nil {
		return err
	}
	if reply != nil && result != nil {
		assignReply(reply, result)
	}
	return nil
}

func (c *localClient) Go(method string, args interface{}) {
	if fn, ok := c.reg.methods[method]; ok {
		go fn(args)
	}
}

func (c *localClient) Ping() (bool, error) { return true, nil }

func (c *localClient) Close() error { return nil }

// blackholeTransport is returned by NewLocalTransport when no remote
// transport was supplied, so every non-local dial fails cleanly.
type blackholeTransport struct{}

func (*blackholeTransport) Register(Address, MethodTable, OnewayMethods) {}
func (*blackholeTransport) Unregister(Address)                          {}
func (*blackholeTransport) Close() error                                { return nil }
func (*blackholeTransport) Shutdown() error                             { return nil }
func (*blackholeTransport) Dial(addr Address) (Client, error) {
	return nil, fmt.Errorf("rpcfacade: no transport configured, %s unreachable", addr)
}
