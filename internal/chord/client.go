package chord

import (
	"github.com/ringmr/ringmr/internal/id"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

// Wire types for Node RPCs. Registered once in init() so gob can carry
// them through the Args/Reply interface{} fields (see rpcfacade/reply.go).
type findSuccessorArgs struct{ X id.ID }
type findSuccessorReply struct{ Addr rpcfacade.Address }

type closestPrecedingArgs struct{ X id.ID }
type closestPrecedingReply struct{ Addr rpcfacade.Address }

type joinArgs struct{ Seed rpcfacade.Address }

type notifyArgs struct{ Candidate rpcfacade.Address }

type getPredecessorReply struct{ Addr rpcfacade.Address }

type getSuccessorsReply struct{ Addrs []rpcfacade.Address }

func init() {
	rpcfacade.RegisterWireType(findSuccessorArgs{})
	rpcfacade.RegisterWireType(findSuccessorReply{})
	rpcfacade.RegisterWireType(closestPrecedingArgs{})
	rpcfacade.RegisterWireType(closestPrecedingReply{})
	rpcfacade.RegisterWireType(joinArgs{})
	rpcfacade.RegisterWireType(notifyArgs{})
	rpcfacade.RegisterWireType(getPredecessorReply{})
	rpcfacade.RegisterWireType(getSuccessorsReply{})
}

// Method names exposed by a Node over the RPC facade.
const (
	MethodFindSuccessor        = "FindSuccessor"
	MethodClosestPrecedingNode = "ClosestPrecedingNode"
	MethodJoin                 = "Join"
	MethodNotify               = "Notify"
	MethodGetPredecessor       = "GetPredecessor"
	MethodGetSuccessors        = "GetSuccessors"
)

// NodeClient is a typed handle on a remote Node, wrapping an
// rpcfacade.Client behind named methods instead of raw Call/Go strings.
type NodeClient struct {
	c rpcfacade.Client
}

func (nc *NodeClient) Close() error { return nc.c.Close() }

func (nc *NodeClient) FindSuccessor(x id.ID) (rpcfacade.Address, error) {
	var reply findSuccessorReply
	if err := nc.c.Call(MethodFindSuccessor, findSuccessorArgs{X: x}, &reply); err != nil {
		return rpcfacade.Address{}, err
	}
	return reply.Addr, nil
}

func (nc *NodeClient) ClosestPrecedingNode(x id.ID) (rpcfacade.Address, error) {
	var reply closestPrecedingReply
	if err := nc.c.Call(MethodClosestPrecedingNode, closestPrecedingArgs{X: x}, &reply); err != nil {
		return rpcfacade.Address{}, err
	}
	return reply.Addr, nil
}

func (nc *NodeClient) Join(seed rpcfacade.Address) error {
	return nc.c.Call(MethodJoin, joinArgs{Seed: seed}, nil)
}

func (nc *NodeClient) Notify(candidate rpcfacade.Address) {
	nc.c.Go(MethodNotify, notifyArgs{Candidate: candidate})
}

func (nc *NodeClient) GetPredecessor() (rpcfacade.Address, error) {
	var reply getPredecessorReply
	if err := nc.c.Call(MethodGetPredecessor, nil, &reply); err != nil {
		return rpcfacade.Address{}, err
	}
	return reply.Addr, nil
}

func (nc *NodeClient) GetSuccessors() ([]rpcfacade.Address, error) {
	var reply getSuccessorsReply
	if err := nc.c.Call(MethodGetSuccessors, nil, &reply); err != nil {
		return nil, err
	}
	return reply.Addrs, nil
}

// NodeMethods builds the MethodTable a Node registers with its Transport.
func NodeMethods(n *Node) rpcfacade.MethodTable {
	return rpcfacade.MethodTable{
		MethodFindSuccessor: func(args interface{}) (interface{}, error) {
			a := args.(findSuccessorArgs)
			addr, err := n.FindSuccessor(a.X)
			if err != nil {
				return nil, err
			}
			return findSuccessorReply{Addr: addr}, nil
		},
		MethodClosestPrecedingNode: func(args interface{}) (interface{}, error) {
			a := args.(closestPrecedingArgs)
			addr, err := n.ClosestPrecedingNode(a.X)
			if err != nil {
				return nil, err
			}
			return closestPrecedingReply{Addr: addr}, nil
		},
		MethodJoin: func(args interface{}) (interface{}, error) {
			a := args.(joinArgs)
			return nil, n.Join(a.Seed)
		},
		MethodNotify: func(args interface{}) (interface{}, error) {
			a := args.(notifyArgs)
			n.Notify(a.Candidate)
			return nil, nil
		},
		MethodGetPredecessor: func(args interface{}) (interface{}, error) {
			return getPredecessorReply{Addr: n.Predecessor()}, nil
		},
		MethodGetSuccessors: func(args interface{}) (interface{}, error) {
			return getSuccessorsReply{Addrs: n.Successors()}, nil
		},
	}
}

// NodeOnewayMethods names the fire-and-forget subset (Notify: the caller
// does not need to wait for the predecessor update to land).
func NodeOnewayMethods() rpcfacade.OnewayMethods {
	return rpcfacade.OnewayMethods{MethodNotify: true}
}
