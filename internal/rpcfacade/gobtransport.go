package rpcfacade

import (
	"encoding/gob"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// RegisterWireType makes a concrete Args/Reply type safe to carry through
// the gob-encoded requestFrame.Args / responseFrame.Reply interface{}
// fields. Every domain package must call this once (typically from an
// init func) for each struct type it hands to rpcfacade.
func RegisterWireType(v interface{}) {
	gob.Register(v)
}

type requestFrame struct {
	Object string
	Host   string
	Port   int
	Method string
	Oneway bool
	Args   interface{}
}

type responseFrame struct {
	Reply interface{}
	Err   string
}

type registration struct {
	methods MethodTable
	oneway  OnewayMethods
}

type outConn struct {
	host string
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
	used time.Time
}

// GobTransport is the gob-over-TCP implementation of Transport: one accept
// goroutine, one handler goroutine per inbound connection, and a per-host
// pool of outbound connections reused across calls.
type GobTransport struct {
	listener net.Listener
	timeout  time.Duration

	lock     sync.RWMutex
	local    map[string]*registration // keyed by Address.String()
	poolLock sync.Mutex
	pool     map[string][]*outConn // keyed by host:port

	shutdown bool
}

// NewGobTransport starts listening on listen (host:port) and returns a
// transport ready to register local objects and dial remote ones.
func NewGobTransport(listen string, timeout time.Duration) (*GobTransport, error) {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("rpcfacade: listen %s: %w", listen, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &GobTransport{
		listener: l,
		timeout:  timeout,
		local:    make(map[string]*registration),
		pool:     make(map[string][]*outConn),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *GobTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.isShutdown() {
				return
			}
			log.Printf("[ERR] rpcfacade: accept failed: %v", err)
			continue
		}
		go t.handleConn(conn)
	}
}

func (t *GobTransport) isShutdown() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.shutdown
}

func (t *GobTransport) handleConn(conn net.Conn) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	for {
		var req requestFrame
		if err := dec.Decode(&req); err != nil {
			return // connection closed or corrupt stream; drop silently
		}

		key := Address{Object: req.Object, Host: req.Host, Port: req.Port}.String()
		t.lock.RLock()
		reg, ok := t.local[key]
		t.lock.RUnlock()

		var resp responseFrame
		if !ok {
			resp.Err = fmt.Sprintf("rpcfacade: object %s not registered here", key)
		} else if req.Method == pingMethod {
			resp.Reply = true
		} else if fn, ok := reg.methods[req.Method]; !ok {
			resp.Err = fmt.Sprintf("rpcfacade: object %s has no method %q", key, req.Method)
		} else {
			reply, err := fn(req.Args)
			if err != nil {
				resp.Err = err.Error()
			} else {
				resp.Reply = reply
			}
		}

		if req.Oneway {
			continue // fire-and-forget: never write a reply frame
		}
		if err := enc.Encode(&resp); err != nil {
			return
		}
	}
}

func (t *GobTransport) getConn(hostport string) (*outConn, error) {
	t.poolLock.Lock()
	if t.shutdown {
		t.poolLock.Unlock()
		return nil, fmt.Errorf("rpcfacade: transport is shut down")
	}
	if list := t.pool[hostport]; len(list) > 0 {
		oc := list[len(list)-1]
		t.pool[hostport] = list[:len(list)-1]
		t.poolLock.Unlock()
		return oc, nil
	}
	t.poolLock.Unlock()

	conn, err := net.DialTimeout("tcp", hostport, t.timeout)
	if err != nil {
		return nil, err
	}
	return &outConn{
		host: hostport,
		conn: conn,
		enc:  gob.NewEncoder(conn),
		dec:  gob.NewDecoder(conn),
	}, nil
}

func (t *GobTransport) returnConn(oc *outConn) {
	t.poolLock.Lock()
	defer t.poolLock.Unlock()
	if t.shutdown {
		oc.conn.Close()
		return
	}
	oc.used = time.Now()
	t.pool[oc.host] = append(t.pool[oc.host], oc)
}

func (t *GobTransport) discardConn(oc *outConn) {
	oc.conn.Close()
}

// Register exposes methods under addr for inbound calls.
func (t *GobTransport) Register(addr Address, methods MethodTable, oneway OnewayMethods) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.local[addr.String()] = &registration{methods: methods, oneway: oneway}
}

// Unregister removes a previously registered object.
func (t *GobTransport) Unregister(addr Address) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.local, addr.String())
}

// Dial returns a handle on addr, reached over this transport.
func (t *GobTransport) Dial(addr Address) (Client, error) {
	return &gobClient{t: t, addr: addr}, nil
}

// Shutdown closes the listener and every pooled outbound connection.
func (t *GobTransport) Shutdown() error {
	t.lock.Lock()
	t.shutdown = true
	t.lock.Unlock()

	t.poolLock.Lock()
	for _, conns := range t.pool {
		for _, oc := range conns {
			oc.conn.Close()
		}
	}
	t.pool = nil
	t.poolLock.Unlock()

	return t.listener.Close()
}

// Close is an alias for Shutdown so GobTransport also satisfies simple
// io.Closer-style callers.
func (t *GobTransport) Close() error { return t.Shutdown() }

// Port returns the TCP port this transport is listening on, useful when
// NewGobTransport was given port 0 to pick an ephemeral one.
func (t *GobTransport) Port() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

type gobClient struct {
	t    *GobTransport
	addr Address
}

func (c *gobClient) call(method string, args interface{}, oneway bool) (interface{}, error) {
	oc, err := c.t.getConn(c.addr.HostPort())
	if err != nil {
		return nil, err
	}

	req := requestFrame{
		Object: c.addr.Object,
		Host:   c.addr.Host,
		Port:   c.addr.Port,
		Method: method,
		Oneway: oneway,
		Args:   args,
	}

	oc.conn.SetDeadline(time.Now().Add(c.t.timeout))
	if err := oc.enc.Encode(&req); err != nil {
		c.t.discardConn(oc)
		return nil, err
	}

	if oneway {
		c.t.returnConn(oc)
		return nil, nil
	}

	var resp responseFrame
	if err := oc.dec.Decode(&resp); err != nil {
		c.t.discardConn(oc)
		return nil, err
	}
	c.t.returnConn(oc)

	if resp.Err != "" {
		return nil, fmt.Errorf("%s", resp.Err)
	}
	return resp.Reply, nil
}

func (c *gobClient) Call(method string, args, reply interface{}) error {
	result, err := c.call(method, args, false)
	if err != nil {
		return err
	}
	if reply != nil && result != nil {
		assignReply(reply, result)
	}
	return nil
}

func (c *gobClient) Go(method string, args interface{}) {
	go func() {
		if _, err := c.call(method, args, true); err != nil {
			log.Printf("[ERR] rpcfacade: oneway call %s.%s failed: %v", c.addr, method, err)
		}
	}()
}

func (c *gobClient) Ping() (bool, error) {
	_, err := c.call(pingMethod, nil, false)
	if err != nil {
		return false, err
	}
	return true, nil
}

const pingMethod = "__ping"

func (c *gobClient) Close() error { return nil }
