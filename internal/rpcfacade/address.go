// Package rpcfacade abstracts the RPC substrate behind a single capability:
// given an Address, obtain a handle on which named methods can be invoked
// with typed arguments, either request/reply or fire-and-forget ("oneway").
// The RPC transport is treated as a pluggable collaborator — any substrate
// offering this capability works. The concrete implementation here
// (GobTransport, gobtransport.go) is a length-framed gob stream over TCP:
// one goroutine accepting connections and one per inbound connection, plus
// a pool of outbound connections per host.
package rpcfacade

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is the opaque tuple {objectName, host, port} naming a remote (or
// local) object. It serializes to a literal URI form because it is
// embedded in values stored in the DHT: PYRO:{object}@{host}:{port}.
type Address struct {
	Object string
	Host   string
	Port   int
}

// String renders the address in its wire literal form.
func (a Address) String() string {
	return fmt.Sprintf("PYRO:%s@%s:%d", a.Object, a.Host, a.Port)
}

// HostPort returns the "host:port" form used to dial a TCP connection.
func (a Address) HostPort() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// IsZero reports whether a is the empty address, used as the sentinel
// for "no predecessor" or "no successor yet".
func (a Address) IsZero() bool {
	return a.Object == "" && a.Host == "" && a.Port == 0
}

// Equal reports whether a and o name the same object.
func (a Address) Equal(o Address) bool {
	return a == o
}

// ServiceAddress derives the co-located data-service address for a node
// address: same host/port, object name suffixed ".service".
func (a Address) ServiceAddress() Address {
	return Address{Object: a.Object + ServiceSuffix, Host: a.Host, Port: a.Port}
}

// ServiceSuffix is appended to a node's object name to name its data layer.
const ServiceSuffix = ".service"

// ParseAddress parses the PYRO:{object}@{host}:{port} literal form.
func ParseAddress(s string) (Address, error) {
	const prefix = "PYRO:"
	if !strings.HasPrefix(s, prefix) {
		return Address{}, fmt.Errorf("rpcfacade: address %q missing %q prefix", s, prefix)
	}
	rest := s[len(prefix):]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return Address{}, fmt.Errorf("rpcfacade: address %q missing object separator", s)
	}
	object := rest[:at]
	hostport := rest[at+1:]
	colon := strings.LastIndex(hostport, ":")
	if colon < 0 {
		return Address{}, fmt.Errorf("rpcfacade: address %q missing port", s)
	}
	host := hostport[:colon]
	port, err := strconv.Atoi(hostport[colon+1:])
	if err != nil {
		return Address{}, fmt.Errorf("rpcfacade: address %q has invalid port: %w", s, err)
	}
	if object == "" || host == "" {
		return Address{}, fmt.Errorf("rpcfacade: address %q incomplete", s)
	}
	return Address{Object: object, Host: host, Port: port}, nil
}
