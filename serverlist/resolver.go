// Package serverlist resolves the registry server endpoints a client may
// connect to. The connection manager asks the resolver for the current
// list on every reconnect cycle, so a watch-driven resolver changes the
// candidate set without restarting the client.
package serverlist

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
)

// Endpoint is one registry server address. Immutable once handed to a
// connection attempt.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the dialable "host:port" form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint parses a "host:port" string.
func ParseEndpoint(addr string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint port %q: %w", portStr, err)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Resolver supplies the current server endpoint list.
type Resolver interface {
	// Endpoints returns a snapshot of the current list.
	Endpoints() []Endpoint
	// Watch returns a channel of list updates, or nil if the resolver
	// is static.
	Watch() <-chan []Endpoint
	Close() error
}

// Static is a fixed endpoint list.
type Static struct {
	eps []Endpoint
}

// NewStatic builds a resolver over a fixed list.
func NewStatic(eps ...Endpoint) *Static {
	return &Static{eps: eps}
}

func (s *Static) Endpoints() []Endpoint {
	out := make([]Endpoint, len(s.eps))
	copy(out, s.eps)
	return out
}

func (s *Static) Watch() <-chan []Endpoint { return nil }

func (s *Static) Close() error { return nil }

// Picker selects endpoints round-robin. The atomic counter makes Next
// goroutine-safe without a lock.
type Picker struct {
	counter atomic.Int64
}

// Next returns the next endpoint in rotation.
func (p *Picker) Next(eps []Endpoint) (Endpoint, error) {
	if len(eps) == 0 {
		return Endpoint{}, fmt.Errorf("no server endpoints available")
	}
	idx := (p.counter.Add(1) - 1) % int64(len(eps))
	return eps[idx], nil
}
