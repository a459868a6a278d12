package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/w-xiyan/nacos/remote"
	"github.com/w-xiyan/nacos/transport"
)

// errStreamNotAttached is returned for pushes racing the frame reader
// attachment in handleConn.
var errStreamNotAttached = errors.New("stream not attached yet")

// Conn is the server-side record of one client connection: the stream
// plus the identity the client declared in its setup request. It
// implements push.Pusher so the notifier can deliver views through it.
// The stream is attached after the frame reader is already running, so
// every access goes through the atomic pointer.
type Conn struct {
	id          string
	tc          atomic.Pointer[transport.Conn]
	remoteIP    string
	connectedAt time.Time

	mu       sync.RWMutex
	clientID string
	version  string
	tenant   string
	labels   map[string]string
}

// ID returns the server-assigned connection id.
func (c *Conn) ID() string {
	return c.id
}

// Push sends a server-initiated request to the client and waits for its
// ack response.
func (c *Conn) Push(ctx context.Context, req *remote.Request) (*remote.Response, error) {
	tc := c.transport()
	if tc == nil {
		return nil, errStreamNotAttached
	}
	return tc.Send(ctx, req)
}

// transport returns the stream, or nil until handleConn has attached it.
func (c *Conn) transport() *transport.Conn {
	return c.tc.Load()
}

// ClientID returns the logical client identity: the id declared at
// setup, or the connection id until a setup arrives.
func (c *Conn) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.clientID != "" {
		return c.clientID
	}
	return c.id
}

func (c *Conn) applySetup(setup *remote.ConnectionSetup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = setup.ClientID
	c.version = setup.ClientVersion
	c.tenant = setup.Tenant
	c.labels = setup.Labels
}

func (c *Conn) meta() *remote.Meta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clientID := c.clientID
	if clientID == "" {
		clientID = c.id
	}
	return &remote.Meta{
		ConnectionID:  c.id,
		ClientID:      clientID,
		ClientIP:      c.remoteIP,
		ClientVersion: c.version,
		Labels:        c.labels,
	}
}

func remoteIP(raw net.Conn) string {
	host, _, err := net.SplitHostPort(raw.RemoteAddr().String())
	if err != nil {
		return raw.RemoteAddr().String()
	}
	return host
}
