package client

import (
	"sync/atomic"

	"github.com/w-xiyan/nacos/serverlist"
	"github.com/w-xiyan/nacos/transport"
)

// serverConnection is one established control channel. It is owned
// exclusively by the client and replaced wholesale on reconnect: the old
// value is marked abandoned and closed, never repaired. Readers work on
// the snapshot they loaded, so a concurrent swap cannot hand them a
// half-torn-down connection.
type serverConnection struct {
	id       string
	endpoint serverlist.Endpoint
	conn     atomic.Pointer[transport.Conn]

	// abandoned suppresses the stream-error recovery path once the
	// connection has been replaced or shut down on purpose.
	abandoned atomic.Bool
}

func (c *serverConnection) transport() *transport.Conn {
	return c.conn.Load()
}

func (c *serverConnection) close() {
	c.abandoned.Store(true)
	if tc := c.conn.Load(); tc != nil {
		tc.Close()
	}
}
