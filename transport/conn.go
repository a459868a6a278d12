// Package transport implements the multiplexed control-channel stream.
//
// A Conn carries many concurrent exchanges over one TCP connection. Each
// outbound request gets a unique sequence id; a single receive goroutine
// (recvLoop) reads frames and routes each response to the caller waiting
// on that id. Request-shaped frames arriving from the peer (server
// pushes on the client side, client requests on the server side) are
// handed to the OnRequest hook, never processed on the read path itself.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ one TCP conn ──→ peer
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop: response(seq=2) → pending[2] → goroutine-2 wakes up
//	          request(seq=9)  → OnRequest(9, req) → Reply(9, resp)
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/codec"
	"github.com/w-xiyan/nacos/protocol"
	"github.com/w-xiyan/nacos/remote"
)

// ErrClientClosed resolves every pending call when the connection is
// closed locally, as opposed to a stream error raised by the peer.
var ErrClientClosed = errors.New("connection closed by client")

const heartbeatInterval = 30 * time.Second

// OnRequest receives request-shaped frames from the peer. It is invoked
// on the receive goroutine and must hand real work off instead of
// blocking; a stalled hook stalls all stream reads.
type OnRequest func(seq uint32, req *remote.Request)

// Options configure hooks bound to a Conn for its whole lifetime.
type Options struct {
	// OnRequest handles inbound request frames. A nil hook drops them.
	OnRequest OnRequest
	// OnError fires once when the stream dies for any reason other than
	// a local Close.
	OnError func(error)
	Logger  *zap.Logger
}

type pendingResult struct {
	resp *remote.Response
	err  error
}

// Conn is one bidirectional stream to a peer. It is owned by exactly one
// connection manager (client side) or connection registry (server side)
// and is replaced wholesale, never repaired, after a stream error.
type Conn struct {
	raw       net.Conn
	codecType codec.Type
	opts      Options
	logger    *zap.Logger

	seq     atomic.Uint32
	pending sync.Map // seq -> chan pendingResult
	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

// New wraps raw in a Conn and starts its receive and keep-alive
// goroutines. The Conn owns raw from this point on.
func New(raw net.Conn, ct codec.Type, opts Options) *Conn {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Conn{
		raw:       raw,
		codecType: ct,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("remote", raw.RemoteAddr().String())),
		done:      make(chan struct{}),
	}
	go c.recvLoop()
	go c.heartbeatLoop()
	return c
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Send writes a request frame and blocks until the matching response
// arrives, ctx expires, or the stream dies. Concurrent callers are
// multiplexed by sequence id.
func (c *Conn) Send(ctx context.Context, req *remote.Request) (*remote.Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	seq := c.seq.Add(1)

	// Register before writing so a fast peer cannot answer a seq the
	// recvLoop does not know yet.
	ch := make(chan pendingResult, 1)
	c.pending.Store(seq, ch)

	if err := c.write(protocol.MsgTypeRequest, seq, req); err != nil {
		c.pending.Delete(seq)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		c.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

// Reply answers a request frame previously delivered via OnRequest,
// reusing its sequence id.
func (c *Conn) Reply(seq uint32, resp *remote.Response) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.write(protocol.MsgTypeResponse, seq, resp)
}

// Close tears the stream down. All pending calls resolve with
// ErrClientClosed; OnError does not fire.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	err := c.raw.Close()
	c.failPending(ErrClientClosed)
	return err
}

func (c *Conn) write(mt protocol.MsgType, seq uint32, v any) error {
	body, err := codec.Get(c.codecType).Encode(v)
	if err != nil {
		return err
	}
	h := &protocol.Header{
		CodecType: byte(c.codecType),
		MsgType:   mt,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	// One frame at a time: interleaved writes from concurrent senders
	// would corrupt the stream.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.Encode(c.raw, h, body)
}

// recvLoop is the single reader of the stream. Frame boundaries only
// hold up if exactly one goroutine reads the connection.
func (c *Conn) recvLoop() {
	for {
		h, body, err := protocol.Decode(c.raw)
		if err != nil {
			c.streamBroken(err)
			return
		}
		cdc := codec.Get(codec.Type(h.CodecType))

		switch h.MsgType {
		case protocol.MsgTypeResponse:
			resp := &remote.Response{}
			if err := cdc.Decode(body, resp); err != nil {
				// Malformed payload: drop the frame, keep the stream.
				c.logger.Warn("drop malformed response frame",
					zap.Uint32("seq", h.Seq), zap.Error(err))
				continue
			}
			if ch, ok := c.pending.LoadAndDelete(h.Seq); ok {
				ch.(chan pendingResult) <- pendingResult{resp: resp}
			}
		case protocol.MsgTypeRequest:
			req := &remote.Request{}
			if err := cdc.Decode(body, req); err != nil {
				c.logger.Warn("drop malformed request frame",
					zap.Uint32("seq", h.Seq), zap.Error(err))
				continue
			}
			if c.opts.OnRequest == nil {
				c.logger.Warn("no inbound request handler, dropping",
					zap.Stringer("kind", req.Kind), zap.Uint32("seq", h.Seq))
				continue
			}
			c.opts.OnRequest(h.Seq, req)
		case protocol.MsgTypeHeartbeat:
			// Keep-alive only, nothing to answer.
		}
	}
}

func (c *Conn) streamBroken(err error) {
	if c.closed.Load() {
		// Local Close already resolved the pending calls.
		return
	}
	c.failPending(err)
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

func (c *Conn) failPending(err error) {
	c.pending.Range(func(key, value any) bool {
		if ch, ok := c.pending.LoadAndDelete(key); ok {
			ch.(chan pendingResult) <- pendingResult{err: err}
		}
		return true
	})
}

// heartbeatLoop keeps idle streams alive through NATs and LBs. Real
// liveness checking happens at the request layer.
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			h := &protocol.Header{
				CodecType: byte(c.codecType),
				MsgType:   protocol.MsgTypeHeartbeat,
			}
			c.writeMu.Lock()
			err := protocol.Encode(c.raw, h, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
