// Package server implements the registry server: it accepts control
// channels, runs inbound requests through the filter chain and the
// kind-keyed handler table, and keeps the connection registry that the
// push notifier delivers through.
//
// Request path:
//
//	accept conn → transport recvLoop (single reader per conn)
//	  → per request: goroutine → filter chain → handler → Reply
package server

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/codec"
	"github.com/w-xiyan/nacos/filter"
	"github.com/w-xiyan/nacos/health"
	"github.com/w-xiyan/nacos/index"
	"github.com/w-xiyan/nacos/metrics"
	"github.com/w-xiyan/nacos/push"
	"github.com/w-xiyan/nacos/remote"
	"github.com/w-xiyan/nacos/store"
	"github.com/w-xiyan/nacos/transport"
)

// Handler answers one request kind. Handlers are registered per kind, so
// new request types plug in without touching existing handlers.
type Handler func(req *remote.Request, meta *remote.Meta) *remote.Response

// Deps are the collaborators a Server works against. All of them are
// required except Metrics.
type Deps struct {
	Index    *index.Manager
	Store    *store.Store
	Monitor  *health.Monitor
	Notifier *push.Notifier
	Metrics  *metrics.Set
	Logger   *zap.Logger
}

// Server is the registry server.
type Server struct {
	logger    *zap.Logger
	metrics   *metrics.Set
	index     *index.Manager
	store     *store.Store
	monitor   *health.Monitor
	notifier  *push.Notifier
	chain     *filter.Chain
	codecType codec.Type

	handlers map[remote.Kind]Handler

	listener net.Listener
	conns    sync.Map // connection id -> *Conn
	owners   sync.Map // logical client id -> owning connection id
	connSeq  atomic.Uint64
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// New builds a server and registers the built-in handlers.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		index:    deps.Index,
		store:    deps.Store,
		monitor:  deps.Monitor,
		notifier: deps.Notifier,
		chain:    filter.NewChain(deps.Logger),
		handlers: make(map[remote.Kind]Handler),
	}
	s.registerBuiltins()
	return s
}

// Use appends a filter to the dispatch chain. Call before Serve.
func (s *Server) Use(f filter.Filter) {
	s.chain.Use(f)
}

// RegisterHandler binds a handler to a request kind, replacing any
// previous binding. Call before Serve.
func (s *Server) RegisterHandler(kind remote.Kind, h Handler) {
	s.handlers[kind] = h
}

// Serve listens on address and accepts control channels until Shutdown.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info("registry server listening", zap.String("address", listener.Addr().String()))

	for {
		raw, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.handleConn(raw)
	}
}

// Addr returns the bound listen address, valid once Serve has started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleConn(raw net.Conn) {
	connID := s.nextConnID(raw)
	sc := &Conn{
		id:          connID,
		remoteIP:    remoteIP(raw),
		connectedAt: time.Now(),
	}
	sc.tc.Store(transport.New(raw, s.codecType, transport.Options{
		Logger: s.logger,
		OnRequest: func(seq uint32, req *remote.Request) {
			// Off the receive path: a slow handler must not stall
			// stream reads.
			s.wg.Add(1)
			go s.dispatch(sc, seq, req)
		},
		OnError: func(err error) {
			s.logger.Info("client stream broken",
				zap.String("connectionId", connID), zap.Error(err))
			s.unregisterConn(sc)
		},
	}))
	s.conns.Store(connID, sc)
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Inc()
	}
	s.logger.Info("client connected",
		zap.String("connectionId", connID),
		zap.String("remote", raw.RemoteAddr().String()))
}

// nextConnID builds ids like "1693392000000_10.0.0.7_41272_17", unique
// per process and traceable to the peer.
func (s *Server) nextConnID(raw net.Conn) string {
	host, port, err := net.SplitHostPort(raw.RemoteAddr().String())
	if err != nil {
		host, port = raw.RemoteAddr().String(), "0"
	}
	return fmt.Sprintf("%d_%s_%s_%s",
		time.Now().UnixMilli(), host, port,
		strconv.FormatUint(s.connSeq.Add(1), 10))
}

// unregisterConn tears down everything owned by a gone connection: its
// subscriptions, then its registrations. Registrations are keyed by the
// logical client id, which a reconnecting client carries over to its
// fresh connection, so they are removed only while the departing
// connection still owns that id.
func (s *Server) unregisterConn(sc *Conn) {
	if _, ok := s.conns.LoadAndDelete(sc.id); !ok {
		return
	}
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Dec()
	}
	if tc := sc.transport(); tc != nil {
		tc.Close()
	}
	s.notifier.RemoveSubscriber(sc.id)

	clientID := sc.ClientID()
	if owner, ok := s.owners.Load(clientID); ok && owner.(string) != sc.id {
		s.logger.Info("client identity reclaimed by a newer connection, keeping registrations",
			zap.String("connectionId", sc.id),
			zap.String("clientId", clientID))
		return
	}
	s.owners.CompareAndDelete(clientID, sc.id)
	s.index.RemoveClient(clientID)
}

func (s *Server) dispatch(sc *Conn, seq uint32, req *remote.Request) {
	defer s.wg.Done()
	start := time.Now()
	meta := sc.meta()

	resp := s.chain.Apply(req, meta)
	if resp == nil {
		h, ok := s.handlers[req.Kind]
		if !ok {
			resp = remote.Errorf(req.Kind, remote.CodeNotFound,
				"no handler for request kind %s", req.Kind)
		} else {
			resp = s.safeHandle(h, req, meta)
		}
	}

	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(req.Kind.String(), strconv.Itoa(resp.Code)).Inc()
		s.metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}
	tc := sc.transport()
	if tc == nil {
		s.logger.Warn("drop response, stream not attached",
			zap.String("connectionId", sc.id),
			zap.Stringer("kind", req.Kind))
		return
	}
	if err := tc.Reply(seq, resp); err != nil {
		s.logger.Warn("write response failed",
			zap.String("connectionId", sc.id),
			zap.Stringer("kind", req.Kind),
			zap.Error(err))
	}
}

// safeHandle converts a handler panic into a typed failure response so a
// broken handler cannot take the dispatch worker down.
func (s *Server) safeHandle(h Handler, req *remote.Request, meta *remote.Meta) (resp *remote.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				zap.Stringer("kind", req.Kind),
				zap.String("connectionId", meta.ConnectionID),
				zap.Any("panic", r))
			resp = remote.Errorf(req.Kind, remote.CodeFail, "handle request error")
		}
	}()
	return h(req, meta)
}

// Shutdown stops accepting, closes every connection, and waits up to
// timeout for in-flight requests to drain.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Flag first: Accept failing due to the close below must read as an
	// intentional stop.
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	s.conns.Range(func(_, value any) bool {
		s.unregisterConn(value.(*Conn))
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight requests")
	}
}
