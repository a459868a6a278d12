// Package client implements the connection manager: the client-side
// state machine that keeps one control channel open to a registry
// server, fails over between endpoints, correlates in-flight requests,
// and replays live registrations after every reconnect.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/codec"
	"github.com/w-xiyan/nacos/naming"
	"github.com/w-xiyan/nacos/remote"
	"github.com/w-xiyan/nacos/serverlist"
	"github.com/w-xiyan/nacos/transport"
)

// ClientVersion is reported to the server in the connection setup.
const ClientVersion = "go-2.0.0"

// ErrClientNotRunning fails a request issued while no usable connection
// exists. Requests never queue waiting for a reconnect.
var ErrClientNotRunning = errors.New("client not connected")

const (
	defaultRequestTimeout      = 3 * time.Second
	defaultSetupAckTimeout     = 3 * time.Second
	defaultDialTimeout         = 3 * time.Second
	defaultHealthCheckInterval = 5 * time.Second
	defaultBeatInterval        = 5 * time.Second
	defaultMaxBackoff          = 5 * time.Second

	healthCheckRetryTimes = 3
)

// Config carries the client's identity and timing knobs. Zero values
// select the defaults.
type Config struct {
	// Name is the stable logical client identity, kept across
	// reconnects. Falls back to the server-assigned connection id per
	// connection when empty.
	Name      string
	Tenant    string
	Labels    map[string]string
	Abilities []string
	CodecType codec.Type

	RequestTimeout      time.Duration
	SetupAckTimeout     time.Duration
	DialTimeout         time.Duration
	HealthCheckInterval time.Duration
	BeatInterval        time.Duration
	MaxReconnectBackoff time.Duration
}

func (c *Config) withDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.SetupAckTimeout <= 0 {
		c.SetupAckTimeout = defaultSetupAckTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.BeatInterval <= 0 {
		c.BeatInterval = defaultBeatInterval
	}
	if c.MaxReconnectBackoff <= 0 {
		c.MaxReconnectBackoff = defaultMaxBackoff
	}
}

// DialFunc opens the raw connection to an endpoint. Overridable for
// tests.
type DialFunc func(ep serverlist.Endpoint, timeout time.Duration) (net.Conn, error)

func defaultDial(ep serverlist.Endpoint, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", ep.Addr(), timeout)
}

// SubscribeCallback receives the fresh view pushed for a subscribed
// service. It runs off the stream's receive path.
type SubscribeCallback func(view naming.ServiceView)

// ServerRequestHandler answers a server-initiated push kind the client
// package has no built-in handling for.
type ServerRequestHandler func(req *remote.Request) *remote.Response

// Client is the connection manager.
type Client struct {
	cfg      Config
	logger   *zap.Logger
	resolver serverlist.Resolver
	dial     DialFunc

	state   atomic.Int32
	current atomic.Pointer[serverConnection]
	picker  serverlist.Picker

	handlersMu sync.RWMutex
	handlers   map[remote.Kind]ServerRequestHandler

	subsMu sync.RWMutex
	subs   map[naming.Service]SubscribeCallback

	redo *redoStore

	reconnectCh  chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New builds a client over the given endpoint resolver. The client does
// not own the resolver; the caller closes it after Shutdown.
func New(cfg Config, resolver serverlist.Resolver, logger *zap.Logger) *Client {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:         cfg,
		logger:      logger,
		resolver:    resolver,
		dial:        defaultDial,
		handlers:    make(map[remote.Kind]ServerRequestHandler),
		subs:        make(map[naming.Service]SubscribeCallback),
		redo:        newRedoStore(),
		reconnectCh: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	c.state.Store(int32(StateInitialized))
	return c
}

// SetDialFunc replaces the raw dialer. Must be called before Start.
func (c *Client) SetDialFunc(d DialFunc) {
	c.dial = d
}

// RegisterServerRequestHandler binds a handler for a push kind beyond
// the built-in ones. Must be called before Start.
func (c *Client) RegisterServerRequestHandler(kind remote.Kind, h ServerRequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[kind] = h
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// ConnectionID returns the server-assigned id of the active connection,
// or "" while disconnected.
func (c *Client) ConnectionID() string {
	if sc := c.current.Load(); sc != nil {
		return sc.id
	}
	return ""
}

// Start moves the client out of INITIALIZED and establishes the first
// connection. If no endpoint is reachable the client stays UNHEALTHY
// and keeps retrying in the background; Start itself does not fail for
// that.
func (c *Client) Start() error {
	if !c.state.CompareAndSwap(int32(StateInitialized), int32(StateStarting)) {
		return fmt.Errorf("client already started, state: %s", c.State())
	}

	c.wg.Add(3)
	go c.reconnectLoop()
	go c.healthCheckLoop()
	go c.beatLoop()
	if updates := c.resolver.Watch(); updates != nil {
		c.wg.Add(1)
		go c.watchServerList(updates)
	}

	eps := c.resolver.Endpoints()
	for range eps {
		ep, err := c.picker.Next(eps)
		if err != nil {
			break
		}
		sc, err := c.connectToServer(ep)
		if err != nil {
			c.logger.Warn("connect failed",
				zap.String("endpoint", ep.Addr()), zap.Error(err))
			continue
		}
		c.current.Store(sc)
		if !c.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
			// Shutdown raced the start sequence; SHUTDOWN is terminal.
			if cur := c.current.Swap(nil); cur != nil {
				cur.close()
			}
			return nil
		}
		c.logger.Info("connected",
			zap.String("endpoint", ep.Addr()),
			zap.String("connectionId", sc.id))
		return nil
	}

	c.logger.Warn("no server endpoint reachable, recovering in background")
	if c.state.CompareAndSwap(int32(StateStarting), int32(StateUnhealthy)) {
		c.requestReconnect()
	}
	return nil
}

// connectToServer runs the full STARTING sequence against one endpoint:
// dial, server check, connection setup, then wait for the server's
// asynchronous setup ack before declaring the connection usable.
func (c *Client) connectToServer(ep serverlist.Endpoint) (*serverConnection, error) {
	raw, err := c.dial(ep, c.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	sc := &serverConnection{endpoint: ep}
	ack := make(chan struct{}, 1)
	tc := transport.New(raw, c.cfg.CodecType, transport.Options{
		Logger: c.logger,
		OnRequest: func(seq uint32, req *remote.Request) {
			// Hand off: handling must never block stream reads.
			go c.handleServerRequest(sc, seq, req, ack)
		},
		OnError: func(err error) {
			c.onStreamError(sc, err)
		},
	})
	sc.conn.Store(tc)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	checkReq, err := remote.NewRequest(remote.KindServerCheck, &remote.ServerCheck{})
	if err != nil {
		tc.Close()
		return nil, err
	}
	checkResp, err := tc.Send(ctx, checkReq)
	if err != nil {
		tc.Close()
		return nil, fmt.Errorf("server check %s: %w", ep.Addr(), err)
	}
	if !checkResp.OK() {
		tc.Close()
		return nil, fmt.Errorf("server check %s rejected: %d %s", ep.Addr(), checkResp.Code, checkResp.Message)
	}
	var checkReply remote.ServerCheckReply
	if err := checkResp.Decode(&checkReply); err != nil {
		tc.Close()
		return nil, err
	}
	sc.id = checkReply.ConnectionID

	setupReq, err := remote.NewRequest(remote.KindConnectionSetup, &remote.ConnectionSetup{
		ClientID:      c.cfg.Name,
		ClientVersion: ClientVersion,
		Tenant:        c.cfg.Tenant,
		Labels:        c.cfg.Labels,
		Abilities:     c.cfg.Abilities,
	})
	if err != nil {
		tc.Close()
		return nil, err
	}
	setupResp, err := tc.Send(ctx, setupReq)
	if err != nil {
		tc.Close()
		return nil, fmt.Errorf("connection setup %s: %w", ep.Addr(), err)
	}
	if !setupResp.OK() {
		tc.Close()
		return nil, fmt.Errorf("connection setup %s rejected: %d %s", ep.Addr(), setupResp.Code, setupResp.Message)
	}

	// The connection counts as established only once the server has
	// applied the setup and said so; sending real traffic earlier races
	// the registration of this channel on the server side.
	select {
	case <-ack:
	case <-time.After(c.cfg.SetupAckTimeout):
		tc.Close()
		return nil, fmt.Errorf("timed out waiting for setup ack from %s", ep.Addr())
	}
	return sc, nil
}

func (c *Client) handleServerRequest(sc *serverConnection, seq uint32, req *remote.Request, ack chan struct{}) {
	var resp *remote.Response
	switch req.Kind {
	case remote.KindSetupAck:
		select {
		case ack <- struct{}{}:
		default:
		}
		resp = remote.OKResponse(req.Kind)
	case remote.KindNotifySubscriber:
		resp = c.handleNotify(req)
	case remote.KindClientDetection:
		resp = remote.OKResponse(req.Kind)
	default:
		resp = c.handleCustom(req)
	}

	tc := sc.transport()
	if tc == nil {
		return
	}
	if err := tc.Reply(seq, resp); err != nil {
		c.logger.Warn("reply to server push failed",
			zap.Stringer("kind", req.Kind), zap.Error(err))
	}
}

func (c *Client) handleNotify(req *remote.Request) (resp *remote.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber callback panic", zap.Any("panic", r))
			resp = remote.Errorf(req.Kind, remote.CodeFail, "notify handler error")
		}
	}()

	var notify remote.NotifySubscriber
	if err := req.Decode(&notify); err != nil {
		c.logger.Warn("drop malformed notify push", zap.Error(err))
		return remote.Errorf(req.Kind, remote.CodeBadRequest, "%v", err)
	}
	c.subsMu.RLock()
	cb := c.subs[notify.Service]
	c.subsMu.RUnlock()
	if cb != nil {
		cb(notify.View)
	}
	return remote.OKResponse(req.Kind)
}

func (c *Client) handleCustom(req *remote.Request) (resp *remote.Response) {
	c.handlersMu.RLock()
	h := c.handlers[req.Kind]
	c.handlersMu.RUnlock()
	if h == nil {
		return remote.Errorf(req.Kind, remote.CodeNotFound, "no handler for push kind %s", req.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("server request handler panic",
				zap.Stringer("kind", req.Kind), zap.Any("panic", r))
			resp = remote.Errorf(req.Kind, remote.CodeFail, "handle server request error")
		}
	}()
	return h(req)
}

// onStreamError is one of the two triggers of the recovery path; the
// other is the keep-alive probe. The CAS guarantees that concurrent
// triggers start exactly one switch-server cycle.
func (c *Client) onStreamError(sc *serverConnection, err error) {
	if sc.abandoned.Load() || c.current.Load() != sc {
		c.logger.Debug("ignore stream error on stale connection", zap.Error(err))
		return
	}
	if c.state.CompareAndSwap(int32(StateRunning), int32(StateUnhealthy)) {
		c.logger.Warn("request stream broken, switching server",
			zap.String("connectionId", sc.id), zap.Error(err))
		c.requestReconnect()
	}
}

func (c *Client) requestReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.reconnectCh:
			c.reconnect()
		}
	}
}

// reconnect cycles endpoints until one accepts the STARTING sequence,
// sleeping with bounded backoff between full rounds. On success it swaps
// the connection, restores RUNNING, and replays the redo set.
func (c *Client) reconnect() {
	c.state.CompareAndSwap(int32(StateUnhealthy), int32(StateStarting))
	for round := 0; ; round++ {
		if c.State() == StateShutdown {
			return
		}
		eps := c.resolver.Endpoints()
		for range eps {
			if c.State() == StateShutdown {
				return
			}
			ep, err := c.picker.Next(eps)
			if err != nil {
				break
			}
			sc, err := c.connectToServer(ep)
			if err != nil {
				c.logger.Warn("reconnect attempt failed",
					zap.String("endpoint", ep.Addr()), zap.Error(err))
				continue
			}
			if old := c.current.Swap(sc); old != nil {
				old.close()
			}
			if !c.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
				// Shutdown raced the reconnect.
				if cur := c.current.Swap(nil); cur != nil {
					cur.close()
				}
				return
			}
			c.logger.Info("reconnected",
				zap.String("endpoint", ep.Addr()),
				zap.String("connectionId", sc.id))
			c.replayRedo(sc)
			return
		}

		backoff := c.backoff(round)
		c.logger.Warn("all endpoints failed, backing off",
			zap.Int("round", round), zap.Duration("backoff", backoff))
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}
	}
}

func (c *Client) backoff(round int) time.Duration {
	if round > 10 {
		round = 10
	}
	d := 100 * time.Millisecond << uint(round)
	if d > c.cfg.MaxReconnectBackoff {
		d = c.cfg.MaxReconnectBackoff
	}
	return d
}

// replayRedo re-sends every buffered registration and subscription on a
// fresh connection. Failures stay in the redo set; the beat loop's
// not-found path retries registrations that slipped through.
func (c *Client) replayRedo(sc *serverConnection) {
	tc := sc.transport()
	if tc == nil {
		return
	}
	for svc, inst := range c.redo.instanceSnapshot() {
		if err := c.sendInstanceOp(tc, remote.InstanceOpRegister, svc, inst); err != nil {
			c.logger.Warn("replay registration failed",
				zap.Stringer("service", svc), zap.Error(err))
		}
	}
	for _, svc := range c.redo.subscriptionSnapshot() {
		if err := c.sendSubscribe(tc, svc, true); err != nil {
			c.logger.Warn("replay subscription failed",
				zap.Stringer("service", svc), zap.Error(err))
		}
	}
}

func (c *Client) sendInstanceOp(tc *transport.Conn, op string, svc naming.Service, inst naming.Instance) error {
	req, err := remote.NewRequest(remote.KindInstance, &remote.InstanceRequest{
		Op:       op,
		Service:  svc,
		Instance: inst,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	resp, err := tc.Send(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%s rejected: %d %s", op, resp.Code, resp.Message)
	}
	return nil
}

func (c *Client) sendSubscribe(tc *transport.Conn, svc naming.Service, subscribe bool) error {
	req, err := remote.NewRequest(remote.KindSubscribe, &remote.Subscribe{
		Service:   svc,
		Subscribe: subscribe,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	resp, err := tc.Send(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("subscribe rejected: %d %s", resp.Code, resp.Message)
	}
	return nil
}

// Request sends one request on the active connection and waits for its
// response. It fails fast while the client is not RUNNING instead of
// queuing, and never blocks past the context deadline (the configured
// request timeout applies when the context has none).
func (c *Client) Request(ctx context.Context, req *remote.Request) (*remote.Response, error) {
	if state := c.State(); state != StateRunning {
		return nil, fmt.Errorf("%w, current status: %s", ErrClientNotRunning, state)
	}
	sc := c.current.Load()
	if sc == nil {
		return nil, fmt.Errorf("%w, no active connection", ErrClientNotRunning)
	}
	tc := sc.transport()
	if tc == nil {
		return nil, fmt.Errorf("%w, no active connection", ErrClientNotRunning)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := tc.Send(ctx, req)
	if err != nil {
		// A dead stream starts recovery; a caller-side deadline does
		// not.
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			c.onStreamError(sc, err)
		}
		return nil, err
	}
	return resp, nil
}

// RegisterInstance publishes an instance under svc. The registration is
// buffered locally first, so it survives a dead channel and is replayed
// after reconnect even when the immediate send fails.
func (c *Client) RegisterInstance(ctx context.Context, svc naming.Service, inst naming.Instance) error {
	svc = naming.NewService(svc.Namespace, svc.Group, svc.Name)
	c.redo.putInstance(svc, inst)

	req, err := remote.NewRequest(remote.KindInstance, &remote.InstanceRequest{
		Op:       remote.InstanceOpRegister,
		Service:  svc,
		Instance: inst,
	})
	if err != nil {
		return err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("register instance rejected: %d %s", resp.Code, resp.Message)
	}
	return nil
}

// DeregisterInstance withdraws the instance published under svc. When
// the deregister cannot be delivered the registration goes back into the
// redo set: the server still holds the instance, so dropping it locally
// would desync the two until expiry.
func (c *Client) DeregisterInstance(ctx context.Context, svc naming.Service) error {
	svc = naming.NewService(svc.Namespace, svc.Group, svc.Name)
	inst, ok := c.redo.takeInstance(svc)
	if !ok {
		return nil
	}

	req, err := remote.NewRequest(remote.KindInstance, &remote.InstanceRequest{
		Op:       remote.InstanceOpDeregister,
		Service:  svc,
		Instance: inst,
	})
	if err != nil {
		c.redo.putInstance(svc, inst)
		return err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		c.redo.putInstance(svc, inst)
		return err
	}
	if !resp.OK() {
		c.redo.putInstance(svc, inst)
		return fmt.Errorf("deregister instance rejected: %d %s", resp.Code, resp.Message)
	}
	return nil
}

// Subscribe registers cb for pushes about svc and returns the view
// current at subscribe time.
func (c *Client) Subscribe(ctx context.Context, svc naming.Service, cb SubscribeCallback) (*naming.ServiceView, error) {
	svc = naming.NewService(svc.Namespace, svc.Group, svc.Name)
	c.subsMu.Lock()
	c.subs[svc] = cb
	c.subsMu.Unlock()
	c.redo.putSubscription(svc)

	req, err := remote.NewRequest(remote.KindSubscribe, &remote.Subscribe{
		Service:   svc,
		Subscribe: true,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("subscribe rejected: %d %s", resp.Code, resp.Message)
	}
	var reply remote.SubscribeReply
	if err := resp.Decode(&reply); err != nil {
		return nil, err
	}
	return &reply.View, nil
}

// Unsubscribe stops pushes for svc.
func (c *Client) Unsubscribe(ctx context.Context, svc naming.Service) error {
	svc = naming.NewService(svc.Namespace, svc.Group, svc.Name)
	c.subsMu.Lock()
	delete(c.subs, svc)
	c.subsMu.Unlock()
	c.redo.removeSubscription(svc)

	req, err := remote.NewRequest(remote.KindSubscribe, &remote.Subscribe{
		Service:   svc,
		Subscribe: false,
	})
	if err != nil {
		return err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("unsubscribe rejected: %d %s", resp.Code, resp.Message)
	}
	return nil
}

// QueryService fetches the current view of svc.
func (c *Client) QueryService(ctx context.Context, svc naming.Service, cluster string, healthyOnly bool) (*naming.ServiceView, error) {
	svc = naming.NewService(svc.Namespace, svc.Group, svc.Name)
	req, err := remote.NewRequest(remote.KindServiceQuery, &remote.ServiceQuery{
		Service:     svc,
		Cluster:     cluster,
		HealthyOnly: healthyOnly,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("service query rejected: %d %s", resp.Code, resp.Message)
	}
	var reply remote.ServiceQueryReply
	if err := resp.Decode(&reply); err != nil {
		return nil, err
	}
	return &reply.View, nil
}

// ListServices enumerates services known to the server.
func (c *Client) ListServices(ctx context.Context, namespace, group string) ([]string, error) {
	req, err := remote.NewRequest(remote.KindServiceList, &remote.ServiceList{
		Namespace: namespace,
		Group:     group,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("service list rejected: %d %s", resp.Code, resp.Message)
	}
	var reply remote.ServiceListReply
	if err := resp.Decode(&reply); err != nil {
		return nil, err
	}
	return reply.Services, nil
}

// healthCheckLoop probes the active connection periodically. Three
// consecutive failures force UNHEALTHY through the same CAS the stream
// error path uses.
func (c *Client) healthCheckLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		if c.State() != StateRunning {
			continue
		}
		sc := c.current.Load()
		if sc == nil {
			continue
		}
		if c.probe(sc) {
			continue
		}
		if c.current.Load() == sc && c.state.CompareAndSwap(int32(StateRunning), int32(StateUnhealthy)) {
			c.logger.Warn("server check failed, switching server",
				zap.String("connectionId", sc.id))
			c.requestReconnect()
		}
	}
}

func (c *Client) probe(sc *serverConnection) bool {
	tc := sc.transport()
	if tc == nil {
		return false
	}
	req, err := remote.NewRequest(remote.KindHealthCheck, &remote.HealthCheck{})
	if err != nil {
		return false
	}
	for i := 0; i < healthCheckRetryTimes; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		resp, err := tc.Send(ctx, req)
		cancel()
		if err == nil && resp.OK() {
			return true
		}
	}
	return false
}

// beatLoop reports liveness for every buffered ephemeral instance while
// RUNNING. A not-found answer means the server lost this client's
// state, so the instance is re-registered from the redo buffer.
func (c *Client) beatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.BeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		if c.State() != StateRunning {
			continue
		}
		for svc, inst := range c.redo.instanceSnapshot() {
			if !inst.Ephemeral {
				continue
			}
			c.sendBeat(svc, inst)
		}
	}
}

func (c *Client) sendBeat(svc naming.Service, inst naming.Instance) {
	req, err := remote.NewRequest(remote.KindClientBeat, &remote.ClientBeat{
		Service: svc,
		IP:      inst.IP,
		Port:    inst.Port,
		Cluster: inst.Cluster,
	})
	if err != nil {
		return
	}
	resp, err := c.Request(context.Background(), req)
	if err != nil {
		c.logger.Debug("client beat failed", zap.Stringer("service", svc), zap.Error(err))
		return
	}
	if resp.Code == remote.CodeNotFound {
		if !c.redo.hasInstance(svc) {
			// Deregistered while the beat was in flight.
			return
		}
		c.logger.Info("server lost registration, re-registering",
			zap.Stringer("service", svc))
		if err := c.RegisterInstance(context.Background(), svc, inst); err != nil {
			c.logger.Warn("re-register failed", zap.Stringer("service", svc), zap.Error(err))
		}
	}
}

func (c *Client) watchServerList(updates <-chan []serverlist.Endpoint) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case eps, ok := <-updates:
			if !ok {
				return
			}
			c.logger.Info("server list updated", zap.Int("endpoints", len(eps)))
			if c.State() == StateUnhealthy {
				c.requestReconnect()
			}
		}
	}
}

// Shutdown is the terminal transition. It is explicit and idempotent:
// every pending call on the active connection resolves with the
// client-closed error, background loops stop, and no further state
// change is possible.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.state.Store(int32(StateShutdown))
		close(c.done)
		if sc := c.current.Swap(nil); sc != nil {
			sc.close()
		}
		c.wg.Wait()
		c.logger.Info("client shut down")
	})
}
