// Package push tracks which connections subscribe to which services and
// delivers freshly recomputed views to them when a service changes.
package push

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/metrics"
	"github.com/w-xiyan/nacos/naming"
	"github.com/w-xiyan/nacos/remote"
	"github.com/w-xiyan/nacos/store"
)

// DefaultPushTimeout bounds one push round-trip to a subscriber.
const DefaultPushTimeout = 3 * time.Second

// Pusher is a connection that can receive server-initiated pushes. The
// server-side connection type implements it.
type Pusher interface {
	ID() string
	Push(ctx context.Context, req *remote.Request) (*remote.Response, error)
}

// Notifier is the change listener wired into the registration index. On
// every service change it evicts the cached view, recomputes it, and
// pushes the result to all subscribers of that service. The eviction and
// recomputation happen synchronously inside ServiceChanged, so a pushed
// view always reflects a state computed strictly after the triggering
// mutation.
type Notifier struct {
	store   *store.Store
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Set

	mu   sync.RWMutex
	subs map[naming.Service]map[string]Pusher
}

// NewNotifier builds a notifier over the given view store. timeout <= 0
// selects the default push timeout.
func NewNotifier(st *store.Store, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		store:   st,
		timeout: timeout,
		logger:  logger,
		subs:    make(map[naming.Service]map[string]Pusher),
	}
}

// SetMetrics wires push delivery counters. Optional; call before use.
func (n *Notifier) SetMetrics(m *metrics.Set) {
	n.metrics = m
}

// Subscribe registers p for pushes about svc.
func (n *Notifier) Subscribe(svc naming.Service, p Pusher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.subs[svc]
	if !ok {
		set = make(map[string]Pusher)
		n.subs[svc] = set
	}
	set[p.ID()] = p
}

// Unsubscribe removes the subscription of connection connID to svc.
func (n *Notifier) Unsubscribe(svc naming.Service, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if set, ok := n.subs[svc]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(n.subs, svc)
		}
	}
}

// RemoveSubscriber drops every subscription held by connection connID,
// used when the connection goes away.
func (n *Notifier) RemoveSubscriber(connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for svc, set := range n.subs {
		delete(set, connID)
		if len(set) == 0 {
			delete(n.subs, svc)
		}
	}
}

// SubscriberCount reports how many connections subscribe to svc.
func (n *Notifier) SubscriberCount(svc naming.Service) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[svc])
}

// ServiceChanged implements index.ChangeListener. Invalidate first, then
// compute, then notify; reordering any of these would push stale views.
func (n *Notifier) ServiceChanged(svc naming.Service) {
	n.store.Invalidate(svc)
	view := n.store.View(svc)

	n.mu.RLock()
	targets := make([]Pusher, 0, len(n.subs[svc]))
	for _, p := range n.subs[svc] {
		targets = append(targets, p)
	}
	n.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	req, err := remote.NewRequest(remote.KindNotifySubscriber, &remote.NotifySubscriber{
		Service: svc,
		View:    *view,
	})
	if err != nil {
		n.logger.Error("encode notify push", zap.Stringer("service", svc), zap.Error(err))
		return
	}

	// The view is already pinned; delivery can run off the mutating
	// path without breaking the invalidate-before-notify ordering.
	for _, p := range targets {
		go n.pushOne(svc, p, req)
	}
}

func (n *Notifier) pushOne(svc naming.Service, p Pusher, req *remote.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	resp, err := p.Push(ctx, req)
	if err != nil {
		n.logger.Warn("push to subscriber failed",
			zap.Stringer("service", svc),
			zap.String("connectionId", p.ID()),
			zap.Error(err))
		n.countPush("error")
		return
	}
	if !resp.OK() {
		n.logger.Warn("subscriber rejected push",
			zap.Stringer("service", svc),
			zap.String("connectionId", p.ID()),
			zap.Int("code", resp.Code),
			zap.String("message", resp.Message))
		n.countPush("rejected")
		return
	}
	n.countPush("ok")
}

func (n *Notifier) countPush(result string) {
	if n.metrics != nil {
		n.metrics.PushesTotal.WithLabelValues(result).Inc()
	}
}
