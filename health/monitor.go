// Package health turns client heartbeats into instance liveness state.
// The fast path reacts to beat requests; a background sweep marks silent
// instances unhealthy and eventually removes them.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/index"
	"github.com/w-xiyan/nacos/naming"
)

// Default liveness windows, matching the classic 15s/30s ephemeral
// instance timeouts.
const (
	DefaultUnhealthyTimeout = 15 * time.Second
	DefaultExpireTimeout    = 30 * time.Second
	DefaultSweepInterval    = 5 * time.Second
)

// Beat is one heartbeat signal for a published instance.
type Beat struct {
	Service naming.Service
	IP      string
	Port    int
	Cluster string
}

// Config holds the monitor's liveness windows.
type Config struct {
	// UnhealthyTimeout is the silence after which an instance is marked
	// unhealthy.
	UnhealthyTimeout time.Duration
	// ExpireTimeout is the silence after which an ephemeral instance is
	// removed entirely.
	ExpireTimeout time.Duration
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.UnhealthyTimeout <= 0 {
		c.UnhealthyTimeout = DefaultUnhealthyTimeout
	}
	if c.ExpireTimeout <= 0 {
		c.ExpireTimeout = DefaultExpireTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Monitor consumes heartbeats and runs the liveness sweeps. Every state
// transition goes through the change listener, which owns the
// invalidate-then-notify ordering, so the fast path and the sweeps
// cannot notify on stale view data.
type Monitor struct {
	index    *index.Manager
	listener index.ChangeListener
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewMonitor builds a monitor over idx reporting transitions to
// listener.
func NewMonitor(idx *index.Manager, listener index.ChangeListener, cfg Config, logger *zap.Logger) *Monitor {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		index:    idx,
		listener: listener,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessBeat handles one heartbeat. A beat for a healthy instance only
// refreshes its timestamp; a beat for an unhealthy, unmarked instance
// flips it back to healthy and triggers one invalidate-and-notify cycle.
// It reports whether a matching instance exists, so the transport layer
// can tell the client to re-register.
func (m *Monitor) ProcessBeat(b Beat) bool {
	found, recovered := m.index.TouchBeat(b.Service, b.IP, b.Port, m.now())
	if !found {
		m.logger.Debug("beat for unknown instance",
			zap.Stringer("service", b.Service),
			zap.String("ip", b.IP), zap.Int("port", b.Port))
		return false
	}
	if recovered {
		m.logger.Info("instance recovered by client beat",
			zap.Stringer("service", b.Service),
			zap.String("ip", b.IP), zap.Int("port", b.Port))
		m.listener.ServiceChanged(b.Service)
	}
	return true
}

// Start runs the background sweep until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one pass of the unhealthy and expiry checks, notifying once
// per changed service.
func (m *Monitor) Sweep() {
	now := m.now()
	for _, svc := range m.index.SweepUnhealthy(now, m.cfg.UnhealthyTimeout) {
		m.listener.ServiceChanged(svc)
	}
	for _, svc := range m.index.SweepExpired(now, m.cfg.ExpireTimeout) {
		m.listener.ServiceChanged(svc)
	}
}
