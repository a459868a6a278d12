package index

import (
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/naming"
)

// Health-state mutators. The health monitor decides when to apply them
// and owns the follow-up change notification; locking stays in here so
// liveness fields are never touched outside a client record's lock.

// TouchBeat refreshes the heartbeat timestamp of the instance matching
// ip:port under svc. It reports whether an instance was found and
// whether the beat flipped it from unhealthy back to healthy. Beats for
// healthy instances only refresh the timestamp.
func (m *Manager) TouchBeat(svc naming.Service, ip string, port int, now time.Time) (found, recovered bool) {
	for _, clientID := range m.ClientsForService(svc) {
		rec, ok := m.record(clientID)
		if !ok {
			continue
		}
		rec.mu.Lock()
		p, ok := rec.publishers[svc]
		if !ok || p.IP != ip || p.Port != port {
			rec.mu.Unlock()
			continue
		}
		p.LastBeat = now.UnixMilli()
		if !p.Marked && !p.Healthy {
			p.Healthy = true
			recovered = true
		}
		rec.mu.Unlock()
		return true, recovered
	}
	return false, false
}

// SweepUnhealthy marks instances with no beat inside timeout as
// unhealthy and returns the services whose member health changed. Each
// timeout breach flips an instance exactly once; already-unhealthy
// instances are skipped.
func (m *Manager) SweepUnhealthy(now time.Time, timeout time.Duration) []naming.Service {
	deadline := now.Add(-timeout).UnixMilli()
	changed := make(map[naming.Service]struct{})

	m.clients.Range(func(_, value any) bool {
		rec := value.(*clientRecord)
		rec.mu.Lock()
		for svc, p := range rec.publishers {
			if p.Healthy && !p.Marked && p.LastBeat < deadline {
				p.Healthy = false
				m.logger.Warn("instance marked unhealthy",
					zap.Stringer("service", svc),
					zap.String("clientId", rec.id),
					zap.String("instance", p.Key()),
					zap.Int64("lastBeat", p.LastBeat))
				changed[svc] = struct{}{}
			}
		}
		rec.mu.Unlock()
		return true
	})
	return keys(changed)
}

// SweepExpired removes ephemeral instances with no beat inside timeout
// and returns the services whose member set changed.
func (m *Manager) SweepExpired(now time.Time, timeout time.Duration) []naming.Service {
	deadline := now.Add(-timeout).UnixMilli()
	changed := make(map[naming.Service]struct{})

	m.clients.Range(func(_, value any) bool {
		rec := value.(*clientRecord)
		var expired []naming.Service
		rec.mu.Lock()
		for svc, p := range rec.publishers {
			if p.Ephemeral && !p.Marked && p.LastBeat < deadline {
				delete(rec.publishers, svc)
				expired = append(expired, svc)
				m.logger.Warn("expired instance removed",
					zap.Stringer("service", svc),
					zap.String("clientId", rec.id),
					zap.String("instance", p.Key()))
			}
		}
		rec.mu.Unlock()
		for _, svc := range expired {
			m.detachFromService(svc, rec.id)
			changed[svc] = struct{}{}
		}
		return true
	})
	return keys(changed)
}

func keys(set map[naming.Service]struct{}) []naming.Service {
	if len(set) == 0 {
		return nil
	}
	out := make([]naming.Service, 0, len(set))
	for svc := range set {
		out = append(out, svc)
	}
	return out
}
