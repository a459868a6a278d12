package index

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/naming"
)

// ChangeListener is told after any mutation that changes the observable
// member set or health state of a service. The listener owns the
// invalidate-then-notify sequencing; the index only promises to call it
// after the mutation is visible and before the mutating call returns.
type ChangeListener interface {
	ServiceChanged(svc naming.Service)
}

// ListenerFunc adapts a function to the ChangeListener interface.
type ListenerFunc func(svc naming.Service)

func (f ListenerFunc) ServiceChanged(svc naming.Service) { f(svc) }

// serviceClients is the per-service set of publishing client ids. Each
// service has its own lock, so mutations on different services never
// block each other.
type serviceClients struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// Manager is the client registration index.
type Manager struct {
	logger   *zap.Logger
	clients  sync.Map // client id -> *clientRecord
	services sync.Map // naming.Service -> *serviceClients

	mu       sync.RWMutex
	listener ChangeListener
}

// NewManager builds an empty index.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// SetListener wires the change listener. Must be called before the index
// starts receiving traffic; mutations with no listener only log.
func (m *Manager) SetListener(l ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

func (m *Manager) notifyChanged(svc naming.Service) {
	m.mu.RLock()
	l := m.listener
	m.mu.RUnlock()
	if l != nil {
		l.ServiceChanged(svc)
	}
}

func (m *Manager) record(clientID string) (*clientRecord, bool) {
	v, ok := m.clients.Load(clientID)
	if !ok {
		return nil, false
	}
	return v.(*clientRecord), true
}

func (m *Manager) ensureRecord(clientID string) *clientRecord {
	if rec, ok := m.record(clientID); ok {
		return rec
	}
	actual, _ := m.clients.LoadOrStore(clientID, newClientRecord(clientID))
	return actual.(*clientRecord)
}

func (m *Manager) serviceSet(svc naming.Service) *serviceClients {
	if v, ok := m.services.Load(svc); ok {
		return v.(*serviceClients)
	}
	actual, _ := m.services.LoadOrStore(svc, &serviceClients{ids: make(map[string]struct{})})
	return actual.(*serviceClients)
}

// RegisterInstance records that clientID publishes info under svc. A
// repeated registration from the same client replaces the previous
// record. The service's cached view is invalidated before this returns.
func (m *Manager) RegisterInstance(clientID string, svc naming.Service, info naming.InstancePublishInfo) {
	if info.LastBeat == 0 {
		info.LastBeat = time.Now().UnixMilli()
	}
	m.ensureRecord(clientID).publish(svc, info)

	set := m.serviceSet(svc)
	set.mu.Lock()
	set.ids[clientID] = struct{}{}
	set.mu.Unlock()

	m.logger.Info("instance registered",
		zap.Stringer("service", svc),
		zap.String("clientId", clientID),
		zap.String("instance", info.Key()))
	m.notifyChanged(svc)
}

// DeregisterInstance removes clientID's instance under svc, reporting
// whether anything was removed.
func (m *Manager) DeregisterInstance(clientID string, svc naming.Service) bool {
	rec, ok := m.record(clientID)
	if !ok || !rec.unpublish(svc) {
		return false
	}

	m.detachFromService(svc, clientID)
	m.logger.Info("instance deregistered",
		zap.Stringer("service", svc),
		zap.String("clientId", clientID))
	m.notifyChanged(svc)
	return true
}

// RemoveClient purges every registration owned by clientID. Idempotent:
// removing an unknown client is a no-op.
func (m *Manager) RemoveClient(clientID string) {
	v, ok := m.clients.LoadAndDelete(clientID)
	if !ok {
		return
	}
	rec := v.(*clientRecord)
	svcs := rec.services()
	for _, svc := range svcs {
		m.detachFromService(svc, clientID)
	}
	m.logger.Info("client removed",
		zap.String("clientId", clientID),
		zap.Int("services", len(svcs)))
	for _, svc := range svcs {
		m.notifyChanged(svc)
	}
}

func (m *Manager) detachFromService(svc naming.Service, clientID string) {
	v, ok := m.services.Load(svc)
	if !ok {
		return
	}
	set := v.(*serviceClients)
	set.mu.Lock()
	delete(set.ids, clientID)
	set.mu.Unlock()
}

// ClientsForService snapshots the ids of clients publishing under svc.
func (m *Manager) ClientsForService(svc naming.Service) []string {
	v, ok := m.services.Load(svc)
	if !ok {
		return nil
	}
	set := v.(*serviceClients)
	set.mu.RLock()
	defer set.mu.RUnlock()
	out := make([]string, 0, len(set.ids))
	for id := range set.ids {
		out = append(out, id)
	}
	return out
}

// ClientCount returns how many clients publish under svc.
func (m *Manager) ClientCount(svc naming.Service) int {
	v, ok := m.services.Load(svc)
	if !ok {
		return 0
	}
	set := v.(*serviceClients)
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.ids)
}

// Instance returns a copy of the record clientID published under svc. A
// vanished client reads as "instance absent", never as an error.
func (m *Manager) Instance(clientID string, svc naming.Service) (naming.InstancePublishInfo, bool) {
	rec, ok := m.record(clientID)
	if !ok {
		return naming.InstancePublishInfo{}, false
	}
	return rec.instance(svc)
}

// HasClient reports whether clientID currently owns any registration
// record.
func (m *Manager) HasClient(clientID string) bool {
	_, ok := m.clients.Load(clientID)
	return ok
}

// Services snapshots every service that currently has at least one
// publisher.
func (m *Manager) Services() []naming.Service {
	var out []naming.Service
	m.services.Range(func(key, value any) bool {
		set := value.(*serviceClients)
		set.mu.RLock()
		n := len(set.ids)
		set.mu.RUnlock()
		if n > 0 {
			out = append(out, key.(naming.Service))
		}
		return true
	})
	return out
}
