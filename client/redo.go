package client

import (
	"sync"

	"github.com/w-xiyan/nacos/naming"
)

// redoStore remembers every registration and subscription the client
// wants to exist on the server. Writes land here before they are sent,
// so publishes made while the channel is down are buffered, not
// dropped, and the whole set is replayed against a fresh connection
// after every reconnect.
type redoStore struct {
	mu            sync.RWMutex
	instances     map[naming.Service]naming.Instance
	subscriptions map[naming.Service]struct{}
}

func newRedoStore() *redoStore {
	return &redoStore{
		instances:     make(map[naming.Service]naming.Instance),
		subscriptions: make(map[naming.Service]struct{}),
	}
}

func (r *redoStore) putInstance(svc naming.Service, inst naming.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[svc] = inst
}

// takeInstance removes and returns the buffered registration for svc.
// Callers that fail to push the matching deregister must put it back,
// otherwise the instance silently outlives the intent to withdraw it.
func (r *redoStore) takeInstance(svc naming.Service) (naming.Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[svc]
	delete(r.instances, svc)
	return inst, ok
}

func (r *redoStore) hasInstance(svc naming.Service) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[svc]
	return ok
}

func (r *redoStore) putSubscription(svc naming.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[svc] = struct{}{}
}

func (r *redoStore) removeSubscription(svc naming.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, svc)
}

func (r *redoStore) instanceSnapshot() map[naming.Service]naming.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[naming.Service]naming.Instance, len(r.instances))
	for svc, inst := range r.instances {
		out[svc] = inst
	}
	return out
}

func (r *redoStore) subscriptionSnapshot() []naming.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]naming.Service, 0, len(r.subscriptions))
	for svc := range r.subscriptions {
		out = append(out, svc)
	}
	return out
}
