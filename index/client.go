// Package index maintains the authoritative mapping of who owns what:
// connected client id -> published instances per service, and
// service -> set of publishing client ids. Every component that needs
// registry truth reads it from here; the view store is only a cached
// projection of this index.
package index

import (
	"maps"
	"sync"

	"github.com/w-xiyan/nacos/naming"
)

// clientRecord holds everything one client has published. All field
// access goes through its mutex, so operations for a single client id
// are linearizable while different clients never contend.
type clientRecord struct {
	id string

	mu         sync.RWMutex
	publishers map[naming.Service]*naming.InstancePublishInfo
}

func newClientRecord(id string) *clientRecord {
	return &clientRecord{
		id:         id,
		publishers: make(map[naming.Service]*naming.InstancePublishInfo),
	}
}

// publish stores the instance for svc, replacing any previous one.
func (c *clientRecord) publish(svc naming.Service, info naming.InstancePublishInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishers[svc] = &info
}

// unpublish removes the instance for svc, reporting whether one existed.
func (c *clientRecord) unpublish(svc naming.Service) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.publishers[svc]; !ok {
		return false
	}
	delete(c.publishers, svc)
	return true
}

// instance returns a copy of the published record for svc.
func (c *clientRecord) instance(svc naming.Service) (naming.InstancePublishInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.publishers[svc]
	if !ok {
		return naming.InstancePublishInfo{}, false
	}
	cp := *p
	cp.Metadata = maps.Clone(p.Metadata)
	return cp, true
}

// services snapshots the service keys this client publishes under.
func (c *clientRecord) services() []naming.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]naming.Service, 0, len(c.publishers))
	for svc := range c.publishers {
		out = append(out, svc)
	}
	return out
}
