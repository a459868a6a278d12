// Package store materializes cached, push-ready service views from the
// registration index. It is a strictly read-side projection: it never
// mutates the index, and its correctness rests on every mutating index
// operation invalidating the affected view.
package store

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/index"
	"github.com/w-xiyan/nacos/naming"
)

// DefaultCacheMillis is the client cache TTL advertised in views.
const DefaultCacheMillis = 10_000

// Store caches one ServiceView per service, rebuilt lazily on the first
// read after an invalidation. Cached views are immutable; a rebuild
// stores a fresh value instead of patching the old one, so readers never
// observe a half-built view.
type Store struct {
	index       *index.Manager
	metadata    *MetadataManager
	cacheMillis int64
	logger      *zap.Logger

	views    sync.Map // naming.Service -> *naming.ServiceView
	clusters sync.Map // naming.Service -> []string
}

// New builds a view store over idx. cacheMillis <= 0 selects the
// default TTL.
func New(idx *index.Manager, metadata *MetadataManager, cacheMillis int64, logger *zap.Logger) *Store {
	if metadata == nil {
		metadata = NewMetadataManager()
	}
	if cacheMillis <= 0 {
		cacheMillis = DefaultCacheMillis
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{index: idx, metadata: metadata, cacheMillis: cacheMillis, logger: logger}
}

// Metadata exposes the override table for administrative callers.
func (s *Store) Metadata() *MetadataManager {
	return s.metadata
}

// View returns the cached view of svc, rebuilding it if the cache was
// invalidated. The result is shared and must not be mutated.
func (s *Store) View(svc naming.Service) *naming.ServiceView {
	if v, ok := s.views.Load(svc); ok {
		return v.(*naming.ServiceView)
	}
	return s.rebuild(svc)
}

// Invalidate evicts the cached view of svc. The next View call
// recomputes it from the index.
func (s *Store) Invalidate(svc naming.Service) {
	s.views.Delete(svc)
}

// RemoveData evicts both the view cache and the cluster index entry,
// used when a service becomes empty or is deleted.
func (s *Store) RemoveData(svc naming.Service) {
	s.views.Delete(svc)
	s.clusters.Delete(svc)
}

// Clusters returns the cluster names observed among svc's instances at
// the last materialization.
func (s *Store) Clusters(svc naming.Service) []string {
	if v, ok := s.clusters.Load(svc); ok {
		return v.([]string)
	}
	return nil
}

// ClientCount reports how many clients publish under svc. Read-only
// passthrough for the console layer.
func (s *Store) ClientCount(svc naming.Service) int {
	return s.index.ClientCount(svc)
}

// rebuild walks the index under no global lock. An instance added while
// the walk runs may be missed; the registration that added it also
// invalidates the view, so the very next read recomputes. Stale but
// internally consistent beats blocking writers.
func (s *Store) rebuild(svc naming.Service) *naming.ServiceView {
	clientIDs := s.index.ClientsForService(svc)
	hosts := make([]naming.Instance, 0, len(clientIDs))
	clusterSet := make(map[string]struct{})

	for _, clientID := range clientIDs {
		info, ok := s.index.Instance(clientID, svc)
		if !ok {
			// Owning client vanished mid-walk: instance absent, not an
			// error.
			continue
		}
		inst := info.Instance()
		if info.MetadataID != "" {
			if md, ok := s.metadata.Get(info.MetadataID); ok {
				inst = applyMetadata(inst, md)
			}
		}
		hosts = append(hosts, inst)
		if inst.Cluster != "" {
			clusterSet[inst.Cluster] = struct{}{}
		}
	}

	clusters := make([]string, 0, len(clusterSet))
	for name := range clusterSet {
		clusters = append(clusters, name)
	}
	sort.Strings(clusters)

	view := &naming.ServiceView{
		Service:     svc,
		Hosts:       hosts,
		Clusters:    clusters,
		CacheMillis: s.cacheMillis,
		LastRefTime: time.Now().UnixMilli(),
	}
	s.views.Store(svc, view)
	s.clusters.Store(svc, clusters)
	s.logger.Debug("service view rebuilt",
		zap.Stringer("service", svc),
		zap.Int("hosts", len(hosts)),
		zap.Strings("clusters", clusters))
	return view
}

func applyMetadata(inst naming.Instance, md InstanceMetadata) naming.Instance {
	if md.Weight != nil {
		inst.Weight = *md.Weight
	}
	if md.Enabled != nil {
		inst.Enabled = *md.Enabled
	}
	if len(md.Metadata) > 0 {
		merged := make(map[string]string, len(inst.Metadata)+len(md.Metadata))
		for k, v := range inst.Metadata {
			merged[k] = v
		}
		for k, v := range md.Metadata {
			merged[k] = v
		}
		inst.Metadata = merged
	}
	return inst
}
