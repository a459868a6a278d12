package store

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/index"
	"github.com/w-xiyan/nacos/naming"
)

func newTestStore() (*Store, *index.Manager) {
	idx := index.NewManager(zap.NewNop())
	st := New(idx, NewMetadataManager(), 0, zap.NewNop())
	// Mutations must evict the affected view, same wiring as production.
	idx.SetListener(index.ListenerFunc(st.Invalidate))
	return st, idx
}

func publish(idx *index.Manager, clientID string, svc naming.Service, ip string, port int, cluster string) {
	idx.RegisterInstance(clientID, svc, naming.PublishInfoOf(naming.Instance{
		IP:        ip,
		Port:      port,
		Weight:    1,
		Healthy:   true,
		Enabled:   true,
		Ephemeral: true,
		Cluster:   cluster,
	}, time.Now().UnixMilli()))
}

func TestViewMaterialization(t *testing.T) {
	st, idx := newTestStore()
	svc := naming.NewService("ns", "g", "web")
	publish(idx, "c1", svc, "10.0.0.1", 8080, "DEFAULT")
	publish(idx, "c2", svc, "10.0.0.2", 8080, "edge")

	view := st.View(svc)
	require.Len(t, view.Hosts, 2)
	assert.Equal(t, svc, view.Service)
	assert.Equal(t, int64(DefaultCacheMillis), view.CacheMillis)
	assert.NotZero(t, view.LastRefTime)
	assert.Equal(t, []string{"DEFAULT", "edge"}, view.Clusters)
	assert.Equal(t, []string{"DEFAULT", "edge"}, st.Clusters(svc))
}

func TestViewEmptyService(t *testing.T) {
	st, _ := newTestStore()
	view := st.View(naming.NewService("ns", "g", "ghost"))
	assert.Empty(t, view.Hosts)
	assert.Empty(t, view.Clusters)
}

func TestViewCachedUntilInvalidated(t *testing.T) {
	st, idx := newTestStore()
	svc := naming.NewService("ns", "g", "web")
	publish(idx, "c1", svc, "10.0.0.1", 8080, "DEFAULT")

	first := st.View(svc)
	assert.Same(t, first, st.View(svc), "second read returns the cached pointer")

	// The register notification invalidates; the next read rebuilds.
	publish(idx, "c2", svc, "10.0.0.2", 8080, "DEFAULT")
	second := st.View(svc)
	assert.NotSame(t, first, second)
	assert.Len(t, second.Hosts, 2)
}

func TestViewReflectsDeregister(t *testing.T) {
	st, idx := newTestStore()
	svc := naming.NewService("ns", "g", "web")
	publish(idx, "c1", svc, "10.0.0.1", 8080, "DEFAULT")
	publish(idx, "c2", svc, "10.0.0.2", 8080, "DEFAULT")
	require.Len(t, st.View(svc).Hosts, 2)

	idx.DeregisterInstance("c1", svc)
	view := st.View(svc)
	require.Len(t, view.Hosts, 1)
	assert.Equal(t, "10.0.0.2", view.Hosts[0].IP)
}

func TestViewAppliesMetadataOverrides(t *testing.T) {
	st, idx := newTestStore()
	svc := naming.NewService("ns", "g", "web")

	weight := 42.0
	enabled := false
	st.Metadata().Set("md-1", InstanceMetadata{
		Weight:   &weight,
		Enabled:  &enabled,
		Metadata: map[string]string{"version": "v2"},
	})

	info := naming.PublishInfoOf(naming.Instance{
		IP: "10.0.0.1", Port: 8080, Weight: 1, Healthy: true, Enabled: true,
		Ephemeral: true, Cluster: "DEFAULT",
		Metadata: map[string]string{"zone": "a", "version": "v1"},
	}, time.Now().UnixMilli())
	info.MetadataID = "md-1"
	idx.RegisterInstance("c1", svc, info)

	view := st.View(svc)
	require.Len(t, view.Hosts, 1)
	host := view.Hosts[0]
	assert.Equal(t, 42.0, host.Weight)
	assert.False(t, host.Enabled)
	assert.Equal(t, "v2", host.Metadata["version"], "override wins")
	assert.Equal(t, "a", host.Metadata["zone"], "published keys survive the merge")
}

func TestMetadataRemoveRestoresPublished(t *testing.T) {
	st, idx := newTestStore()
	svc := naming.NewService("ns", "g", "web")

	weight := 9.0
	st.Metadata().Set("md-1", InstanceMetadata{Weight: &weight})
	info := naming.PublishInfoOf(naming.Instance{
		IP: "10.0.0.1", Port: 8080, Weight: 1, Healthy: true, Enabled: true,
		Ephemeral: true,
	}, time.Now().UnixMilli())
	info.MetadataID = "md-1"
	idx.RegisterInstance("c1", svc, info)
	assert.Equal(t, 9.0, st.View(svc).Hosts[0].Weight)

	st.Metadata().Remove("md-1")
	st.Invalidate(svc)
	assert.Equal(t, 1.0, st.View(svc).Hosts[0].Weight)
}

func TestRemoveData(t *testing.T) {
	st, idx := newTestStore()
	svc := naming.NewService("ns", "g", "web")
	publish(idx, "c1", svc, "10.0.0.1", 8080, "edge")
	st.View(svc)
	require.Equal(t, []string{"edge"}, st.Clusters(svc))

	st.RemoveData(svc)
	assert.Nil(t, st.Clusters(svc))
}

func TestHealthyHosts(t *testing.T) {
	view := naming.ServiceView{Hosts: []naming.Instance{
		{IP: "10.0.0.1", Port: 1, Healthy: true},
		{IP: "10.0.0.2", Port: 2, Healthy: false},
		{IP: "10.0.0.3", Port: 3, Healthy: true},
	}}
	healthy := view.HealthyHosts()
	ips := make([]string, len(healthy))
	for i, h := range healthy {
		ips[i] = h.IP
	}
	sort.Strings(ips)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.3"}, ips)
}
