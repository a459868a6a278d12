package index

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/naming"
)

func testInstance(ip string, port int) naming.InstancePublishInfo {
	return naming.PublishInfoOf(naming.Instance{
		IP:        ip,
		Port:      port,
		Weight:    1,
		Healthy:   true,
		Enabled:   true,
		Ephemeral: true,
		Cluster:   "DEFAULT",
	}, time.Now().UnixMilli())
}

// changeRecorder collects ServiceChanged notifications.
type changeRecorder struct {
	mu   sync.Mutex
	svcs []naming.Service
}

func (r *changeRecorder) ServiceChanged(svc naming.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.svcs = append(r.svcs, svc)
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.svcs)
}

func newTestManager() (*Manager, *changeRecorder) {
	m := NewManager(zap.NewNop())
	rec := &changeRecorder{}
	m.SetListener(rec)
	return m, rec
}

func TestRegisterAndLookup(t *testing.T) {
	m, rec := newTestManager()
	svc := naming.NewService("ns", "g", "web")

	m.RegisterInstance("client-1", svc, testInstance("10.0.0.1", 8080))

	require.True(t, m.HasClient("client-1"))
	assert.Equal(t, 1, m.ClientCount(svc))
	assert.Equal(t, []string{"client-1"}, m.ClientsForService(svc))
	assert.Equal(t, 1, rec.count())

	info, ok := m.Instance("client-1", svc)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", info.IP)
	assert.Equal(t, 8080, info.Port)
	assert.NotZero(t, info.LastBeat)
}

func TestRegisterOverwritesSameService(t *testing.T) {
	m, rec := newTestManager()
	svc := naming.NewService("ns", "g", "web")

	m.RegisterInstance("client-1", svc, testInstance("10.0.0.1", 8080))
	m.RegisterInstance("client-1", svc, testInstance("10.0.0.2", 9090))

	assert.Equal(t, 1, m.ClientCount(svc), "one client holds one instance per service")
	info, ok := m.Instance("client-1", svc)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", info.IP)
	assert.Equal(t, 2, rec.count(), "each register notifies")
}

func TestInstanceReturnsCopy(t *testing.T) {
	m, _ := newTestManager()
	svc := naming.NewService("ns", "g", "web")
	in := testInstance("10.0.0.1", 8080)
	in.Metadata = map[string]string{"zone": "a"}
	m.RegisterInstance("client-1", svc, in)

	got, ok := m.Instance("client-1", svc)
	require.True(t, ok)
	got.Metadata["zone"] = "mutated"

	again, _ := m.Instance("client-1", svc)
	assert.Equal(t, "a", again.Metadata["zone"], "caller mutations must not leak into the index")
}

func TestDeregisterInstance(t *testing.T) {
	m, rec := newTestManager()
	svc := naming.NewService("ns", "g", "web")
	m.RegisterInstance("client-1", svc, testInstance("10.0.0.1", 8080))

	require.True(t, m.DeregisterInstance("client-1", svc))
	assert.Equal(t, 0, m.ClientCount(svc))
	_, ok := m.Instance("client-1", svc)
	assert.False(t, ok)
	assert.Equal(t, 2, rec.count())

	assert.False(t, m.DeregisterInstance("client-1", svc), "second deregister is a no-op")
	assert.Equal(t, 2, rec.count(), "no-op deregister must not notify")
}

func TestRemoveClientDetachesAllServices(t *testing.T) {
	m, rec := newTestManager()
	svcA := naming.NewService("ns", "g", "a")
	svcB := naming.NewService("ns", "g", "b")
	m.RegisterInstance("client-1", svcA, testInstance("10.0.0.1", 8080))
	m.RegisterInstance("client-1", svcB, testInstance("10.0.0.1", 8081))
	m.RegisterInstance("client-2", svcA, testInstance("10.0.0.2", 8080))

	m.RemoveClient("client-1")

	assert.False(t, m.HasClient("client-1"))
	assert.Equal(t, []string{"client-2"}, m.ClientsForService(svcA))
	assert.Equal(t, 0, m.ClientCount(svcB))
	// 3 registers + one change per service client-1 published under.
	assert.Equal(t, 5, rec.count())

	m.RemoveClient("client-1") // idempotent
	assert.Equal(t, 5, rec.count())
}

func TestServicesEnumeration(t *testing.T) {
	m, _ := newTestManager()
	m.RegisterInstance("c1", naming.NewService("ns", "g", "a"), testInstance("10.0.0.1", 1))
	m.RegisterInstance("c2", naming.NewService("ns", "g", "b"), testInstance("10.0.0.2", 2))

	svcs := m.Services()
	names := make([]string, len(svcs))
	for i, s := range svcs {
		names[i] = s.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestTouchBeat(t *testing.T) {
	m, _ := newTestManager()
	svc := naming.NewService("ns", "g", "web")
	in := testInstance("10.0.0.1", 8080)
	m.RegisterInstance("client-1", svc, in)

	now := time.Now()
	found, recovered := m.TouchBeat(svc, "10.0.0.1", 8080, now)
	assert.True(t, found)
	assert.False(t, recovered, "already healthy instance does not recover")

	info, _ := m.Instance("client-1", svc)
	assert.Equal(t, now.UnixMilli(), info.LastBeat)

	found, _ = m.TouchBeat(svc, "10.0.0.9", 8080, now)
	assert.False(t, found, "beat for unknown instance is not found")
}

func TestTouchBeatRecoversUnhealthy(t *testing.T) {
	m, _ := newTestManager()
	svc := naming.NewService("ns", "g", "web")
	in := testInstance("10.0.0.1", 8080)
	in.Healthy = false
	m.RegisterInstance("client-1", svc, in)

	found, recovered := m.TouchBeat(svc, "10.0.0.1", 8080, time.Now())
	assert.True(t, found)
	assert.True(t, recovered)

	info, _ := m.Instance("client-1", svc)
	assert.True(t, info.Healthy)
}

func TestTouchBeatSkipsMarked(t *testing.T) {
	m, _ := newTestManager()
	svc := naming.NewService("ns", "g", "web")
	in := testInstance("10.0.0.1", 8080)
	in.Healthy = false
	in.Marked = true
	m.RegisterInstance("client-1", svc, in)

	found, recovered := m.TouchBeat(svc, "10.0.0.1", 8080, time.Now())
	assert.True(t, found)
	assert.False(t, recovered, "marked instances keep their operator-set health")

	info, _ := m.Instance("client-1", svc)
	assert.False(t, info.Healthy)
}

func TestSweepUnhealthy(t *testing.T) {
	m, _ := newTestManager()
	svc := naming.NewService("ns", "g", "web")
	in := testInstance("10.0.0.1", 8080)
	m.RegisterInstance("client-1", svc, in)

	timeout := 15 * time.Second
	late := time.UnixMilli(in.LastBeat).Add(timeout + time.Second)

	changed := m.SweepUnhealthy(late, timeout)
	require.Len(t, changed, 1)
	assert.Equal(t, svc, changed[0])

	info, _ := m.Instance("client-1", svc)
	assert.False(t, info.Healthy)

	// Already unhealthy: the next sweep reports no change.
	assert.Empty(t, m.SweepUnhealthy(late.Add(time.Second), timeout))
}

func TestSweepUnhealthyFreshInstanceUntouched(t *testing.T) {
	m, _ := newTestManager()
	svc := naming.NewService("ns", "g", "web")
	in := testInstance("10.0.0.1", 8080)
	m.RegisterInstance("client-1", svc, in)

	assert.Empty(t, m.SweepUnhealthy(time.UnixMilli(in.LastBeat).Add(time.Second), 15*time.Second))
	info, _ := m.Instance("client-1", svc)
	assert.True(t, info.Healthy)
}

func TestSweepExpiredRemovesSilentEphemeral(t *testing.T) {
	m, _ := newTestManager()
	svc := naming.NewService("ns", "g", "web")
	in := testInstance("10.0.0.1", 8080)
	m.RegisterInstance("client-1", svc, in)

	timeout := 30 * time.Second
	late := time.UnixMilli(in.LastBeat).Add(timeout + time.Second)

	changed := m.SweepExpired(late, timeout)
	require.Len(t, changed, 1)

	_, ok := m.Instance("client-1", svc)
	assert.False(t, ok, "expired instance is removed entirely")
	assert.Equal(t, 0, m.ClientCount(svc))
}

func TestSweepExpiredKeepsPersistent(t *testing.T) {
	m, _ := newTestManager()
	svc := naming.NewService("ns", "g", "db")
	in := testInstance("10.0.0.1", 5432)
	in.Ephemeral = false
	m.RegisterInstance("client-1", svc, in)

	timeout := 30 * time.Second
	late := time.UnixMilli(in.LastBeat).Add(timeout + time.Hour)

	assert.Empty(t, m.SweepExpired(late, timeout))
	_, ok := m.Instance("client-1", svc)
	assert.True(t, ok, "persistent instances never expire")
}
