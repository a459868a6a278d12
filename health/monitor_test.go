package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/index"
	"github.com/w-xiyan/nacos/naming"
)

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

type fixture struct {
	idx     *index.Manager
	rec     *changeRecorder
	monitor *Monitor
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		idx:   index.NewManager(zap.NewNop()),
		rec:   &changeRecorder{},
		clock: time.Now(),
	}
	f.idx.SetListener(f.rec)
	f.monitor = NewMonitor(f.idx, f.rec, Config{}, zap.NewNop())
	f.monitor.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) register(svc naming.Service, ip string, port int, healthy, ephemeral bool) {
	f.idx.RegisterInstance("c-"+ip, svc, naming.PublishInfoOf(naming.Instance{
		IP: ip, Port: port, Weight: 1,
		Healthy: healthy, Enabled: true, Ephemeral: ephemeral,
	}, f.clock.UnixMilli()))
}

func TestProcessBeatRefreshesTimestamp(t *testing.T) {
	f := newFixture(t)
	svc := naming.NewService("ns", "g", "web")
	f.register(svc, "10.0.0.1", 8080, true, true)
	before := f.rec.count()

	f.clock = f.clock.Add(10 * time.Second)
	require.True(t, f.monitor.ProcessBeat(Beat{Service: svc, IP: "10.0.0.1", Port: 8080}))

	info, _ := f.idx.Instance("c-10.0.0.1", svc)
	assert.Equal(t, f.clock.UnixMilli(), info.LastBeat)
	assert.Equal(t, before, f.rec.count(), "a routine beat must not notify")
}

func TestProcessBeatUnknownInstance(t *testing.T) {
	f := newFixture(t)
	svc := naming.NewService("ns", "g", "web")
	assert.False(t, f.monitor.ProcessBeat(Beat{Service: svc, IP: "10.0.0.1", Port: 8080}))
}

func TestProcessBeatRecoversAndNotifies(t *testing.T) {
	f := newFixture(t)
	svc := naming.NewService("ns", "g", "web")
	f.register(svc, "10.0.0.1", 8080, false, true)
	before := f.rec.count()

	require.True(t, f.monitor.ProcessBeat(Beat{Service: svc, IP: "10.0.0.1", Port: 8080}))

	info, _ := f.idx.Instance("c-10.0.0.1", svc)
	assert.True(t, info.Healthy)
	assert.Equal(t, before+1, f.rec.count(), "a recovery notifies exactly once")
}

func TestSweepMarksUnhealthyThenExpires(t *testing.T) {
	f := newFixture(t)
	svc := naming.NewService("ns", "g", "web")
	f.register(svc, "10.0.0.1", 8080, true, true)
	base := f.rec.count()

	// Past the unhealthy window, short of the expiry window.
	f.clock = f.clock.Add(DefaultUnhealthyTimeout + time.Second)
	f.monitor.Sweep()
	info, ok := f.idx.Instance("c-10.0.0.1", svc)
	require.True(t, ok)
	assert.False(t, info.Healthy)
	assert.Equal(t, base+1, f.rec.count())

	// Repeat sweep in the same window: no further transitions.
	f.monitor.Sweep()
	assert.Equal(t, base+1, f.rec.count())

	// Past the expiry window: the instance disappears.
	f.clock = f.clock.Add(DefaultExpireTimeout)
	f.monitor.Sweep()
	_, ok = f.idx.Instance("c-10.0.0.1", svc)
	assert.False(t, ok)
	assert.Equal(t, base+2, f.rec.count())
}

func TestSweepLeavesPersistentInstances(t *testing.T) {
	f := newFixture(t)
	svc := naming.NewService("ns", "g", "db")
	f.register(svc, "10.0.0.1", 5432, true, false)

	f.clock = f.clock.Add(time.Hour)
	f.monitor.Sweep()

	info, ok := f.idx.Instance("c-10.0.0.1", svc)
	require.True(t, ok, "persistent instances are never expired")
	assert.False(t, info.Healthy, "they still go unhealthy when silent")
}

func TestBeatAfterUnhealthySweepRecovers(t *testing.T) {
	f := newFixture(t)
	svc := naming.NewService("ns", "g", "web")
	f.register(svc, "10.0.0.1", 8080, true, true)
	base := f.rec.count()

	f.clock = f.clock.Add(DefaultUnhealthyTimeout + time.Second)
	f.monitor.Sweep()
	require.Equal(t, base+1, f.rec.count())

	require.True(t, f.monitor.ProcessBeat(Beat{Service: svc, IP: "10.0.0.1", Port: 8080}))
	info, _ := f.idx.Instance("c-10.0.0.1", svc)
	assert.True(t, info.Healthy)
	assert.Equal(t, base+2, f.rec.count())
}
