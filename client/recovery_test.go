package client

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/health"
	"github.com/w-xiyan/nacos/index"
	"github.com/w-xiyan/nacos/push"
	"github.com/w-xiyan/nacos/server"
	"github.com/w-xiyan/nacos/serverlist"
	"github.com/w-xiyan/nacos/store"
)

func startBackend(t *testing.T) *server.Server {
	t.Helper()
	logger := zap.NewNop()
	idx := index.NewManager(logger)
	st := store.New(idx, store.NewMetadataManager(), 0, logger)
	notifier := push.NewNotifier(st, time.Second, logger)
	idx.SetListener(notifier)
	monitor := health.NewMonitor(idx, notifier, health.Config{}, logger)

	srv := server.New(server.Deps{
		Index:    idx,
		Store:    st,
		Monitor:  monitor,
		Notifier: notifier,
		Logger:   logger,
	})
	go srv.Serve("tcp", "127.0.0.1:0")
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("backend never started listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(func() { srv.Shutdown(2 * time.Second) })
	return srv
}

// Stream errors and keep-alive failures race to report the same dead
// connection. The RUNNING -> UNHEALTHY CAS must let exactly one of them
// start a switch-server cycle, observable as exactly one extra dial.
func TestConcurrentStreamErrorsStartOneRecovery(t *testing.T) {
	srv := startBackend(t)
	ep, err := serverlist.ParseEndpoint(srv.Addr())
	require.NoError(t, err)

	c := New(Config{
		Name:                "client-A",
		RequestTimeout:      2 * time.Second,
		SetupAckTimeout:     2 * time.Second,
		MaxReconnectBackoff: 100 * time.Millisecond,
	}, serverlist.NewStatic(ep), zap.NewNop())

	var dials atomic.Int32
	c.SetDialFunc(func(ep serverlist.Endpoint, timeout time.Duration) (net.Conn, error) {
		dials.Add(1)
		return net.DialTimeout("tcp", ep.Addr(), timeout)
	})
	require.NoError(t, c.Start())
	t.Cleanup(c.Shutdown)
	require.Eventually(t, func() bool { return c.State() == StateRunning },
		3*time.Second, 20*time.Millisecond)
	require.Equal(t, int32(1), dials.Load())

	sc := c.current.Load()
	require.NotNil(t, sc)
	streamErr := errors.New("connection reset by peer")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.onStreamError(sc, streamErr)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return c.State() == StateRunning },
		3*time.Second, 20*time.Millisecond, "client never recovered")

	// One cycle, one dial. A second queued cycle would show up here as
	// a third dial after recovery.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), dials.Load())
	assert.Equal(t, StateRunning, c.State())
}
