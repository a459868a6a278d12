package serverlist

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultPrefix is the etcd key prefix for server announcements.
const DefaultPrefix = "/nacos/servers"

// Etcd resolves server endpoints from etcd and keeps them current via a
// prefix watch. Registry servers announce themselves under a shared key
// prefix with a TTL lease:
//
//	Key:   {prefix}/{host:port}
//	Value: JSON-encoded Endpoint
//
// If a server dies without deregistering, its lease expires and the
// entry disappears on its own.
type Etcd struct {
	client *clientv3.Client
	prefix string
	logger *zap.Logger

	mu      sync.RWMutex
	eps     []Endpoint
	updates chan []Endpoint
	cancel  context.CancelFunc
}

// NewEtcd connects to etcd, loads the current server list, and starts
// watching the prefix for changes.
func NewEtcd(endpoints []string, prefix string, logger *zap.Logger) (*Etcd, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Etcd{
		client:  client,
		prefix:  prefix,
		logger:  logger,
		updates: make(chan []Endpoint, 1),
		cancel:  cancel,
	}
	// Bounded first list: an unreachable etcd fails construction instead
	// of blocking it.
	listCtx, listCancel := context.WithTimeout(ctx, 5*time.Second)
	err = r.refresh(listCtx)
	listCancel()
	if err != nil {
		cancel()
		client.Close()
		return nil, err
	}
	go r.watchLoop(ctx)
	return r, nil
}

// Register announces a server endpoint with a TTL lease and keeps the
// lease alive until Close or process death.
func (r *Etcd) Register(ctx context.Context, ep Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	if _, err := r.client.Put(ctx, r.key(ep), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain keep-alive acks so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a server announcement. Used on graceful shutdown;
// lease expiry covers the crash case.
func (r *Etcd) Deregister(ctx context.Context, ep Endpoint) error {
	_, err := r.client.Delete(ctx, r.key(ep))
	return err
}

func (r *Etcd) Endpoints() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, len(r.eps))
	copy(out, r.eps)
	return out
}

func (r *Etcd) Watch() <-chan []Endpoint {
	return r.updates
}

func (r *Etcd) Close() error {
	r.cancel()
	return r.client.Close()
}

func (r *Etcd) key(ep Endpoint) string {
	return r.prefix + "/" + ep.Addr()
}

func (r *Etcd) refresh(ctx context.Context) error {
	resp, err := r.client.Get(ctx, r.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return err
	}
	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.logger.Warn("skip malformed server entry",
				zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		eps = append(eps, ep)
	}
	r.mu.Lock()
	r.eps = eps
	r.mu.Unlock()

	// Non-blocking: a slow consumer only misses intermediate lists, the
	// latest is always available via Endpoints.
	select {
	case r.updates <- eps:
	default:
	}
	return nil
}

func (r *Etcd) watchLoop(ctx context.Context) {
	watchCh := r.client.Watch(ctx, r.prefix+"/", clientv3.WithPrefix())
	for range watchCh {
		// Re-list on any change instead of folding individual events.
		if err := r.refresh(ctx); err != nil {
			r.logger.Warn("refresh server list failed", zap.Error(err))
		}
	}
}
