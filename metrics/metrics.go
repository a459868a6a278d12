// Package metrics holds the Prometheus instrumentation for the registry
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the server's metrics, bound to one registerer so tests can
// use isolated registries.
type Set struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	ConnectionsActive   prometheus.Gauge
	InstancesRegistered prometheus.Gauge
	PushesTotal         *prometheus.CounterVec
	BeatsTotal          prometheus.Counter
}

// New registers the metric set on reg.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nacos_requests_total",
			Help: "Inbound requests by kind and response code",
		}, []string{"kind", "code"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nacos_request_duration_seconds",
			Help:    "Request handling latency",
			Buckets: prometheus.DefBuckets,
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nacos_connections_active",
			Help: "Currently open client connections",
		}),
		InstancesRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nacos_instances_registered",
			Help: "Currently registered service instances",
		}),
		PushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nacos_pushes_total",
			Help: "Subscriber pushes by result",
		}, []string{"result"}),
		BeatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "nacos_client_beats_total",
			Help: "Client heartbeats processed",
		}),
	}
}
