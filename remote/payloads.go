package remote

import "github.com/w-xiyan/nacos/naming"

// ServerCheck probes whether an endpoint is a reachable registry server.
// The reply carries the server-assigned connection id.
type ServerCheck struct{}

type ServerCheckReply struct {
	ConnectionID string `json:"connectionId"`
}

// ConnectionSetup declares the client's identity and capabilities right
// after the stream is established. The server acknowledges it with an
// asynchronous SetupAck push on the same stream.
type ConnectionSetup struct {
	ClientID      string            `json:"clientId,omitempty"`
	ClientVersion string            `json:"clientVersion"`
	Tenant        string            `json:"tenant,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Abilities     []string          `json:"abilities,omitempty"`
}

type SetupAck struct {
	ConnectionID string `json:"connectionId"`
}

// HealthCheck is the lightweight round-trip used by the client's
// keep-alive probe.
type HealthCheck struct{}

// Instance operation verbs.
const (
	InstanceOpRegister   = "registerInstance"
	InstanceOpDeregister = "deregisterInstance"
)

// InstanceRequest registers or deregisters one instance owned by the
// calling client.
type InstanceRequest struct {
	Op       string          `json:"op"`
	Service  naming.Service  `json:"service"`
	Instance naming.Instance `json:"instance"`
}

// ServiceQuery asks for the current view of a service, optionally
// narrowed to one cluster or to healthy instances only.
type ServiceQuery struct {
	Service     naming.Service `json:"service"`
	Cluster     string         `json:"cluster,omitempty"`
	HealthyOnly bool           `json:"healthyOnly,omitempty"`
}

type ServiceQueryReply struct {
	View naming.ServiceView `json:"view"`
}

// ServiceList enumerates services known to the registry.
type ServiceList struct {
	Namespace string `json:"namespace,omitempty"`
	Group     string `json:"group,omitempty"`
}

type ServiceListReply struct {
	Count    int      `json:"count"`
	Services []string `json:"services"`
}

// Subscribe starts or stops push notifications for a service on the
// calling connection. The reply carries the view current at subscribe
// time.
type Subscribe struct {
	Service   naming.Service `json:"service"`
	Subscribe bool           `json:"subscribe"`
}

type SubscribeReply struct {
	View naming.ServiceView `json:"view"`
}

// ClientBeat reports liveness for one published instance.
type ClientBeat struct {
	Service naming.Service `json:"service"`
	IP      string         `json:"ip"`
	Port    int            `json:"port"`
	Cluster string         `json:"cluster,omitempty"`
}

// NotifySubscriber is the server push carrying a freshly recomputed view
// to a subscribed connection.
type NotifySubscriber struct {
	Service naming.Service     `json:"service"`
	View    naming.ServiceView `json:"view"`
}

// ClientDetection is a server-initiated probe of client liveness.
type ClientDetection struct{}
