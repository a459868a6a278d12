package naming

import (
	"net"
	"strconv"
)

// Instance is the client-facing shape of a service instance, as published
// by clients and as returned inside a ServiceView.
type Instance struct {
	IP        string            `json:"ip"`
	Port      int               `json:"port"`
	Weight    float64           `json:"weight"`
	Healthy   bool              `json:"healthy"`
	Enabled   bool              `json:"enabled"`
	Ephemeral bool              `json:"ephemeral"`
	Cluster   string            `json:"cluster"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Key returns the "ip:port" identity of the instance within a service.
func (i Instance) Key() string {
	return net.JoinHostPort(i.IP, strconv.Itoa(i.Port))
}

// InstancePublishInfo is the server-side record of one instance published
// by one client. Existence is mutated only by register/deregister
// requests; the liveness fields (Healthy, LastBeat) only by the health
// monitor.
type InstancePublishInfo struct {
	IP         string            `json:"ip"`
	Port       int               `json:"port"`
	Weight     float64           `json:"weight"`
	Healthy    bool              `json:"healthy"`
	Enabled    bool              `json:"enabled"`
	Ephemeral  bool              `json:"ephemeral"`
	Cluster    string            `json:"cluster"`
	MetadataID string            `json:"metadataId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	LastBeat   int64             `json:"lastBeat"` // unix millis of the last heartbeat
	Marked     bool              `json:"marked"`   // excluded from health state flips
}

// Key returns the "ip:port" identity of the published instance.
func (p InstancePublishInfo) Key() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// PublishInfoOf converts a published Instance into the server-side record.
func PublishInfoOf(inst Instance, nowMillis int64) InstancePublishInfo {
	return InstancePublishInfo{
		IP:        inst.IP,
		Port:      inst.Port,
		Weight:    inst.Weight,
		Healthy:   inst.Healthy,
		Enabled:   inst.Enabled,
		Ephemeral: inst.Ephemeral,
		Cluster:   inst.Cluster,
		Metadata:  inst.Metadata,
		LastBeat:  nowMillis,
	}
}

// Instance converts the server-side record back to the client-facing shape.
func (p InstancePublishInfo) Instance() Instance {
	return Instance{
		IP:        p.IP,
		Port:      p.Port,
		Weight:    p.Weight,
		Healthy:   p.Healthy,
		Enabled:   p.Enabled,
		Ephemeral: p.Ephemeral,
		Cluster:   p.Cluster,
		Metadata:  p.Metadata,
	}
}
