package naming

// ServiceView is the denormalized, push-ready projection of a service.
// It is derived from the registration index and can be recomputed at any
// time; a cached copy is never mutated after it is built.
type ServiceView struct {
	Service     Service    `json:"service"`
	Hosts       []Instance `json:"hosts"`
	Clusters    []string   `json:"clusters,omitempty"`
	CacheMillis int64      `json:"cacheMillis"`
	LastRefTime int64      `json:"lastRefTime"` // unix millis of the last recomputation
}

// HealthyHosts returns only the hosts currently marked healthy.
func (v ServiceView) HealthyHosts() []Instance {
	out := make([]Instance, 0, len(v.Hosts))
	for _, h := range v.Hosts {
		if h.Healthy {
			out = append(out, h)
		}
	}
	return out
}
