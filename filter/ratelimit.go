package filter

import (
	"golang.org/x/time/rate"

	"github.com/w-xiyan/nacos/remote"
)

// RateLimit rejects requests beyond a token-bucket budget with a typed
// busy response. One limiter is shared across all connections.
func RateLimit(rps float64, burst int) Filter {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(req *remote.Request, meta *remote.Meta) *remote.Response {
		if !limiter.Allow() {
			return remote.Errorf(req.Kind, remote.CodeBusy, "rate limit exceeded")
		}
		return nil
	}
}
