// Package filter implements the ordered filter chain every inbound
// request passes before reaching its handler.
package filter

import (
	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/remote"
)

// Filter inspects a request before its handler runs. Returning a
// non-success response short-circuits dispatch with that response; nil
// or a success response means "no opinion, continue".
type Filter func(req *remote.Request, meta *remote.Meta) *remote.Response

// Chain applies filters in registration order.
type Chain struct {
	logger  *zap.Logger
	filters []Filter
}

// NewChain builds a chain. Filters run in the order given.
func NewChain(logger *zap.Logger, filters ...Filter) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{logger: logger, filters: filters}
}

// Use appends a filter. Not safe to call once the chain serves traffic.
func (c *Chain) Use(f Filter) {
	c.filters = append(c.filters, f)
}

// Apply runs the chain. A panicking filter is logged and counts as "no
// opinion": pipeline liveness wins over strict filter correctness.
func (c *Chain) Apply(req *remote.Request, meta *remote.Meta) *remote.Response {
	for _, f := range c.filters {
		if resp := c.applyOne(f, req, meta); resp != nil && !resp.OK() {
			return resp
		}
	}
	return nil
}

func (c *Chain) applyOne(f Filter, req *remote.Request, meta *remote.Meta) (resp *remote.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("filter panic",
				zap.Stringer("kind", req.Kind),
				zap.Any("panic", r))
			resp = nil
		}
	}()
	return f(req, meta)
}
