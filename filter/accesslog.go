package filter

import (
	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/remote"
)

// AccessLog records every inbound request at debug level. Always passes.
func AccessLog(logger *zap.Logger) Filter {
	return func(req *remote.Request, meta *remote.Meta) *remote.Response {
		logger.Debug("inbound request",
			zap.Stringer("kind", req.Kind),
			zap.String("connectionId", meta.ConnectionID),
			zap.String("clientIp", meta.ClientIP))
		return nil
	}
}
