package middleware

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/bx-d/nestrpc/message"
)

// Logging records service id, method id, and duration for every call, and
// logs the error (if any) the handler produced — the same shape as the
// teacher's LoggingMiddleware, rehomed onto a structured hclog.Logger
// instead of the standard library's log package (see SPEC_FULL.md §A.1).
func Logging(logger hclog.Logger) Middleware {
	return func(info CallInfo, next Next) (message.ReturnValue, error) {
		start := time.Now()
		rv, callErr := next()
		logger.Trace("call completed",
			"conn_id", info.ConnID,
			"service_id", info.ServiceID,
			"method_id", info.Method,
			"duration", elapsed(start),
		)
		if callErr != nil {
			logger.Warn("call failed",
				"conn_id", info.ConnID,
				"service_id", info.ServiceID,
				"method_id", info.Method,
				"error", callErr,
			)
		}
		return rv, callErr
	}
}
