package middleware

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/bx-d/nestrpc/message"
)

// SlowCallWarn logs a warning when a call takes longer than threshold.
//
// This is adapted from the teacher's TimeOutMiddleware, but deliberately
// does not race the handler against a timer and does not return early: the
// spec's Non-goals explicitly exclude cancellation of in-flight calls, and
// the handler already holds the callee's entry lock for the call's whole
// duration, so abandoning the wait here would not free anything — it would
// only desynchronize the reply stream from the caller's expectations. The
// middleware therefore only observes; it never short-circuits next().
func SlowCallWarn(threshold time.Duration, logger hclog.Logger) Middleware {
	return func(info CallInfo, next Next) (rv message.ReturnValue, err error) {
		start := time.Now()
		rv, err = next()
		if d := elapsed(start); d > threshold {
			logger.Warn("slow call",
				"conn_id", info.ConnID,
				"service_id", info.ServiceID,
				"method_id", info.Method,
				"duration", d,
			)
		}
		return rv, err
	}
}
