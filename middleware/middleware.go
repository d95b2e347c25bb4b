// Package middleware implements the onion-model call chain the dispatch loop
// wraps every CallMethod invocation in, adapted from the teacher's
// Middleware/Chain shape (mini-rpc/middleware) to wrap a single typed
// Dispatch call instead of an arbitrary reflected RPC.
//
// Every middleware here is an instrumentation hook, not a call-altering one:
// this protocol has no retry or cancellation semantics (see spec.md's
// Non-goals), so unlike the teacher's RetryMiddleware and TimeOutMiddleware,
// nothing here changes what the caller observes — only what gets logged.
package middleware

import (
	"time"

	"github.com/bx-d/nestrpc/message"
)

// CallInfo describes the call a middleware is wrapping.
type CallInfo struct {
	ConnID    string
	ServiceID message.ServiceID
	Method    message.MethodID
}

// Next invokes the remainder of the chain (eventually the real dispatch).
type Next func() (message.ReturnValue, error)

// Middleware wraps Next with before/after behavior, mirroring the decorator
// shape of mini-rpc's Middleware type.
type Middleware func(info CallInfo, next Next) (message.ReturnValue, error)

// Chain composes middlewares so the first in the list is outermost —
// identical execution order to mini-rpc's Chain: Chain(A, B)(dispatch) runs
// A.before, B.before, dispatch, B.after, A.after.
func Chain(mws ...Middleware) Middleware {
	return func(info CallInfo, next Next) (message.ReturnValue, error) {
		wrapped := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, innerNext := mws[i], wrapped
			wrapped = func() (message.ReturnValue, error) {
				return mw(info, innerNext)
			}
		}
		return wrapped()
	}
}

// elapsed is a small helper so logging middleware reads the same way across
// implementations.
func elapsed(start time.Time) time.Duration {
	return time.Since(start)
}
