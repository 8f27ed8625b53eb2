package middleware

import (
	"context"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"church-rpc/message"
)

// Metrics times every call in registry under "calls.<op>" and counts
// failures under "failures.<op>". A nil registry means metrics.DefaultRegistry.
func Metrics(registry metrics.Registry) Middleware {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			start := time.Now()
			reply := next(ctx, call)

			metrics.GetOrRegisterTimer("calls."+call.Op, registry).UpdateSince(start)
			if reply.Failed() {
				metrics.GetOrRegisterCounter("failures."+call.Op, registry).Inc(1)
			}
			return reply
		}
	}
}
