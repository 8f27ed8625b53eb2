package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"church-rpc/message"
	"church-rpc/rpcerr"
)

// RateLimit rejects calls beyond r per second with bursts of burst, using a
// token bucket shared by every call through the chain.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			if !limiter.Allow() {
				return Fail(call, rpcerr.New(rpcerr.KindUnavailable, call.Op, "rate limit exceeded"))
			}
			return next(ctx, call)
		}
	}
}
