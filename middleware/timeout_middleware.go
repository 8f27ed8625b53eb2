package middleware

import (
	"context"
	"time"

	"church-rpc/message"
	"church-rpc/rpcerr"
)

// Timeout bounds each call to d. The service sees a context canceled at the
// deadline; the caller gets a timeout failure without waiting for it.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan *message.Reply, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return Fail(call, rpcerr.FromContext(call.Op, ctx.Err()))
			}
		}
	}
}
