package middleware

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"church-rpc/message"
	"church-rpc/rpcerr"
)

// Recover turns a panic below it into an internal failure.
func Recover(log *logrus.Entry) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (reply *message.Reply) {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("op", call.Op).Errorf("panic: %v\n%s", r, debug.Stack())
					reply = Fail(call, rpcerr.New(rpcerr.KindInternal, call.Op, "panic: %v", r))
				}
			}()
			return next(ctx, call)
		}
	}
}
