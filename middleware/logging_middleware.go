package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"church-rpc/message"
)

// Logging logs every call with its duration, and its failure if any.
func Logging(log *logrus.Entry) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			start := time.Now()
			reply := next(ctx, call)

			entry := log.WithFields(logrus.Fields{
				"op":       call.Op,
				"service":  call.Service,
				"duration": time.Since(start),
			})
			if reply.Failed() {
				entry.WithField("kind", reply.Failure.Kind).Warn(reply.Failure.Message)
			} else {
				entry.Debug("call served")
			}
			return reply
		}
	}
}
