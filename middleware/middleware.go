// Package middleware wraps the dispatch of a call in interceptors.
//
// Middlewares compose in the onion model:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"church-rpc/message"
	"church-rpc/rpcerr"
)

// HandlerFunc handles one call and always returns a reply.
type HandlerFunc func(ctx context.Context, call *message.Call) *message.Reply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, the first being outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Fail builds the reply carrying err for call.
func Fail(call *message.Call, err error) *message.Reply {
	return &message.Reply{Op: call.Op, Failure: rpcerr.ToFailure(err)}
}
