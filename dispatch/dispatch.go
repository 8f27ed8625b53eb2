// Package dispatch routes a decoded Call to the service that serves it.
//
//	Call → middleware chain → split op → Host.Resolve → decode payload
//	     → Binding.Invoke → encode result → Reply
package dispatch

import (
	"context"
	"fmt"

	"church-rpc/codec"
	"church-rpc/host"
	"church-rpc/message"
	"church-rpc/middleware"
	"church-rpc/rpcerr"
)

type codecKey struct{}

// WithCodec returns a context carrying the codec the call arrived with.
func WithCodec(ctx context.Context, c codec.Codec) context.Context {
	return context.WithValue(ctx, codecKey{}, c)
}

// CodecFrom returns the codec of the call being dispatched, or JSON.
func CodecFrom(ctx context.Context) codec.Codec {
	if c, ok := ctx.Value(codecKey{}).(codec.Codec); ok {
		return c
	}
	return codec.JSON{}
}

// Dispatcher serves calls against one Host. It is safe for concurrent use
// and holds no lock while a service runs.
type Dispatcher struct {
	host    *host.Host
	handler middleware.HandlerFunc
}

// New builds the middleware chain once, the first middleware outermost.
func New(h *host.Host, mws ...middleware.Middleware) *Dispatcher {
	d := &Dispatcher{host: h}
	d.handler = middleware.Chain(mws...)(d.invoke)
	return d
}

// Host returns the registry the dispatcher resolves against.
func (d *Dispatcher) Host() *host.Host { return d.host }

// Dispatch serves call. Payloads are decoded and replies encoded with c. The
// returned reply is never nil; failures are carried in Reply.Failure.
func (d *Dispatcher) Dispatch(ctx context.Context, c codec.Codec, call *message.Call) *message.Reply {
	if call == nil {
		return &message.Reply{Failure: rpcerr.ToFailure(rpcerr.New(rpcerr.KindArgument, "dispatch", "call is nil"))}
	}
	return d.handler(WithCodec(ctx, c), call)
}

func (d *Dispatcher) invoke(ctx context.Context, call *message.Call) (reply *message.Reply) {
	defer func() {
		if r := recover(); r != nil {
			reply = middleware.Fail(call, rpcerr.New(rpcerr.KindInternal, call.Op, "panic: %v", r))
		}
	}()

	contract, method, ok := message.SplitOp(call.Op)
	if !ok {
		return middleware.Fail(call, rpcerr.New(rpcerr.KindArgument, "dispatch", "malformed operation %q", call.Op))
	}
	binding, err := d.host.Resolve(contract, call.Service)
	if err != nil {
		return middleware.Fail(call, err)
	}

	c := CodecFrom(ctx)
	var decode func(any) error
	if call.HasRequest() {
		decode = func(v any) error { return c.Decode(call.Payload, v) }
	}
	out, err := binding.Invoke(ctx, method, decode)
	if err != nil {
		return middleware.Fail(call, err)
	}

	if out == nil {
		return middleware.Fail(call, rpcerr.New(rpcerr.KindInternal, call.Op, "service returned neither a result nor an error"))
	}
	reply = &message.Reply{Op: call.Op, Present: true}
	if reply.Payload, err = c.Encode(out); err != nil {
		return middleware.Fail(call, rpcerr.Wrap(rpcerr.KindInternal, call.Op, fmt.Errorf("encode reply: %w", err)))
	}
	return reply
}
