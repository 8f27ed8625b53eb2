// Package client implements the caller side of the socket transport.
package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"church-rpc/codec"
	"church-rpc/endpoint"
	"church-rpc/logging"
	"church-rpc/message"
	"church-rpc/rpcerr"
	"church-rpc/transport"
)

const (
	DefaultPoolSize          = 4
	DefaultHeartbeatInterval = 30 * time.Second
)

type options struct {
	codec     codec.Type
	poolSize  int
	resolver  endpoint.Resolver
	heartbeat time.Duration
	log       *logrus.Entry
}

type Option func(*options)

// WithCodec selects the codec of every call. The default is JSON.
func WithCodec(t codec.Type) Option {
	return func(o *options) { o.codec = t }
}

// WithPoolSize sets how many connections the client keeps open.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

func WithResolver(r endpoint.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithHeartbeatInterval sets the keep-alive period; 0 disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *options) { o.log = l }
}

// Client calls the services of one host over a pool of multiplexed
// connections. It is safe for concurrent use.
type Client struct {
	codec codec.Codec
	pool  *transport.Pool
}

// Dial resolves address (tcp://host:port) and opens the connection pool.
func Dial(ctx context.Context, address *url.URL, opts ...Option) (*Client, error) {
	o := options{poolSize: DefaultPoolSize, heartbeat: DefaultHeartbeatInterval}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrDefault(o.log, "client")

	c, err := codec.Get(o.codec)
	if err != nil {
		return nil, err
	}
	if address == nil || address.Scheme != "tcp" {
		return nil, rpcerr.New(rpcerr.KindArgument, "dial", "address %v is not tcp://", address)
	}
	addr, ok := o.resolver.Resolve(ctx, address)
	if !ok {
		return nil, rpcerr.New(rpcerr.KindUnresolved, "dial", "cannot resolve %s", address.Host)
	}

	var dialer net.Dialer
	pool, err := transport.NewPool(ctx, o.poolSize, func(ctx context.Context) (*transport.ClientTransport, error) {
		conn, err := dialer.DialContext(ctx, "tcp", addr.String())
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.KindUnavailable, "dial", err)
		}
		return transport.NewClientTransport(conn, c, o.heartbeat, log), nil
	})
	if err != nil {
		return nil, err
	}
	return &Client{codec: c, pool: pool}, nil
}

// Call invokes op ("Contract.Method") on service ("" for the contract's
// default service). A nil req is sent as an absent request. resp, if not
// nil, receives the result.
//
// When ctx ends first the server is told to cancel the call and Call
// returns a canceled or timeout error.
func (c *Client) Call(ctx context.Context, service, op string, req, resp any) error {
	if _, _, ok := message.SplitOp(op); !ok {
		return rpcerr.New(rpcerr.KindArgument, "call", "malformed operation %q", op)
	}
	call := &message.Call{Service: service, Op: op}
	if !isNil(req) {
		payload, err := c.codec.Encode(req)
		if err != nil {
			return err
		}
		call.Payload = payload
		call.Present = true
	}

	t, err := c.pool.Get(ctx)
	if err != nil {
		return err
	}
	seq, replies, err := t.Send(ctx, call)
	if err != nil {
		return err
	}

	select {
	case reply := <-replies:
		if reply.Failed() {
			return rpcerr.FromFailure(op, reply.Failure)
		}
		if isNil(resp) || !reply.HasResult() {
			return nil
		}
		if err := c.codec.Decode(reply.Payload, resp); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		_ = t.Cancel(seq)
		return rpcerr.FromContext(op, ctx.Err())
	}
}

// Close closes every connection. Calls in flight fail as unavailable.
func (c *Client) Close() error {
	return c.pool.Close()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
