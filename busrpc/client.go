package busrpc

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"church-rpc/bus"
	"church-rpc/codec"
	"church-rpc/endpoint"
	"church-rpc/logging"
	"church-rpc/message"
	"church-rpc/rpcerr"
)

// ErrClosed is returned by calls on a closed Client.
var ErrClosed = rpcerr.New(rpcerr.KindUnavailable, "busrpc client", "closed")

// Client calls the services of the host at one base address over a bus. It
// is safe for concurrent use.
type Client struct {
	bus    bus.Bus
	codec  codec.Codec
	topics endpoint.Pair
	caller string
	log    *logrus.Entry

	next    atomic.Uint64
	pending sync.Map // map[uint64]chan *message.Reply

	sub       bus.Subscription
	done      chan struct{}
	closeOnce sync.Once
}

type ClientOption func(*Client)

// WithCodec selects the codec of every call. The default is JSON.
func WithCodec(t codec.Type) ClientOption {
	return func(c *Client) {
		if cc, err := codec.Get(t); err == nil {
			c.codec = cc
		}
	}
}

func WithClientLogger(l *logrus.Entry) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient subscribes to the response topic of base.
func NewClient(b bus.Bus, base *url.URL, opts ...ClientOption) (*Client, error) {
	topics, err := endpoint.Derive(base)
	if err != nil {
		return nil, err
	}
	c := &Client{
		bus:    b,
		codec:  codec.JSON{},
		topics: topics,
		caller: uuid.NewString(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrDefault(c.log, "busrpc.client").WithField("caller", c.caller)

	if c.sub, err = b.Subscribe(topics.Response, c.receive); err != nil {
		return nil, err
	}
	return c, nil
}

// CallerID identifies this client on the response topic.
func (c *Client) CallerID() string { return c.caller }

// Call has the same contract as the socket client's Call. Canceling ctx
// abandons the reply; the callee is not told.
func (c *Client) Call(ctx context.Context, service, op string, req, resp any) error {
	if _, _, ok := message.SplitOp(op); !ok {
		return rpcerr.New(rpcerr.KindArgument, "call", "malformed operation %q", op)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
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
	body, err := c.codec.Encode(call)
	if err != nil {
		return err
	}

	id := c.next.Add(1)
	replies := make(chan *message.Reply, 1)
	c.pending.Store(id, replies)
	defer c.pending.Delete(id)

	msg := (&bus.Message{Body: body}).
		Set(PropCodec, c.codec.Type().String()).
		Set(PropCaller, c.caller).
		Set(PropCorrelation, strconv.FormatUint(id, 10)).
		Set(PropService, service)
	if err := c.bus.Publish(ctx, c.topics.Request, msg); err != nil {
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
		return rpcerr.FromContext(op, ctx.Err())
	case <-c.done:
		return ErrClosed
	}
}

// receive keeps only replies addressed to this client.
func (c *Client) receive(_ context.Context, msg *bus.Message) {
	if msg.Property(PropCaller) != c.caller {
		return
	}
	id, err := correlationOf(msg)
	if err != nil {
		c.log.WithError(err).Warn("dropping reply")
		return
	}
	ch, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return // abandoned
	}

	reply := &message.Reply{}
	rc, err := codecOf(msg)
	if err == nil {
		err = rc.Decode(msg.Body, reply)
	}
	if err != nil {
		reply = &message.Reply{Failure: rpcerr.ToFailure(err)}
	}
	ch.(chan *message.Reply) <- reply
}

// Close unsubscribes. Calls still waiting fail as unavailable.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.sub.Unsubscribe()
	})
	return err
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
