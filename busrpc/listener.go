package busrpc

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"church-rpc/bus"
	"church-rpc/dispatch"
	"church-rpc/endpoint"
	"church-rpc/host"
	"church-rpc/logging"
	"church-rpc/message"
	"church-rpc/middleware"
	"church-rpc/rpcerr"
)

// Listener serves the services of a Host over a bus.
type Listener struct {
	bus        bus.Bus
	topics     endpoint.Pair
	dispatcher *dispatch.Dispatcher
	log        *logrus.Entry

	middlewares []middleware.Middleware

	mu      sync.Mutex
	sub     bus.Subscription
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // in-flight calls
}

type ListenerOption func(*Listener)

func WithListenerLogger(l *logrus.Entry) ListenerOption {
	return func(ln *Listener) { ln.log = l }
}

// WithMiddleware wraps dispatch in mws, the first outermost.
func WithMiddleware(mws ...middleware.Middleware) ListenerOption {
	return func(ln *Listener) { ln.middlewares = append(ln.middlewares, mws...) }
}

// NewListener prepares a listener on the topics derived from the host's base
// address. Nothing is received before Start.
func NewListener(h *host.Host, b bus.Bus, opts ...ListenerOption) (*Listener, error) {
	topics, err := endpoint.Derive(h.BaseAddress())
	if err != nil {
		return nil, err
	}
	l := &Listener{bus: b, topics: topics}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logging.OrDefault(l.log, "busrpc.listener")
	l.dispatcher = dispatch.New(h, l.middlewares...)
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l, nil
}

// Topics returns the request and response topics.
func (l *Listener) Topics() endpoint.Pair { return l.topics }

// Start subscribes to the request topic.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return rpcerr.New(rpcerr.KindUnavailable, "busrpc listener", "stopped")
	}
	if l.sub != nil {
		return nil
	}
	sub, err := l.bus.Subscribe(l.topics.Request, l.receive)
	if err != nil {
		return err
	}
	l.sub = sub
	l.log.WithField("topic", l.topics.Request.String()).Info("listening")
	return nil
}

// receive runs each call in its own goroutine so the subscription keeps
// draining while services work. A service property that disagrees with the
// decoded call is answered with an argument failure.
func (l *Listener) receive(_ context.Context, msg *bus.Message) {
	service, tagged := msg.Properties[PropService]
	log := l.log.WithFields(logrus.Fields{
		"caller":  msg.Property(PropCaller),
		"service": service,
	})
	c, err := codecOf(msg)
	if err != nil {
		log.WithError(err).Warn("dropping request")
		return
	}
	correlation, err := correlationOf(msg)
	if err != nil || msg.Property(PropCaller) == "" {
		log.Warn("dropping request without caller or correlation")
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		var reply *message.Reply
		call := &message.Call{}
		if err := c.Decode(msg.Body, call); err != nil {
			reply = &message.Reply{Failure: rpcerr.ToFailure(err)}
		} else if tagged && service != call.Service {
			log.WithField("op", call.Op).Warn("service property does not match call")
			reply = middleware.Fail(call, rpcerr.New(rpcerr.KindArgument, "busrpc listener",
				"service property %q does not match call service %q", service, call.Service))
		} else {
			reply = l.dispatcher.Dispatch(l.ctx, c, call)
		}
		if l.ctx.Err() != nil {
			return
		}

		body, err := c.Encode(reply)
		if err != nil {
			log.WithError(err).WithField("op", call.Op).Error("failed to encode reply")
			return
		}
		out := (&bus.Message{Body: body}).
			Set(PropCodec, c.Type().String()).
			Set(PropCaller, msg.Property(PropCaller)).
			Set(PropCorrelation, msg.Property(PropCorrelation))
		if err := l.bus.Publish(l.ctx, l.topics.Response, out); err != nil {
			log.WithError(err).WithField("correlation", correlation).Warn("failed to publish reply")
		}
	}()
}

// Stop unsubscribes, cancels the calls still running and waits for them.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	sub := l.sub
	l.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	l.cancel()
	l.wg.Wait()
	return err
}
