package bus

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"church-rpc/logging"
	"church-rpc/rpcerr"
)

const nsqStopTimeout = 5 * time.Second

// NSQ is a Bus backed by one nsqd. Every subscription consumes its own
// ephemeral channel, so each subscriber sees every message of the topic.
type NSQ struct {
	addr     string
	producer *nsq.Producer
	log      *logrus.Entry

	mu     sync.Mutex
	subs   map[*nsqSub]struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

type nsqSub struct {
	bus      *NSQ
	consumer *nsq.Consumer
	once     sync.Once
	err      error
}

// NewNSQ connects a producer to the nsqd TCP address addr ("host:4150").
func NewNSQ(addr string, log *logrus.Entry) (*NSQ, error) {
	log = logging.OrDefault(log, "bus.nsq")
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	producer.SetLogger(nsqLogger{log}, nsq.LogLevelWarning)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, rpcerr.Wrap(rpcerr.KindUnavailable, "nsq connect", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &NSQ{
		addr:     addr,
		producer: producer,
		log:      log,
		subs:     make(map[*nsqSub]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (n *NSQ) Publish(ctx context.Context, topic *url.URL, msg *Message) error {
	name, err := TopicName(topic)
	if err != nil {
		return err
	}
	data, err := marshal(msg)
	if err != nil {
		return rpcerr.Wrap(rpcerr.KindArgument, "nsq publish", err)
	}

	done := make(chan *nsq.ProducerTransaction, 1)
	if err := n.producer.PublishAsync(name, data, done); err != nil {
		return rpcerr.Wrap(rpcerr.KindUnavailable, "nsq publish", err)
	}
	select {
	case t := <-done:
		return rpcerr.Wrap(rpcerr.KindUnavailable, "nsq publish", t.Error)
	case <-ctx.Done():
		return rpcerr.FromContext("nsq publish", ctx.Err())
	}
}

func (n *NSQ) Subscribe(topic *url.URL, h Handler) (Subscription, error) {
	name, err := TopicName(topic)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}

	cfg := nsq.NewConfig()
	cfg.MaxInFlight = 1
	channel := "sub-" + strings.ReplaceAll(uuid.NewString(), "-", "") + "#ephemeral"
	consumer, err := nsq.NewConsumer(name, channel, cfg)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindArgument, "nsq subscribe", err)
	}
	consumer.SetLogger(nsqLogger{n.log}, nsq.LogLevelWarning)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		msg, err := unmarshal(m.Body)
		if err != nil {
			// Requeueing cannot fix a malformed body.
			n.log.WithError(err).WithField("topic", name).Warn("dropping malformed message")
			return nil
		}
		h(n.ctx, msg)
		return nil
	}))
	if err := consumer.ConnectToNSQD(n.addr); err != nil {
		consumer.Stop()
		return nil, rpcerr.Wrap(rpcerr.KindUnavailable, "nsq subscribe", err)
	}

	sub := &nsqSub{bus: n, consumer: consumer}
	n.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe stops the consumer and waits for its handler to return. It
// must not be called from inside that handler.
func (s *nsqSub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		s.consumer.Stop()
		select {
		case <-s.consumer.StopChan:
		case <-time.After(nsqStopTimeout):
			s.err = fmt.Errorf("nsq: timed out waiting for consumer to stop")
		}
	})
	return s.err
}

// Close stops every subscription and the producer.
func (n *NSQ) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := make([]*nsqSub, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	n.cancel()
	var errs error
	for _, s := range subs {
		errs = multierr.Append(errs, s.Unsubscribe())
	}
	n.producer.Stop()
	return errs
}

// nsqLogger sends go-nsq log lines to logrus.
type nsqLogger struct {
	entry *logrus.Entry
}

func (l nsqLogger) Output(_ int, s string) error {
	switch {
	case strings.HasPrefix(s, "ERR"):
		l.entry.Error(s)
	case strings.HasPrefix(s, "WRN"):
		l.entry.Warn(s)
	default:
		l.entry.Debug(s)
	}
	return nil
}
