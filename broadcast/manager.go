// Package broadcast distributes periodic publisher data over a bus.
//
// A Publisher sends on the topic derived from its address with
// endpoint.Broadcast. A Manager shares one bus subscription per topic between
// every publisher subscribed through it, and hands each publisher's data to
// its handler in arrival order.
package broadcast

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"church-rpc/bus"
	"church-rpc/endpoint"
	"church-rpc/logging"
	"church-rpc/rpcerr"
	"church-rpc/workqueue"
)

// Handler consumes one broadcast. Returned errors are logged.
type Handler func(ctx context.Context, d *Data) error

// ErrDisposed is returned by Subscribe after Dispose.
var ErrDisposed = rpcerr.New(rpcerr.KindUnavailable, "broadcast", "manager disposed")

// Manager routes broadcasts to per-publisher handlers. Handlers of different
// publishers run concurrently; one publisher's handler never overlaps itself.
type Manager struct {
	bus bus.Bus
	log *logrus.Entry

	mu        sync.Mutex
	disposed  bool
	subs      map[PublisherID]*subscription
	receivers map[string]*receiver

	ctx    context.Context
	cancel context.CancelFunc
}

type subscription struct {
	id      PublisherID
	topic   string
	handler Handler
	queue   *workqueue.Sequential
	stopped atomic.Bool
}

// receiver is a bus subscription shared by the publishers on one topic.
type receiver struct {
	sub        bus.Subscription
	publishers int
}

type Option func(*Manager)

func WithLogger(l *logrus.Entry) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(b bus.Bus, opts ...Option) *Manager {
	m := &Manager{
		bus:       b,
		subs:      make(map[PublisherID]*subscription),
		receivers: make(map[string]*receiver),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.OrDefault(m.log, "broadcast")
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Subscribe routes the broadcasts of id, published under address, to h.
// A publisher can be subscribed only once per Manager.
func (m *Manager) Subscribe(id PublisherID, address *url.URL, h Handler) error {
	if id.IsZero() || h == nil {
		return rpcerr.New(rpcerr.KindArgument, "broadcast subscribe", "publisher and handler are required")
	}
	topic, err := endpoint.Broadcast(address)
	if err != nil {
		return err
	}
	key := topic.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	if _, ok := m.subs[id]; ok {
		return rpcerr.New(rpcerr.KindArgument, "broadcast subscribe", "already subscribed to %s", id)
	}

	r := m.receivers[key]
	if r == nil {
		sub, err := m.bus.Subscribe(topic, m.receive)
		if err != nil {
			return err
		}
		r = &receiver{sub: sub}
		m.receivers[key] = r
		m.log.WithField("topic", key).Debug("receiving broadcasts")
	}
	r.publishers++

	s := &subscription{id: id, topic: key, handler: h, queue: workqueue.NewSequential()}
	s.queue.OnPanic = func(v any) {
		m.log.WithField("publisher", id.String()).Errorf("broadcast handler panicked: %v", v)
	}
	m.subs[id] = s
	return nil
}

// Unsubscribe stops delivering id's broadcasts. A delivery already running is
// waited for, so it must not be called from a Handler.
func (m *Manager) Unsubscribe(id PublisherID) error {
	m.mu.Lock()
	s, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return rpcerr.New(rpcerr.KindNotFound, "broadcast unsubscribe", "not subscribed to %s", id)
	}
	delete(m.subs, id)
	s.stopped.Store(true)

	var idle bus.Subscription
	if r := m.receivers[s.topic]; r != nil {
		r.publishers--
		if r.publishers == 0 {
			delete(m.receivers, s.topic)
			idle = r.sub
		}
	}
	m.mu.Unlock()

	s.queue.Close()
	if idle != nil {
		return idle.Unsubscribe()
	}
	return nil
}

// Active returns the number of subscribed publishers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Dispose removes every subscription. No delivery starts once it is called;
// it waits for those already running. Calling it again does nothing.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	subs, receivers := m.subs, m.receivers
	m.subs = make(map[PublisherID]*subscription)
	m.receivers = make(map[string]*receiver)
	for _, s := range subs {
		s.stopped.Store(true)
	}
	m.mu.Unlock()

	m.cancel()
	var err error
	for _, r := range receivers {
		err = multierr.Append(err, r.sub.Unsubscribe())
	}
	for _, s := range subs {
		s.queue.Close()
	}
	return err
}

func (m *Manager) receive(_ context.Context, msg *bus.Message) {
	d, err := dataOf(msg)
	if err != nil {
		m.log.WithError(err).Debug("dropping broadcast")
		return
	}

	m.mu.Lock()
	s := m.subs[d.Publisher]
	m.mu.Unlock()
	if s == nil {
		return // someone else's publisher on a shared topic
	}

	s.queue.Enqueue(func() {
		if s.stopped.Load() {
			return
		}
		if err := s.handler(m.ctx, d); err != nil {
			m.log.WithError(err).WithField("publisher", d.Publisher.String()).Warn("broadcast handler failed")
		}
	})
}
