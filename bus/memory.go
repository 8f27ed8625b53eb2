package bus

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"church-rpc/rpcerr"
	"church-rpc/workqueue"
)

// Memory is an in-process Bus. Each subscription gets its own copy of every
// message, queued without bound.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMemory() *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		subs:   make(map[string]map[*memorySub]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

type memorySub struct {
	bus     *Memory
	topic   string
	handler Handler
	queue   *workqueue.Sequential
	stopped atomic.Bool
}

func (m *Memory) Publish(ctx context.Context, topic *url.URL, msg *Message) error {
	name, err := TopicName(topic)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return rpcerr.FromContext("bus publish", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs[name] {
		sub.deliver(msg.Clone())
	}
	return nil
}

func (m *Memory) Subscribe(topic *url.URL, h Handler) (Subscription, error) {
	name, err := TopicName(topic)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{bus: m, topic: name, handler: h, queue: workqueue.NewSequential()}
	if m.subs[name] == nil {
		m.subs[name] = make(map[*memorySub]struct{})
	}
	m.subs[name][sub] = struct{}{}
	return sub, nil
}

// Close stops every subscription and rejects further use.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	m.cancel()
	for _, set := range subs {
		for sub := range set {
			sub.stopped.Store(true)
		}
	}
	return nil
}

func (s *memorySub) deliver(msg *Message) {
	s.queue.Enqueue(func() {
		if s.stopped.Load() {
			return
		}
		s.handler(s.bus.ctx, msg)
	})
}

func (s *memorySub) Unsubscribe() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if set := s.bus.subs[s.topic]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.subs, s.topic)
		}
	}
	return nil
}
