package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"

	"church-rpc/logging"
	"church-rpc/rpcerr"
)

const (
	// DefaultEtcdPrefix is the key space messages are written under.
	DefaultEtcdPrefix = "/church"
	// DefaultEtcdTTL is how long, in seconds, a message outlives its
	// publisher's last lease renewal.
	DefaultEtcdTTL int64 = 30

	etcdOpTimeout    = 5 * time.Second
	etcdRewatchDelay = 500 * time.Millisecond
)

// Etcd is a Bus on top of etcd v3. A message is one key:
//
//	Key:   {prefix}/{topic}/{unixnano}-{uuid}
//	Value: JSON-encoded Message
//
// Keys are attached to a lease the bus keeps alive, so messages disappear a
// TTL after their publisher stops. Subscribers watch the topic prefix and
// receive key creations only.
type Etcd struct {
	client *clientv3.Client // thread-safe, shared by every subscription
	owned  bool
	prefix string
	ttl    int64
	log    *logrus.Entry

	leaseMu sync.Mutex
	lease   clientv3.LeaseID

	mu     sync.Mutex
	subs   map[*etcdSub]struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

type etcdSub struct {
	bus    *Etcd
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewEtcd connects to the given etcd endpoints. The bus owns the client and
// closes it on Close.
func NewEtcd(endpoints []string, prefix string, log *logrus.Entry) (*Etcd, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdOpTimeout,
	})
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindUnavailable, "etcd connect", err)
	}
	e := NewEtcdFromClient(c, prefix, log)
	e.owned = true
	return e, nil
}

// NewEtcdFromClient builds a bus on an existing client, which the caller
// keeps ownership of.
func NewEtcdFromClient(c *clientv3.Client, prefix string, log *logrus.Entry) *Etcd {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Etcd{
		client: c,
		prefix: strings.TrimSuffix(prefix, "/"),
		ttl:    DefaultEtcdTTL,
		log:    logging.OrDefault(log, "bus.etcd"),
		subs:   make(map[*etcdSub]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (e *Etcd) topicPrefix(name string) string {
	return e.prefix + "/" + name + "/"
}

// grant returns the publishing lease, creating it and starting its renewal
// on first use. A lease whose renewal stops is forgotten, and the next
// publish grants a new one.
func (e *Etcd) grant(ctx context.Context) (clientv3.LeaseID, error) {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()
	if e.lease != clientv3.NoLease {
		return e.lease, nil
	}

	lease, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return clientv3.NoLease, err
	}
	ch, err := e.client.KeepAlive(e.ctx, lease.ID)
	if err != nil {
		return clientv3.NoLease, err
	}
	go func(id clientv3.LeaseID) {
		for range ch {
		}
		if e.ctx.Err() == nil && !e.isClosed() {
			e.log.WithField("lease", int64(id)).Warn("lease renewal stopped")
		}
		e.dropLease(id)
	}(lease.ID)
	e.lease = lease.ID
	return e.lease, nil
}

// dropLease forgets id if it is still the publishing lease.
func (e *Etcd) dropLease(id clientv3.LeaseID) {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()
	if e.lease == id {
		e.lease = clientv3.NoLease
	}
}

func (e *Etcd) Publish(ctx context.Context, topic *url.URL, msg *Message) error {
	name, err := TopicName(topic)
	if err != nil {
		return err
	}
	if e.isClosed() {
		return ErrClosed
	}
	data, err := marshal(msg)
	if err != nil {
		return rpcerr.Wrap(rpcerr.KindArgument, "etcd publish", err)
	}

	key := fmt.Sprintf("%s%020d-%s", e.topicPrefix(name), time.Now().UnixNano(), uuid.NewString())
	err = e.put(ctx, key, string(data))
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		// Revoked or expired before the renewal goroutine noticed.
		err = e.put(ctx, key, string(data))
	}
	if err != nil {
		return e.fail(ctx, "etcd publish", err)
	}
	return nil
}

func (e *Etcd) put(ctx context.Context, key, value string) error {
	lease, err := e.grant(ctx)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, key, value, clientv3.WithLease(lease))
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		e.dropLease(lease)
	}
	return err
}

func (e *Etcd) fail(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return rpcerr.FromContext(op, ctx.Err())
	}
	return rpcerr.Wrap(rpcerr.KindUnavailable, op, err)
}

// Subscribe starts watching topic from the revision after the current one,
// so every message published once Subscribe returns is delivered. A watch
// that breaks is restarted where it left off, or at the compaction point if
// that history is gone.
func (e *Etcd) Subscribe(topic *url.URL, h Handler) (Subscription, error) {
	name, err := TopicName(topic)
	if err != nil {
		return nil, err
	}
	prefix := e.topicPrefix(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	getCtx, cancelGet := context.WithTimeout(e.ctx, etcdOpTimeout)
	resp, err := e.client.Get(getCtx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	cancelGet()
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindUnavailable, "etcd subscribe", err)
	}

	ctx, cancel := context.WithCancel(e.ctx)
	sub := &etcdSub{bus: e, cancel: cancel, done: make(chan struct{})}
	e.subs[sub] = struct{}{}
	go sub.watch(ctx, name, prefix, resp.Header.Revision+1, h)
	return sub, nil
}

func (s *etcdSub) watch(ctx context.Context, topic, prefix string, rev int64, h Handler) {
	defer close(s.done)
	log := s.bus.log.WithField("topic", topic)
	for {
		rev = s.watchFrom(ctx, log, prefix, rev, h)
		select {
		case <-ctx.Done():
			return
		case <-time.After(etcdRewatchDelay):
		}
		log.WithField("revision", rev).Info("restarting watch")
	}
}

// watchFrom delivers creations under prefix from rev until the watch channel
// closes, and returns the revision to resume from.
func (s *etcdSub) watchFrom(ctx context.Context, log *logrus.Entry, prefix string, rev int64, h Handler) int64 {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wch := s.bus.client.Watch(wctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(rev),
		clientv3.WithFilterDelete())

	for resp := range wch {
		if err := resp.Err(); err != nil {
			if resp.CompactRevision > rev {
				log.WithError(err).WithField("from", rev).Warn("watch compacted, messages skipped")
				rev = resp.CompactRevision
			} else {
				log.WithError(err).Warn("watch failed")
			}
			return rev
		}
		for _, ev := range resp.Events {
			rev = ev.Kv.ModRevision + 1
			if !ev.IsCreate() {
				continue
			}
			msg, err := unmarshal(ev.Kv.Value)
			if err != nil {
				log.WithError(err).WithField("key", string(ev.Kv.Key)).Warn("dropping malformed message")
				continue
			}
			if ctx.Err() != nil {
				return rev
			}
			h(ctx, msg)
		}
		if resp.Header.Revision >= rev {
			rev = resp.Header.Revision + 1
		}
	}
	return rev
}

// Unsubscribe cancels the watch and waits for the handler to return. It must
// not be called from inside that handler.
func (s *etcdSub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		s.cancel()
		<-s.done
	})
	return nil
}

func (e *Etcd) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close stops every subscription and revokes the publishing lease, which
// removes this bus's messages from etcd.
func (e *Etcd) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	subs := make([]*etcdSub, 0, len(e.subs))
	for s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	var errs error
	for _, s := range subs {
		errs = multierr.Append(errs, s.Unsubscribe())
	}

	e.leaseMu.Lock()
	lease := e.lease
	e.leaseMu.Unlock()
	if lease != clientv3.NoLease {
		ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
		if _, err := e.client.Revoke(ctx, lease); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("etcd revoke: %w", err))
		}
		cancel()
	}
	e.cancel()

	if e.owned {
		errs = multierr.Append(errs, e.client.Close())
	}
	return errs
}
