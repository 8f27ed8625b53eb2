package broadcast

import (
	"context"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"church-rpc/bus"
	"church-rpc/codec"
	"church-rpc/endpoint"
	"church-rpc/logging"
	"church-rpc/rpcerr"
)

// Publisher broadcasts values for one PublisherID.
type Publisher struct {
	bus   bus.Bus
	id    PublisherID
	topic *url.URL
	codec codec.Codec
	log   *logrus.Entry
	seq   atomic.Uint64
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(l *logrus.Entry) PublisherOption {
	return func(p *Publisher) { p.log = l }
}

// NewPublisher publishes on the broadcast topic of address. A nil codec
// means JSON.
func NewPublisher(b bus.Bus, id PublisherID, address *url.URL, c codec.Codec, opts ...PublisherOption) (*Publisher, error) {
	if id.IsZero() {
		return nil, rpcerr.New(rpcerr.KindArgument, "broadcast publisher", "publisher id is required")
	}
	topic, err := endpoint.Broadcast(address)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = codec.JSON{}
	}
	p := &Publisher{bus: b, id: id, topic: topic, codec: c}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logging.OrDefault(p.log, "broadcast.publisher").WithField("publisher", id.String())
	return p, nil
}

// Topic returns the topic broadcasts go to.
func (p *Publisher) Topic() *url.URL { return p.topic }

// Publish encodes v and broadcasts it with the next sequence number.
func (p *Publisher) Publish(ctx context.Context, v any) error {
	body, err := p.codec.Encode(v)
	if err != nil {
		return err
	}
	msg := (&bus.Message{Body: body}).
		Set(PropPublisher, p.id.String()).
		Set(PropCodec, p.codec.Type().String()).
		Set(PropSequence, strconv.FormatUint(p.seq.Add(1), 10))
	return p.bus.Publish(ctx, p.topic, msg)
}

// Run publishes source() at once and then every interval until ctx ends.
// Failed publishes are logged and retried on the next tick. A nil value from
// source skips that round.
func (p *Publisher) Run(ctx context.Context, interval time.Duration, source func() any) error {
	if interval <= 0 {
		return rpcerr.New(rpcerr.KindArgument, "broadcast run", "interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if v := source(); v != nil {
			if err := p.Publish(ctx, v); err != nil && ctx.Err() == nil {
				p.log.WithError(err).Warn("broadcast failed")
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
