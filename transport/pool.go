package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// DialFunc opens one transport.
type DialFunc func(ctx context.Context) (*ClientTransport, error)

// Pool holds a fixed number of multiplexed transports to one address and
// spreads calls over them round-robin. A transport whose connection died is
// replaced on the next Get that lands on its slot.
type Pool struct {
	dial DialFunc
	next atomic.Uint32

	mu     sync.Mutex
	slots  []*ClientTransport
	closed bool
}

// NewPool dials size transports up front. If any dial fails, the ones already
// open are closed and the error is returned.
func NewPool(ctx context.Context, size int, dial DialFunc) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{dial: dial, slots: make([]*ClientTransport, 0, size)}
	for i := 0; i < size; i++ {
		t, err := dial(ctx)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.slots = append(p.slots, t)
	}
	return p, nil
}

// Get returns the next transport in round-robin order.
func (p *Pool) Get(ctx context.Context) (*ClientTransport, error) {
	i := int(p.next.Add(1)-1) % cap(p.slots)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	t := p.slots[i]
	select {
	case <-t.Done():
	default:
		return t, nil
	}

	fresh, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.slots[i] = fresh
	return fresh, nil
}

// Size returns the number of transports in the pool.
func (p *Pool) Size() int { return cap(p.slots) }

// Close closes every transport. Calls in flight fail as unavailable.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs error
	for _, t := range p.slots {
		errs = multierr.Append(errs, t.Close())
	}
	return errs
}
