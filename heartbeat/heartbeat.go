// Package heartbeat is the liveness contract of a church-rpc host. A caller
// sends an ID of its choosing; the callee answers with that ID and one from
// its own counter.
package heartbeat

import (
	"context"
	"sync/atomic"

	"church-rpc/host"
	"church-rpc/rpcerr"
)

// OpBeat is the operation name of Heartbeat.Beat on the wire.
const OpBeat = "Heartbeat.Beat"

// Heartbeat is the contract.
type Heartbeat interface {
	Beat(ctx context.Context, req *Request) (*Response, error)
}

// Service issues callee IDs from a counter scoped to the instance: the first
// is 1, and each later one is greater than every ID issued before it.
type Service struct {
	issued atomic.Int64
}

var _ Heartbeat = (*Service)(nil)

func NewService() *Service {
	return &Service{}
}

// Beat pairs the caller's ID with the next callee ID. Any caller ID is
// valid; only a missing request is rejected.
func (s *Service) Beat(_ context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, rpcerr.New(rpcerr.KindArgument, OpBeat, "request is required")
	}
	return &Response{
		CallerID: req.CallerID,
		CalleeID: s.issued.Add(1),
	}, nil
}

// Issued returns the last callee ID handed out, 0 if none.
func (s *Service) Issued() int64 {
	return s.issued.Load()
}

// Register adds svc to b under name.
func Register(b *host.Builder, name string, svc Heartbeat) *host.Builder {
	return host.Register[Heartbeat](b, name, svc)
}
