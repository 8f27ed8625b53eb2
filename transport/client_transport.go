// Package transport implements the caller side of the socket transport: one
// multiplexed connection per ClientTransport and a fixed pool of them.
//
// ClientTransport runs many concurrent calls over a single TCP connection.
// Each call gets a unique sequence ID, and a background goroutine (recvLoop)
// reads replies and routes them to the right caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── reply(seq=2) → pending[2] chan → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"church-rpc/codec"
	"church-rpc/logging"
	"church-rpc/message"
	"church-rpc/protocol"
	"church-rpc/rpcerr"
)

// ErrClosed is returned for calls on a transport whose connection is gone.
var ErrClosed = rpcerr.New(rpcerr.KindUnavailable, "transport", "connection closed")

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.Codec
	log     *logrus.Entry
	seq     uint32     // last sequence number handed out, guarded by sending
	closed  bool       // guarded by sending
	pending sync.Map   // map[uint32]chan *message.Reply, one per call in flight
	sending sync.Mutex // serializes frame writes so frames never interleave

	done      chan struct{}
	closeOnce sync.Once
}

// NewClientTransport takes ownership of conn and starts two goroutines:
//   - recvLoop reads replies and hands them to the waiting callers
//   - heartbeatLoop writes an empty heartbeat frame every interval (none if interval <= 0)
func NewClientTransport(conn net.Conn, c codec.Codec, interval time.Duration, log *logrus.Entry) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: c,
		log:   logging.OrDefault(log, "transport").WithField("remote", conn.RemoteAddr().String()),
		done:  make(chan struct{}),
	}
	go t.recvLoop()
	if interval > 0 {
		go t.heartbeatLoop(interval)
	}
	return t
}

// Send writes call and returns its sequence number and the channel its reply
// will arrive on. The channel receives exactly one reply unless the call is
// canceled first.
func (t *ClientTransport) Send(ctx context.Context, call *message.Call) (uint32, <-chan *message.Reply, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, rpcerr.FromContext(call.Op, err)
	}
	body, err := t.codec.Encode(call)
	if err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	if t.closed {
		return 0, nil, ErrClosed
	}

	t.seq++
	seq := t.seq
	header := protocol.Header{
		CodecType: t.codec.Type(),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}

	// Register before writing so recvLoop cannot see the reply first.
	replies := make(chan *message.Reply, 1)
	t.pending.Store(seq, replies)

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, rpcerr.Wrap(rpcerr.KindUnavailable, call.Op, err)
	}
	return seq, replies, nil
}

// Cancel abandons the call with the given sequence number: its reply, if it
// still comes, is dropped, and the server is asked to cancel it.
func (t *ClientTransport) Cancel(seq uint32) error {
	if _, ok := t.pending.LoadAndDelete(seq); !ok {
		return nil
	}
	return t.writeControl(protocol.MsgTypeCancel, seq)
}

func (t *ClientTransport) writeControl(mt protocol.MsgType, seq uint32) error {
	t.sending.Lock()
	defer t.sending.Unlock()
	if t.closed {
		return ErrClosed
	}
	return protocol.Encode(t.conn, &protocol.Header{CodecType: t.codec.Type(), MsgType: mt, Seq: seq}, nil)
}

// recvLoop is the only reader of the connection; frame boundaries can only
// be parsed by reading sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		ch, ok := t.pending.LoadAndDelete(header.Seq)
		if !ok {
			continue // canceled, or not ours
		}
		reply := &message.Reply{}
		c, err := codec.Get(header.CodecType)
		if err == nil {
			err = c.Decode(body, reply)
		}
		if err != nil {
			reply = &message.Reply{Failure: rpcerr.ToFailure(err)}
		}
		ch.(chan *message.Reply) <- reply
	}
}

// fail marks the transport closed and fails every call still waiting.
func (t *ClientTransport) fail(err error) {
	t.sending.Lock()
	wasClosed := t.closed
	t.closed = true
	t.sending.Unlock()

	if !wasClosed && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		t.log.WithError(err).Warn("connection lost")
	}

	failure := rpcerr.ToFailure(ErrClosed)
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.Reply) <- &message.Reply{Failure: failure}
		}
		return true
	})
	t.closeOnce.Do(func() { close(t.done) })
	_ = t.conn.Close()
}

// heartbeatLoop keeps an idle connection alive and notices a dead one.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.writeControl(protocol.MsgTypeHeartbeat, 0); err != nil {
				t.log.WithError(err).Debug("heartbeat failed")
				return
			}
		}
	}
}

// Close closes the connection. Calls still waiting fail as unavailable.
func (t *ClientTransport) Close() error {
	t.sending.Lock()
	t.closed = true
	t.sending.Unlock()
	err := t.conn.Close()
	<-t.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Done is closed once the connection is gone.
func (t *ClientTransport) Done() <-chan struct{} { return t.done }

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn { return t.conn }
