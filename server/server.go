// Package server implements the callee side of the socket transport.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Dispatcher (middleware chain → Host.Resolve → Binding.Invoke) → Codec.Encode → write reply
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"church-rpc/codec"
	"church-rpc/dispatch"
	"church-rpc/endpoint"
	"church-rpc/host"
	"church-rpc/logging"
	"church-rpc/message"
	"church-rpc/middleware"
	"church-rpc/protocol"
	"church-rpc/rpcerr"
)

// Server serves the services of one Host over TCP.
type Server struct {
	host        *host.Host
	resolver    endpoint.Resolver
	codecs      map[codec.Type]bool // accepted codecs, nil accepts all
	log         *logrus.Entry
	middlewares []middleware.Middleware
	dispatcher  *dispatch.Dispatcher

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	conns    map[*serverConn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithCodecs restricts the codecs the server accepts.
func WithCodecs(types ...codec.Type) Option {
	return func(s *Server) {
		s.codecs = make(map[codec.Type]bool, len(types))
		for _, t := range types {
			s.codecs[t] = true
		}
	}
}

// WithResolver replaces the resolver used for the base address.
func WithResolver(r endpoint.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Server) { s.log = l }
}

func New(h *host.Host, opts ...Option) *Server {
	s := &Server{
		host:  h,
		conns: make(map[*serverConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDefault(s.log, "server")
	return s
}

// Use registers a middleware. Middlewares apply in the order they are added;
// Use must be called before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Listen resolves the host's base address (tcp://host:port) and listens on it.
// It fails once Shutdown has been called.
func (s *Server) Listen(ctx context.Context) error {
	base := s.host.BaseAddress()
	if base.Scheme != "tcp" {
		return rpcerr.New(rpcerr.KindConfiguration, "listen", "base address %s is not tcp://", base)
	}
	addr, ok := s.resolver.Resolve(ctx, base)
	if !ok {
		return rpcerr.New(rpcerr.KindUnresolved, "listen", "cannot resolve %s", base.Host)
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr.String())
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		_ = l.Close()
		return rpcerr.New(rpcerr.KindUnavailable, "listen", "server is shut down")
	}
	s.listener = l
	s.mu.Unlock()
	s.log.WithField("addr", l.Addr().String()).Info("listening")
	return nil
}

// Addr returns the listening address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until Shutdown. It returns nil after Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		if s.shutdown.Load() {
			return nil
		}
		return rpcerr.New(rpcerr.KindConfiguration, "serve", "Listen was not called")
	}
	// Build the middleware chain once at startup (not per-request).
	s.dispatcher = dispatch.New(s.host, s.middlewares...)

	for {
		conn, err := l.Accept()
		if err != nil {
			// Shutdown closes the listener, which fails Accept.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		sc := s.track(conn)
		if sc == nil {
			_ = conn.Close()
			continue
		}
		go s.handleConn(sc)
	}
}

// serverConn is one accepted connection. writeMu is shared by every request
// goroutine on it; inflight maps request seqs to their cancel funcs.
type serverConn struct {
	conn    net.Conn
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	inflight map[uint32]context.CancelFunc
}

func (s *Server) track(conn net.Conn) *serverConn {
	ctx, cancel := context.WithCancel(context.Background())
	sc := &serverConn{conn: conn, ctx: ctx, cancel: cancel, inflight: make(map[uint32]context.CancelFunc)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		cancel()
		return nil
	}
	s.conns[sc] = struct{}{}
	return sc
}

func (s *Server) untrack(sc *serverConn) {
	s.mu.Lock()
	delete(s.conns, sc)
	s.mu.Unlock()
}

// handleConn reads frames sequentially and hands each request to its own
// goroutine, so a slow call never blocks the calls behind it.
func (s *Server) handleConn(sc *serverConn) {
	log := s.log.WithField("remote", sc.conn.RemoteAddr().String())
	defer func() {
		sc.cancel() // a dead connection cancels every call still running on it
		_ = sc.conn.Close()
		s.untrack(sc)
	}()

	for {
		header, body, err := protocol.Decode(sc.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !s.shutdown.Load() {
				log.WithError(err).Warn("closing connection")
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeCancel:
			sc.cancelCall(header.Seq)
			continue
		case protocol.MsgTypeResponse:
			log.WithField("seq", header.Seq).Warn("unexpected response frame")
			continue
		}

		if s.shutdown.Load() {
			return
		}
		ctx, cancel := context.WithCancel(sc.ctx)
		sc.mu.Lock()
		sc.inflight[header.Seq] = cancel
		sc.mu.Unlock()

		s.wg.Add(1)
		go s.handleRequest(ctx, sc, header, body)
	}
}

func (sc *serverConn) cancelCall(seq uint32) {
	sc.mu.Lock()
	cancel, ok := sc.inflight[seq]
	delete(sc.inflight, seq)
	sc.mu.Unlock()
	if ok {
		cancel()
	}
}

// finish reports whether seq was still in flight, i.e. not canceled.
func (sc *serverConn) finish(seq uint32) bool {
	sc.mu.Lock()
	cancel, ok := sc.inflight[seq]
	delete(sc.inflight, seq)
	sc.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// handleRequest decodes the call, dispatches it and writes the reply with
// the request's seq so the caller can match it.
func (s *Server) handleRequest(ctx context.Context, sc *serverConn, header *protocol.Header, body []byte) {
	defer s.wg.Done()

	c, _ := codec.Get(header.CodecType) // protocol.Decode rejected unknown codecs
	var reply *message.Reply
	call := &message.Call{}
	switch {
	case s.codecs != nil && !s.codecs[header.CodecType]:
		reply = &message.Reply{Failure: rpcerr.ToFailure(
			rpcerr.New(rpcerr.KindArgument, "server", "codec %s not accepted", header.CodecType))}
	default:
		if err := c.Decode(body, call); err != nil {
			reply = &message.Reply{Failure: rpcerr.ToFailure(err)}
		} else {
			reply = s.dispatcher.Dispatch(ctx, c, call)
		}
	}

	if !sc.finish(header.Seq) {
		return // canceled by the caller, nobody is waiting
	}

	result, err := c.Encode(reply)
	if err != nil {
		s.log.WithError(err).WithField("op", call.Op).Error("failed to encode reply")
		return
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	if err := protocol.Encode(sc.conn, &replyHeader, result); err != nil {
		s.log.WithError(err).WithField("op", call.Op).Debug("failed to write reply")
	}
}

// Shutdown stops accepting connections, waits up to timeout for in-flight
// requests, then closes every connection.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set the flag before closing the listener so Serve sees a clean stop.
	s.mu.Lock()
	s.shutdown.Store(true)
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = rpcerr.New(rpcerr.KindTimeout, "shutdown", "timeout waiting for ongoing requests to finish")
	}

	s.mu.Lock()
	for sc := range s.conns {
		sc.cancel()
		_ = sc.conn.Close()
	}
	s.mu.Unlock()
	return err
}
