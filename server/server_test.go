package server

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"testing"
	"time"

	"church-rpc/codec"
	"church-rpc/endpoint"
	"church-rpc/host"
	"church-rpc/message"
	"church-rpc/protocol"
	"church-rpc/rpcerr"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith interface {
	Add(ctx context.Context, args *Args) (*Reply, error)
	Block(ctx context.Context, args *Args) (*Reply, error)
}

type arith struct {
	canceled chan struct{}
}

func (a *arith) Add(_ context.Context, args *Args) (*Reply, error) {
	return &Reply{Result: args.A + args.B}, nil
}

// Block waits until its call is canceled.
func (a *arith) Block(ctx context.Context, _ *Args) (*Reply, error) {
	<-ctx.Done()
	close(a.canceled)
	return nil, ctx.Err()
}

func startServer(t *testing.T, opts ...Option) (*Server, *arith) {
	t.Helper()
	svc := &arith{canceled: make(chan struct{})}
	b := host.NewBuilder().WithBaseAddressString("tcp://127.0.0.1:0")
	host.Register[Arith](b, "", svc)
	h, err := b.Build()
	if err != nil {
		t.Fatalf("build host: %v", err)
	}

	svr := New(h, opts...)
	if err := svr.Listen(context.Background()); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go svr.Serve()
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, svc
}

func dial(t *testing.T, svr *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", svr.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeCall(t *testing.T, conn net.Conn, c codec.Codec, seq uint32, op string, args *Args) {
	t.Helper()
	call := message.Call{Op: op}
	if args != nil {
		payload, err := c.Encode(args)
		if err != nil {
			t.Fatal(err)
		}
		call.Payload = payload
		call.Present = true
	}
	body, err := c.Encode(&call)
	if err != nil {
		t.Fatal(err)
	}
	header := protocol.Header{CodecType: c.Type(), MsgType: protocol.MsgTypeRequest, Seq: seq}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}
}

func readReply(t *testing.T, conn net.Conn) (*protocol.Header, *message.Reply) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header, body, err := protocol.Decode(conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	c, _ := codec.Get(header.CodecType)
	var reply message.Reply
	if err := c.Decode(body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return header, &reply
}

func TestServer(t *testing.T) {
	svr, _ := startServer(t)
	conn := dial(t, svr)

	for _, c := range []codec.Codec{codec.JSON{}, codec.Gob{}} {
		writeCall(t, conn, c, 7, "Arith.Add", &Args{1, 2})
		header, reply := readReply(t, conn)

		if header.Seq != 7 || header.MsgType != protocol.MsgTypeResponse {
			t.Fatalf("unexpected header %+v", header)
		}
		if header.CodecType != c.Type() {
			t.Fatalf("reply codec %s, want %s", header.CodecType, c.Type())
		}
		if reply.Failed() {
			t.Fatalf("unexpected failure: %+v", reply.Failure)
		}
		var result Reply
		if err := c.Decode(reply.Payload, &result); err != nil {
			t.Fatal(err)
		}
		if result.Result != 3 {
			t.Fatalf("expect 3, got %d", result.Result)
		}
	}
}

func TestServerFailures(t *testing.T) {
	svr, _ := startServer(t)
	conn := dial(t, svr)
	c := codec.JSON{}

	writeCall(t, conn, c, 1, "Geometry.Area", &Args{})
	if _, reply := readReply(t, conn); !reply.Failed() || reply.Failure.Kind != "not_found" {
		t.Fatalf("expect not_found, got %+v", reply.Failure)
	}

	// A body that is not a Call.
	header := protocol.Header{CodecType: codec.TypeJSON, MsgType: protocol.MsgTypeRequest, Seq: 2}
	if err := protocol.Encode(conn, &header, []byte("{broken")); err != nil {
		t.Fatal(err)
	}
	if h, reply := readReply(t, conn); h.Seq != 2 || reply.Failure == nil || reply.Failure.Kind != "decode" {
		t.Fatalf("expect decode failure for seq 2, got %+v", reply.Failure)
	}
}

func TestServerRejectsCodec(t *testing.T) {
	svr, _ := startServer(t, WithCodecs(codec.TypeGob))
	conn := dial(t, svr)

	writeCall(t, conn, codec.JSON{}, 1, "Arith.Add", &Args{1, 1})
	if _, reply := readReply(t, conn); !reply.Failed() || reply.Failure.Kind != "argument" {
		t.Fatalf("expect argument failure, got %+v", reply.Failure)
	}
}

func TestServerCancelFrame(t *testing.T) {
	svr, svc := startServer(t)
	conn := dial(t, svr)

	writeCall(t, conn, codec.JSON{}, 9, "Arith.Block", &Args{})
	cancel := protocol.Header{CodecType: codec.TypeJSON, MsgType: protocol.MsgTypeCancel, Seq: 9}
	if err := protocol.Encode(conn, &cancel, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case <-svc.canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("service context was not canceled")
	}

	// The canceled call gets no reply; the next call's reply comes first.
	writeCall(t, conn, codec.JSON{}, 10, "Arith.Add", &Args{2, 2})
	if h, _ := readReply(t, conn); h.Seq != 10 {
		t.Fatalf("expect reply for seq 10, got seq %d", h.Seq)
	}
}

func TestServerConnectionCloseCancelsCalls(t *testing.T) {
	svr, svc := startServer(t)
	conn := dial(t, svr)

	writeCall(t, conn, codec.Gob{}, 1, "Arith.Block", &Args{})
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case <-svc.canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("closing the connection did not cancel the call")
	}
}

func TestServerHeartbeatIgnored(t *testing.T) {
	svr, _ := startServer(t)
	conn := dial(t, svr)

	hb := protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
	if err := protocol.Encode(conn, &hb, nil); err != nil {
		t.Fatal(err)
	}
	writeCall(t, conn, codec.JSON{}, 3, "Arith.Add", &Args{1, 1})
	if h, reply := readReply(t, conn); h.Seq != 3 || reply.Failed() {
		t.Fatalf("unexpected reply %+v %+v", h, reply.Failure)
	}
}

func TestShutdown(t *testing.T) {
	svr, _ := startServer(t)
	addr := svr.Addr().String()

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatal("expect dial to fail after shutdown")
	}
}

func TestShutdownBeforeListen(t *testing.T) {
	b := host.NewBuilder().WithBaseAddressString("tcp://127.0.0.1:0")
	host.Register[Arith](b, "", &arith{})
	h, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	svr := New(h)

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := svr.Listen(context.Background()); !errors.Is(err, rpcerr.ErrUnavailable) {
		t.Fatalf("expect unavailable error, got %v", err)
	}
	if svr.Addr() != nil {
		t.Fatalf("expect no address, got %v", svr.Addr())
	}

	served := make(chan error, 1)
	go func() { served <- svr.Serve() }()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestListenUnresolved(t *testing.T) {
	b := host.NewBuilder().WithBaseAddressString("tcp://church.invalid:9000")
	host.Register[Arith](b, "", &arith{})
	h, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	svr := New(h, WithResolver(endpoint.Resolver{
		Lookup: func(context.Context, string, string) ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("2001:db8::1")}, nil
		},
	}))
	err = svr.Listen(context.Background())
	if !errors.Is(err, rpcerr.ErrUnresolved) {
		t.Fatalf("expect unresolved error, got %v", err)
	}
}

func TestListenRejectsScheme(t *testing.T) {
	base, _ := url.Parse("nsq://127.0.0.1:4150/church")
	b := host.NewBuilder().WithBaseAddress(base)
	host.Register[Arith](b, "", &arith{})
	h, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := New(h).Listen(context.Background()); !errors.Is(err, rpcerr.ErrConfiguration) {
		t.Fatalf("expect configuration error, got %v", err)
	}
}
