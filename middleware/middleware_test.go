package middleware

import (
	"bytes"
	"context"
	"testing"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"church-rpc/message"
	"church-rpc/rpcerr"
)

// echoHandler answers immediately.
func echoHandler(ctx context.Context, call *message.Call) *message.Reply {
	return &message.Reply{
		Op:      call.Op,
		Payload: []byte("ok"),
	}
}

// slowHandler takes 200ms.
func slowHandler(ctx context.Context, call *message.Call) *message.Reply {
	time.Sleep(200 * time.Millisecond)
	return echoHandler(ctx, call)
}

func testLogger() (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(l), &buf
}

func TestLogging(t *testing.T) {
	log, buf := testLogger()
	handler := Logging(log)(echoHandler)

	call := &message.Call{Op: "Heartbeat.Beat"}
	reply := handler(context.Background(), call)

	if reply == nil {
		t.Fatal("expect non-nil reply")
	}
	if string(reply.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", string(reply.Payload))
	}
	if !bytes.Contains(buf.Bytes(), []byte("op=Heartbeat.Beat")) {
		t.Fatalf("expect op field in log, got %q", buf.String())
	}
}

func TestTimeoutPass(t *testing.T) {
	// 500ms budget, fast handler: passes through.
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	reply := handler(context.Background(), &message.Call{Op: "Heartbeat.Beat"})

	if reply.Failed() {
		t.Fatalf("expect no failure, got '%s'", reply.Failure.Message)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 50ms budget, 200ms handler: times out.
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	reply := handler(context.Background(), &message.Call{Op: "Heartbeat.Beat"})

	if !reply.Failed() || reply.Failure.Kind != "timeout" {
		t.Fatalf("expect timeout failure, got %+v", reply.Failure)
	}
}

func TestTimeoutParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := Timeout(time.Second)(slowHandler)(ctx, &message.Call{Op: "Heartbeat.Beat"})

	if !reply.Failed() || reply.Failure.Kind != "canceled" {
		t.Fatalf("expect canceled failure, got %+v", reply.Failure)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected.
	handler := RateLimit(1, 2)(echoHandler)
	call := &message.Call{Op: "Heartbeat.Beat"}

	for i := 0; i < 2; i++ {
		reply := handler(context.Background(), call)
		if reply.Failed() {
			t.Fatalf("call %d should pass, got failure: %s", i, reply.Failure.Message)
		}
	}

	reply := handler(context.Background(), call)
	if !reply.Failed() || reply.Failure.Kind != "unavailable" {
		t.Fatalf("call 3 should be rate limited, got: %+v", reply.Failure)
	}
	if reply.Failure.Message != "Heartbeat.Beat: rate limit exceeded" {
		t.Fatalf("unexpected message %q", reply.Failure.Message)
	}
}

func TestRecover(t *testing.T) {
	log, buf := testLogger()
	handler := Recover(log)(func(context.Context, *message.Call) *message.Reply {
		panic("boom")
	})

	reply := handler(context.Background(), &message.Call{Op: "Heartbeat.Beat"})
	if !reply.Failed() || reply.Failure.Kind != "internal" {
		t.Fatalf("expect internal failure, got %+v", reply.Failure)
	}
	if reply.Op != "Heartbeat.Beat" {
		t.Fatalf("expect op to be kept, got %q", reply.Op)
	}
	if !bytes.Contains(buf.Bytes(), []byte("panic: boom")) {
		t.Fatalf("expect panic logged, got %q", buf.String())
	}
}

func TestChain(t *testing.T) {
	log, _ := testLogger()
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *message.Call) *message.Reply {
				order = append(order, name)
				return next(ctx, call)
			}
		}
	}

	chained := Chain(mark("a"), Logging(log), mark("b"), Timeout(500*time.Millisecond))
	reply := chained(echoHandler)(context.Background(), &message.Call{Op: "Heartbeat.Beat"})

	if reply == nil || reply.Failed() {
		t.Fatalf("expect success, got %+v", reply)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expect outer-to-inner order [a b], got %v", order)
	}
}

func TestMetrics(t *testing.T) {
	registry := metrics.NewRegistry()
	ok := Metrics(registry)(echoHandler)
	failing := Metrics(registry)(func(ctx context.Context, call *message.Call) *message.Reply {
		return Fail(call, rpcerr.New(rpcerr.KindInternal, call.Op, "broken"))
	})

	for range 3 {
		ok(context.Background(), &message.Call{Op: "Heartbeat.Beat"})
	}
	failing(context.Background(), &message.Call{Op: "Heartbeat.Beat"})

	timer, _ := registry.Get("calls.Heartbeat.Beat").(metrics.Timer)
	if timer == nil {
		t.Fatal("expect a timer for the op")
	}
	if timer.Count() != 4 {
		t.Fatalf("expect 4 timed calls, got %d", timer.Count())
	}
	counter, _ := registry.Get("failures.Heartbeat.Beat").(metrics.Counter)
	if counter == nil || counter.Count() != 1 {
		t.Fatalf("expect 1 failure, got %v", counter)
	}
}
