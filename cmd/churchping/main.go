// Command churchping sends heartbeats to a church-rpc host and prints the
// caller/callee ID pairs it gets back.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"church-rpc/bus"
	"church-rpc/busrpc"
	"church-rpc/client"
	"church-rpc/config"
	"church-rpc/heartbeat"
	"church-rpc/logging"
)

type caller interface {
	heartbeat.Caller
	Close() error
}

func main() {
	var count int
	var service string
	flag.IntVar(&count, "n", 3, "number of heartbeats to send")
	flag.StringVar(&service, "service", "", "service name (empty for the default service)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, count, service); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, count int, service string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	c, cleanup, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	hb := heartbeat.NewClient(c, service)
	for i := 1; i <= count; i++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		resp, err := hb.Beat(callCtx, &heartbeat.Request{CallerID: int64(i)})
		cancel()
		if err != nil {
			return err
		}
		fmt.Printf("caller=%d callee=%d\n", resp.CallerID, resp.CalleeID)
	}
	return nil
}

func connect(ctx context.Context, cfg *config.Config) (caller, func(), error) {
	base, err := cfg.Address()
	if err != nil {
		return nil, nil, err
	}
	if cfg.IsSocket() {
		c, err := client.Dial(ctx, base,
			client.WithCodec(cfg.CodecType()),
			client.WithPoolSize(cfg.PoolSize),
			client.WithLogger(logging.New("client")))
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}

	b, err := bus.Open(base, logging.New("bus"))
	if err != nil {
		return nil, nil, err
	}
	c, err := busrpc.NewClient(b, base,
		busrpc.WithCodec(cfg.CodecType()),
		busrpc.WithClientLogger(logging.New("busrpc.client")))
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return c, func() {
		c.Close()
		b.Close()
	}, nil
}
