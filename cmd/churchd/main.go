// Command churchd hosts the heartbeat service on the transport selected by
// CHURCH_BASE_ADDRESS.
package main

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"church-rpc/broadcast"
	"church-rpc/bus"
	"church-rpc/busrpc"
	"church-rpc/config"
	"church-rpc/heartbeat"
	"church-rpc/host"
	"church-rpc/logging"
	"church-rpc/middleware"
	"church-rpc/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.SetFormat(cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.New("churchd")
	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	base, err := cfg.Address()
	if err != nil {
		return err
	}

	svc := heartbeat.NewService()
	b := host.NewBuilder().WithBaseAddress(base)
	heartbeat.Register(b, "", svc)
	heartbeat.Register(b, "primary", heartbeat.NewService())
	h, err := b.Build()
	if err != nil {
		return err
	}
	defer h.Close()

	registry := metrics.NewRegistry()
	metrics.RegisterRuntimeMemStats(registry)
	mws := []middleware.Middleware{
		middleware.Recover(logging.New("dispatch")),
		middleware.Metrics(registry),
		middleware.Logging(logging.New("dispatch")),
		middleware.Timeout(cfg.RequestTimeout),
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsInterval > 0 {
		g.Go(func() error {
			reportMetrics(ctx, registry, cfg.MetricsInterval, logging.New("metrics"))
			return nil
		})
	}

	if cfg.IsSocket() {
		err = serveSocket(ctx, g, h, cfg, mws)
	} else {
		err = serveBus(ctx, g, h, cfg, base, svc, mws, log)
	}
	if err != nil {
		return err
	}
	return g.Wait()
}

func serveSocket(ctx context.Context, g *errgroup.Group, h *host.Host, cfg *config.Config, mws []middleware.Middleware) error {
	svr := server.New(h)
	for _, mw := range mws {
		svr.Use(mw)
	}
	if err := svr.Listen(ctx); err != nil {
		return err
	}
	g.Go(svr.Serve)
	g.Go(func() error {
		<-ctx.Done()
		return svr.Shutdown(cfg.ShutdownTimeout)
	})
	return nil
}

func serveBus(ctx context.Context, g *errgroup.Group, h *host.Host, cfg *config.Config, base *url.URL,
	svc *heartbeat.Service, mws []middleware.Middleware, log *logrus.Entry) error {
	b, err := bus.Open(base, logging.New("bus"))
	if err != nil {
		return err
	}
	l, err := busrpc.NewListener(h, b, busrpc.WithMiddleware(mws...))
	if err != nil {
		b.Close()
		return err
	}
	if err := l.Start(); err != nil {
		b.Close()
		return err
	}

	if cfg.BroadcastInterval > 0 {
		if err := startBroadcast(ctx, g, b, h, cfg, base, svc); err != nil {
			log.WithError(err).Warn("not broadcasting node details")
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		err := l.Stop()
		if cerr := b.Close(); err == nil {
			err = cerr
		}
		return err
	})
	return nil
}

func startBroadcast(ctx context.Context, g *errgroup.Group, b bus.Bus, h *host.Host, cfg *config.Config,
	base *url.URL, svc *heartbeat.Service) error {
	hostname, err := os.Hostname()
	if err != nil {
		return err
	}
	id, err := broadcast.NewPublisherID(hostname, cfg.Instance)
	if err != nil {
		return err
	}
	pub, err := broadcast.NewPublisher(b, id, base, nil)
	if err != nil {
		return err
	}

	var services []string
	for _, s := range h.Services() {
		services = append(services, s.String())
	}
	g.Go(func() error {
		return pub.Run(ctx, cfg.BroadcastInterval, func() any {
			return &heartbeat.NodeDetails{
				Server:    id.Server,
				Instance:  id.Instance,
				Services:  services,
				Issued:    svc.Issued(),
				Published: time.Now().UTC(),
			}
		})
	})
	return nil
}

func reportMetrics(ctx context.Context, registry metrics.Registry, interval time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CaptureRuntimeMemStatsOnce(registry)
			var buf bytes.Buffer
			metrics.WriteJSONOnce(registry, &buf)
			log.Info(buf.String())
		}
	}
}
