// Command feedbufferd keeps a look-ahead buffer of decoded images from a
// paginated listing and hands them out one at a time over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fluxorio/feedbuffer/pkg/config"
	"github.com/fluxorio/feedbuffer/pkg/core/failfast"
	"github.com/fluxorio/feedbuffer/pkg/feed"
	"github.com/fluxorio/feedbuffer/pkg/fetch"
	"github.com/fluxorio/feedbuffer/pkg/httpx"
	"github.com/fluxorio/feedbuffer/pkg/notify"
	"github.com/fluxorio/feedbuffer/pkg/observability/otel"
	"github.com/fluxorio/feedbuffer/pkg/observability/prometheus"
	"github.com/fluxorio/feedbuffer/pkg/prefetch"
	"github.com/fluxorio/feedbuffer/pkg/web"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML or JSON config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	defer failfast.Recover(slog.New(slog.NewJSONHandler(os.Stderr, nil)), os.Exit)

	cfg, err := loadConfig(*configPath)
	failfast.Err(err, "load config")

	if *printConfig {
		out, err := config.MarshalYAML(cfg)
		failfast.Err(err, "render config")
		_, _ = os.Stdout.Write(out)
		return
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := build(ctx, cfg, logger)
	if err := d.run(ctx); err != nil {
		logger.Error("feedbufferd stopped", "error", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "feedbufferd", "version", version)
}

type daemon struct {
	cfg    *AppConfig
	logger *slog.Logger

	buffer        *prefetch.Buffer[image.Image]
	server        *web.Server
	publisher     *notify.Publisher
	traceShutdown func(context.Context) error
}

// build wires config into running components. Wiring errors are fatal.
func build(ctx context.Context, cfg *AppConfig, logger *slog.Logger) *daemon {
	failfast.If(cfg.Buffer.CloseTimeout > 0, "buffer close timeout must be positive, got %v", cfg.Buffer.CloseTimeout)
	d := &daemon{cfg: cfg, logger: logger}

	shutdown, err := otel.Initialize(ctx, cfg.Observability.Tracing)
	if err != nil {
		logger.Warn("tracing disabled", "exporter", cfg.Observability.Tracing.Exporter, "error", err)
		shutdown = func(context.Context) error { return nil }
	}
	d.traceShutdown = shutdown

	var observers prefetch.Observers
	var metrics *prometheus.Metrics
	if cfg.Observability.Metrics {
		metrics = prometheus.GetMetrics()
		observers = append(observers, metrics)
	}
	if cfg.Notify.Enabled {
		d.publisher, err = notify.Connect(cfg.Notify.NATS, logger)
		failfast.Err(err, "connect nats")
		observers = append(observers, d.publisher)
	}

	category, err := prefetch.ParseCategory(cfg.Buffer.Category)
	failfast.Err(err, "parse category")

	client := httpx.NewClient(cfg.HTTPClient)
	d.buffer, err = prefetch.New(
		fetch.NewImageFetcher(client, cfg.Fetch),
		feed.Factory(client, cfg.Feed, logger),
		prefetch.Options[image.Image]{
			Collection: cfg.Buffer.Collection,
			Category:   category,
			Capacity:   cfg.Buffer.Capacity,
			PageSize:   cfg.Buffer.PageSize,
			Sentinel:   fetch.EndOfFeedImage(cfg.Buffer.EndImageWidth, cfg.Buffer.EndImageHeight),
			Policy:     cfg.Buffer.Retry,
			Observer:   observers,
			Logger:     logger,
			Context:    ctx,
		},
	)
	failfast.Err(err, "create buffer")
	failfast.NotNil(d.buffer, "buffer")

	serverCfg := cfg.Server
	serverCfg.Tracing = otel.IsInitialized()
	d.server, err = web.NewServer(serverCfg, d.buffer, metrics, logger)
	failfast.Err(err, "create server")

	logger.Info("feedbufferd ready",
		"collection", cfg.Buffer.Collection,
		"category", category.String(),
		"capacity", d.buffer.MaxSize(),
		"addr", cfg.Server.Addr,
		"metrics", metrics != nil,
		"notify", d.publisher != nil,
		"tracing", serverCfg.Tracing,
	)
	return d
}

// run serves until ctx is cancelled or the listener fails, then shuts down.
func (d *daemon) run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- d.server.ListenAndServe() }()

	var err error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down")
	case err = <-serveErr:
		err = fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Buffer.CloseTimeout)
	defer cancel()
	return errors.Join(err, d.shutdown(shutdownCtx))
}

func (d *daemon) shutdown(ctx context.Context) error {
	started := time.Now()
	var errs []error
	if err := d.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := d.buffer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("buffer: %w", err))
	}
	if d.publisher != nil {
		// The buffer's last refill report is published by now.
		if err := d.publisher.Flush(flushTimeout(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("notify flush: %w", err))
		}
		if err := d.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	if err := d.traceShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	stats := d.buffer.Stats()
	d.logger.Info("stopped",
		"duration", time.Since(started),
		"pops", stats.Pops,
		"refill_passes", stats.RefillPasses,
		"committed", stats.Committed,
		"failures", stats.Failures,
	)
	return errors.Join(errs...)
}

// flushTimeout is what is left of ctx's deadline, or a fixed bound without one.
func flushTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 5 * time.Second
	}
	return max(time.Until(deadline), time.Millisecond)
}
