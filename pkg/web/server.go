// Package web exposes a prefetch buffer over HTTP.
//
// Routes:
//
//	GET /next     pop one image; 204 when the buffer is momentarily empty
//	GET /stats    buffer and backpressure statistics as JSON
//	GET /metrics  Prometheus exposition
//	GET /healthz  liveness
package web

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net"
	"time"

	"github.com/fluxorio/feedbuffer/pkg/observability/otel"
	"github.com/fluxorio/feedbuffer/pkg/observability/prometheus"
	"github.com/fluxorio/feedbuffer/pkg/prefetch"
	"github.com/fluxorio/feedbuffer/pkg/web/middleware"
	"github.com/valyala/fasthttp"
)

// Buffer is the consumer side of a prefetch buffer.
type Buffer interface {
	Pop() (prefetch.Item[image.Image], bool)
	Stats() prefetch.Stats
}

// Config configures the HTTP server.
type Config struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MaxConns     int           `yaml:"max_conns" json:"max_conns"`

	// MaxInFlight caps concurrently handled requests; beyond it requests get 503.
	MaxInFlight int `yaml:"max_in_flight" json:"max_in_flight"`

	// RetryAfter is advertised on 204 responses from /next.
	RetryAfter time.Duration `yaml:"retry_after" json:"retry_after"`

	// Tracing wraps every route in a server span.
	Tracing bool `yaml:"tracing" json:"tracing"`
}

// DefaultConfig returns defaults for a single-consumer deployment.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		MaxConns:     1024,
		MaxInFlight:  64,
		RetryAfter:   time.Second,
	}
}

// Server serves a Buffer over fasthttp.
type Server struct {
	cfg          Config
	buf          Buffer
	metrics      *prometheus.Metrics
	backpressure *BackpressureController
	logger       *slog.Logger
	server       *fasthttp.Server
}

// NewServer wires the routes. metrics may be nil, in which case /metrics
// serves prometheus.DefaultRegistry and requests are not instrumented.
func NewServer(cfg Config, buf Buffer, metrics *prometheus.Metrics, logger *slog.Logger) (*Server, error) {
	if buf == nil {
		return nil, fmt.Errorf("web: buffer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Second
	}

	s := &Server{
		cfg:          cfg,
		buf:          buf,
		metrics:      metrics,
		backpressure: NewBackpressureController(cfg.MaxInFlight),
		logger:       logger.With("component", "web"),
	}
	s.server = &fasthttp.Server{
		Name:                  "feedbuffer",
		Handler:               s.Handler(),
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		MaxConnsPerIP:         cfg.MaxConns,
		NoDefaultServerHeader: true,
		ReduceMemoryUsage:     true,
	}
	return s, nil
}

// route is one path of the router. A getOnly route changes state on every
// request, so HEAD is refused rather than answered with a discarded body.
type route struct {
	handler fasthttp.RequestHandler
	getOnly bool
}

func (r route) accepts(ctx *fasthttp.RequestCtx) bool {
	return ctx.IsGet() || (ctx.IsHead() && !r.getOnly)
}

func (r route) allow() string {
	if r.getOnly {
		return fasthttp.MethodGet
	}
	return "GET, HEAD"
}

// Handler returns the full handler chain.
func (s *Server) Handler() fasthttp.RequestHandler {
	routes := map[string]route{
		"/next":    {handler: s.handleNext, getOnly: true},
		"/stats":   {handler: s.handleStats},
		"/healthz": {handler: s.handleHealth},
		"/metrics": {handler: prometheus.Handler(nil)},
	}
	for path, r := range routes {
		if s.metrics != nil {
			r.handler = s.metrics.Middleware(path, r.handler)
		}
		if s.cfg.Tracing {
			r.handler = otel.HTTPMiddleware(r.handler)
		}
		routes[path] = r
	}

	router := func(ctx *fasthttp.RequestCtx) {
		r, ok := routes[string(ctx.Path())]
		if !ok {
			ctx.Error("Not Found", fasthttp.StatusNotFound)
			return
		}
		if !r.accepts(ctx) {
			ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			ctx.Response.Header.Set(fasthttp.HeaderAllow, r.allow())
			return
		}
		if !s.backpressure.TryAcquire() {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"capacity_exceeded","code":"BACKPRESSURE"}`)
			return
		}
		defer s.backpressure.Release()
		r.handler(ctx)
	}

	return middleware.RequestID(middleware.Recovery(middleware.RecoveryConfig{Logger: s.logger})(router))
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("serving", "addr", ln.Addr().String())
	return s.server.Serve(ln)
}

// ListenAndServe listens on Config.Addr.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and waits for active ones, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}

// Backpressure exposes the in-flight limiter's metrics.
func (s *Server) Backpressure() BackpressureMetrics {
	return s.backpressure.GetMetrics()
}
