package prometheus

import (
	"errors"
	"sync"
	"time"

	"github.com/fluxorio/feedbuffer/pkg/prefetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "feedbuffer"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds the Prometheus collectors for the buffer and its HTTP surface.
// It implements prefetch.Observer.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Buffer metrics
	BufferSize          prometheus.Gauge
	BufferPopsTotal     *prometheus.CounterVec
	RefillPassesTotal   *prometheus.CounterVec
	RefillDuration      prometheus.Histogram
	ArtifactsCommitted  prometheus.Counter
	EndMarkersCommitted prometheus.Counter
	ArtifactsDiscarded  prometheus.Counter
	SourceExhausted     prometheus.Gauge

	// Fetch metrics
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
}

var _ prefetch.Observer = (*Metrics)(nil)

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates and registers the collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedbuffer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedbuffer_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		BufferSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedbuffer_buffer_size",
				Help: "Items currently queued in the prefetch buffer",
			},
		),
		BufferPopsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedbuffer_buffer_pops_total",
				Help: "Pop calls by outcome",
			},
			[]string{"outcome"}, // artifact, end, empty
		),
		RefillPassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedbuffer_refill_passes_total",
				Help: "Finished refill passes by result",
			},
			[]string{"result"}, // full, capped, closed, error
		),
		RefillDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedbuffer_refill_duration_seconds",
				Help:    "Refill pass duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
		),
		ArtifactsCommitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feedbuffer_artifacts_committed_total",
				Help: "Decoded artifacts queued by refill passes",
			},
		),
		EndMarkersCommitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feedbuffer_end_markers_committed_total",
				Help: "End-of-feed markers queued by refill passes",
			},
		),
		ArtifactsDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feedbuffer_artifacts_discarded_total",
				Help: "Artifacts fetched but not queued",
			},
		),
		SourceExhausted: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedbuffer_source_exhausted",
				Help: "1 once the item source has reported its end",
			},
		),

		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedbuffer_fetches_total",
				Help: "Artifact fetches by result",
			},
			[]string{"result"}, // ok, error
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedbuffer_fetch_duration_seconds",
				Help:    "Artifact fetch and decode duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// OnPop implements prefetch.Observer.
func (m *Metrics) OnPop(ev prefetch.PopEvent) {
	m.BufferPopsTotal.WithLabelValues(ev.Outcome.String()).Inc()
	m.BufferSize.Set(float64(ev.Size))
}

// OnFetch implements prefetch.Observer.
func (m *Metrics) OnFetch(ev prefetch.FetchEvent) {
	result := "ok"
	if ev.Err != nil {
		result = "error"
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
	if ev.Duration > 0 {
		m.FetchDuration.Observe(ev.Duration.Seconds())
	}
	// Keeps the gauge moving while a long refill pass is still running.
	m.BufferSize.Set(float64(ev.Size))
}

// OnRefill implements prefetch.Observer.
func (m *Metrics) OnRefill(rep prefetch.RefillReport) {
	m.RefillPassesTotal.WithLabelValues(refillResult(rep.Err)).Inc()
	m.RefillDuration.Observe(rep.Duration.Seconds())
	m.ArtifactsCommitted.Add(float64(rep.Committed))
	m.EndMarkersCommitted.Add(float64(rep.EndMarkers))
	m.ArtifactsDiscarded.Add(float64(rep.Discarded))
	m.BufferSize.Set(float64(rep.Size))
	if rep.Exhausted {
		m.SourceExhausted.Set(1)
	}
}

func refillResult(err error) string {
	switch {
	case err == nil:
		return "full"
	case errors.Is(err, prefetch.ErrTooManyFailures):
		return "capped"
	case errors.Is(err, prefetch.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
