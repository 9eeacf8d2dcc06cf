// Package notify publishes prefetch buffer events to NATS.
//
// Subject mapping:
//   - <prefix>.refill       one message per finished refill pass
//   - <prefix>.exhausted    once, the first time a pass reports the source drained
//   - <prefix>.fetch_failed one message per failed fetch
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fluxorio/feedbuffer/pkg/prefetch"
	"github.com/nats-io/nats.go"
)

// DefaultPrefix is the subject prefix used when Config.Prefix is empty.
const DefaultPrefix = "feedbuffer"

// Config configures a NATS connection for Publisher.
type Config struct {
	URL    string `yaml:"url" json:"url"`
	Prefix string `yaml:"prefix" json:"prefix"`

	// Name is an optional NATS connection name.
	Name string `yaml:"name" json:"name"`
}

// RefillMessage is the payload published on <prefix>.refill and <prefix>.exhausted.
type RefillMessage struct {
	BufferID   string `json:"buffer_id"`
	PassID     string `json:"pass_id"`
	DurationMS int64  `json:"duration_ms"`
	Committed  int    `json:"committed"`
	EndMarkers int    `json:"end_markers"`
	Failures   int    `json:"failures"`
	Discarded  int    `json:"discarded"`
	Exhausted  bool   `json:"exhausted"`
	Size       int    `json:"size"`
	Error      string `json:"error,omitempty"`
}

// FetchFailedMessage is the payload published on <prefix>.fetch_failed.
type FetchFailedMessage struct {
	BufferID string `json:"buffer_id"`
	PassID   string `json:"pass_id"`
	Ref      string `json:"ref,omitempty"`
	Error    string `json:"error"`
}

// Publisher implements prefetch.Observer by publishing refill and fetch
// failure events. Pop events are not published.
type Publisher struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	logger *slog.Logger

	mu        sync.Mutex
	exhausted map[string]bool
}

var _ prefetch.Observer = (*Publisher)(nil)

// Connect dials NATS and returns a Publisher that owns the connection.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}

	p := NewPublisher(nc, cfg.Prefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. Close does not close nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		nc:        nc,
		prefix:    prefix,
		logger:    logger.With("component", "notify"),
		exhausted: make(map[string]bool),
	}
}

// OnPop implements prefetch.Observer.
func (p *Publisher) OnPop(prefetch.PopEvent) {}

// OnFetch implements prefetch.Observer.
func (p *Publisher) OnFetch(ev prefetch.FetchEvent) {
	if ev.Err == nil {
		return
	}
	p.publish("fetch_failed", ev.BufferID, FetchFailedMessage{
		BufferID: ev.BufferID,
		PassID:   ev.PassID,
		Ref:      string(ev.Ref),
		Error:    ev.Err.Error(),
	})
}

// OnRefill implements prefetch.Observer.
func (p *Publisher) OnRefill(rep prefetch.RefillReport) {
	msg := RefillMessage{
		BufferID:   rep.BufferID,
		PassID:     rep.PassID,
		DurationMS: rep.Duration.Milliseconds(),
		Committed:  rep.Committed,
		EndMarkers: rep.EndMarkers,
		Failures:   rep.Failures,
		Discarded:  rep.Discarded,
		Exhausted:  rep.Exhausted,
		Size:       rep.Size,
	}
	if rep.Err != nil {
		msg.Error = rep.Err.Error()
	}
	p.publish("refill", rep.BufferID, msg)

	if rep.Exhausted && p.markExhausted(rep.BufferID) {
		p.publish("exhausted", rep.BufferID, msg)
	}
}

// Flush waits for the server to acknowledge everything published so far.
func (p *Publisher) Flush(timeout time.Duration) error {
	return p.nc.FlushTimeout(timeout)
}

// Close drains the connection if the Publisher opened it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("notify: drain: %w", err)
	}
	return nil
}

func (p *Publisher) markExhausted(bufferID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exhausted[bufferID] {
		return false
	}
	p.exhausted[bufferID] = true
	return true
}

func (p *Publisher) publish(kind, bufferID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("encode event", "kind", kind, "error", err)
		return
	}

	msg := &nats.Msg{
		Subject: p.prefix + "." + kind,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("X-Buffer-ID", bufferID)

	// Observers run on the refill path, so a publish failure is logged and dropped.
	if err := p.nc.PublishMsg(msg); err != nil {
		p.logger.Warn("publish event", "subject", msg.Subject, "error", err)
	}
}
