package main

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/fluxorio/feedbuffer/pkg/config"
	"github.com/fluxorio/feedbuffer/pkg/feed"
	"github.com/fluxorio/feedbuffer/pkg/fetch"
	"github.com/fluxorio/feedbuffer/pkg/httpx"
	"github.com/fluxorio/feedbuffer/pkg/notify"
	"github.com/fluxorio/feedbuffer/pkg/observability/otel"
	"github.com/fluxorio/feedbuffer/pkg/prefetch"
	"github.com/fluxorio/feedbuffer/pkg/web"
)

// envPrefix namespaces environment overrides, e.g. FEEDBUFFER_BUFFER_CAPACITY=20.
const envPrefix = "FEEDBUFFER"

// AppConfig is the daemon configuration
type AppConfig struct {
	Buffer        BufferConfig        `yaml:"buffer" json:"buffer"`
	Feed          feed.Config         `yaml:"feed" json:"feed"`
	Fetch         fetch.Config        `yaml:"fetch" json:"fetch"`
	HTTPClient    httpx.ClientConfig  `yaml:"http_client" json:"http_client"`
	Server        web.Config          `yaml:"server" json:"server"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Notify        NotifyConfig        `yaml:"notify" json:"notify"`
	Log           LogConfig           `yaml:"log" json:"log"`
}

type BufferConfig struct {
	Collection string               `yaml:"collection" json:"collection"`
	Category   string               `yaml:"category" json:"category"`
	Capacity   int                  `yaml:"capacity" json:"capacity"`
	PageSize   int                  `yaml:"page_size" json:"page_size"`
	Retry      prefetch.RetryPolicy `yaml:"retry" json:"retry"`

	// Size of the generated end-of-feed image.
	EndImageWidth  int `yaml:"end_image_width" json:"end_image_width"`
	EndImageHeight int `yaml:"end_image_height" json:"end_image_height"`

	// CloseTimeout bounds graceful shutdown of the server and the refill.
	CloseTimeout time.Duration `yaml:"close_timeout" json:"close_timeout"`
}

type ObservabilityConfig struct {
	Metrics bool        `yaml:"metrics" json:"metrics"`
	Tracing otel.Config `yaml:"tracing" json:"tracing"`
}

type NotifyConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	NATS    notify.Config `yaml:"nats" json:"nats"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Buffer: BufferConfig{
			Category:       "hot",
			Capacity:       10,
			PageSize:       prefetch.DefaultPageSize,
			Retry:          prefetch.RetryPolicy{MaxConsecutiveFailures: 25, Backoff: 200 * time.Millisecond, MaxBackoff: 10 * time.Second},
			EndImageWidth:  640,
			EndImageHeight: 480,
			CloseTimeout:   15 * time.Second,
		},
		Feed:       feed.DefaultConfig(),
		Fetch:      fetch.Config{Timeout: 30 * time.Second, MaxDimension: 8192},
		HTTPClient: httpx.DefaultClientConfig(),
		Server:     web.DefaultConfig(),
		Observability: ObservabilityConfig{
			Metrics: true,
			Tracing: otel.Config{
				ServiceName:    "feedbufferd",
				ServiceVersion: version,
				Environment:    "development",
				Exporter:       otel.ExporterNone,
				SampleRate:     1.0,
			},
		},
		Notify: NotifyConfig{
			NATS: notify.Config{Prefix: notify.DefaultPrefix, Name: "feedbufferd"},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

var collectionName = regexp.MustCompile(`[A-Za-z0-9_]+`)

func validators() []config.Validator {
	return []config.Validator{
		config.RequiredFields("Buffer.Collection", "Feed.BaseURL", "Server.Addr"),
		config.StringLengthValidator("Buffer.Collection", 1, 21),
		config.PatternValidator("Buffer.Collection", collectionName),
		config.OneOfValidator("Buffer.Category", "hot", "new", "top", "rising"),
		config.RangeValidator("Buffer.Capacity", 1, 10000),
		config.RangeValidator("Buffer.PageSize", 1, 100),
		config.RangeValidator("Buffer.EndImageWidth", 1, 8192),
		config.RangeValidator("Buffer.EndImageHeight", 1, 8192),
		config.RangeValidator("Feed.MaxPageAttempts", 1, 100),
		config.RangeValidator("Feed.PageBackoff", 0, 60),
		config.RangeValidator("Observability.Tracing.SampleRate", 0, 1),
		config.OneOfValidator("Observability.Tracing.Exporter",
			"", otel.ExporterNone, otel.ExporterStdout, otel.ExporterZipkin, otel.ExporterJaeger),
		config.OneOfValidator("Log.Level", "debug", "info", "warn", "error"),
		config.OneOfValidator("Log.Format", "json", "text"),
	}
}

// loadConfig applies, in order: defaults, the file at path (skipped when
// empty or missing), FEEDBUFFER_* environment overrides, validation.
func loadConfig(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			path = ""
		}
	}
	if err := config.LoadWithEnv(path, envPrefix, cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, validators()...); err != nil {
		return nil, err
	}
	return cfg, nil
}
