// Package httpx holds the fasthttp client setup shared by the feed source and
// the image fetcher.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// ErrStatus is wrapped by Get when the server answers with a non-2xx status.
var ErrStatus = errors.New("httpx: unexpected status")

// ClientConfig configures NewClient.
type ClientConfig struct {
	UserAgent           string        `yaml:"user_agent" json:"user_agent"`
	ReadTimeout         time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host" json:"max_conns_per_host"`
	MaxResponseBodySize int           `yaml:"max_response_body_size" json:"max_response_body_size"`
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		UserAgent:           "feedbuffer/1.0",
		ReadTimeout:         15 * time.Second,
		WriteTimeout:        5 * time.Second,
		MaxConnsPerHost:     8,
		MaxResponseBodySize: 32 << 20,
	}
}

// NewClient builds a fasthttp client from cfg. Zero fields take defaults.
func NewClient(cfg ClientConfig) *fasthttp.Client {
	def := DefaultClientConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.MaxResponseBodySize <= 0 {
		cfg.MaxResponseBodySize = def.MaxResponseBodySize
	}

	return &fasthttp.Client{
		Name:                      cfg.UserAgent,
		ReadTimeout:               cfg.ReadTimeout,
		WriteTimeout:              cfg.WriteTimeout,
		MaxConnsPerHost:           cfg.MaxConnsPerHost,
		MaxResponseBodySize:       cfg.MaxResponseBodySize,
		MaxIdemponentCallAttempts: 1,
	}
}

// Doer is the subset of *fasthttp.Client used here.
type Doer interface {
	DoRedirects(req *fasthttp.Request, resp *fasthttp.Response, maxRedirectsCount int) error
}

// maxRedirects bounds redirect chains followed by Get. Image hosts and CDNs
// redirect routinely.
const maxRedirects = 5

// Get fetches url and returns a copy of the body. The request is bounded by
// ctx's deadline when it has one and by fallback otherwise.
func Get(ctx context.Context, client Doer, url string, fallback time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline, ok := ctx.Deadline()
	if !ok && fallback > 0 {
		deadline = time.Now().Add(fallback)
	}
	if !deadline.IsZero() {
		req.SetTimeout(time.Until(deadline))
	}

	if err := client.DoRedirects(req, resp, maxRedirects); err != nil {
		return nil, fmt.Errorf("httpx: GET %s: %w", url, err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: GET %s: %d", ErrStatus, url, status)
	}

	body := append([]byte(nil), resp.Body()...)
	return body, nil
}
