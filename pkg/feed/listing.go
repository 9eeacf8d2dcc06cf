// Package feed provides a prefetch.Source that walks a paginated JSON
// listing of posts and yields the ones that link to an image.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/fluxorio/feedbuffer/pkg/httpx"
	"github.com/fluxorio/feedbuffer/pkg/prefetch"
	"go.opentelemetry.io/otel/trace"
)

// maxPageBackoff caps the pause between page attempts.
const maxPageBackoff = 30 * time.Second

// Config configures a Listing.
type Config struct {
	// BaseURL is the listing host, e.g. https://www.reddit.com.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Timeout bounds each page request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxPageAttempts is how many page attempts one HasNext call makes before
	// it gives up and reports the failure through Err.
	MaxPageAttempts int `yaml:"max_page_attempts" json:"max_page_attempts"`

	// PageBackoff is the pause after the first failed attempt. It doubles
	// after each further failure within the same HasNext call.
	PageBackoff time.Duration `yaml:"page_backoff" json:"page_backoff"`

	// Extensions lists the URL path extensions treated as images.
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// DefaultConfig returns the listing defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://www.reddit.com",
		Timeout:         10 * time.Second,
		MaxPageAttempts: 3,
		PageBackoff:     500 * time.Millisecond,
		Extensions:      []string{".jpg", ".jpeg", ".png", ".gif"},
	}
}

type listingPage struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data struct {
				URL     string `json:"url"`
				IsVideo bool   `json:"is_video"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Listing is a forward-only cursor over one collection's listing. It fetches
// pages on demand from HasNext and is not safe for concurrent use.
type Listing struct {
	ctx    context.Context
	client httpx.Doer
	cfg    Config
	spec   prefetch.SourceSpec
	exts   map[string]bool
	logger *slog.Logger

	queue []prefetch.Reference
	after string
	done  bool
	pages int
	err   error
}

var _ prefetch.ErrSource = (*Listing)(nil)

// NewListing creates a Listing. No request is made until HasNext.
//
// ctx bounds every page request. Any span it carries is dropped, since the
// listing outlives the call that created it.
func NewListing(ctx context.Context, client httpx.Doer, cfg Config, spec prefetch.SourceSpec, logger *slog.Logger) *Listing {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxPageAttempts <= 0 {
		cfg.MaxPageAttempts = def.MaxPageAttempts
	}
	if cfg.PageBackoff <= 0 {
		cfg.PageBackoff = def.PageBackoff
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = def.Extensions
	}
	if spec.PageSize <= 0 {
		spec.PageSize = prefetch.DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Listing{
		ctx:    trace.ContextWithSpan(ctx, trace.SpanFromContext(context.Background())),
		client: client,
		cfg:    cfg,
		spec:   spec,
		exts:   exts,
		logger: logger.With("component", "feed", "collection", spec.Collection, "category", spec.Category.String()),
	}
}

// Factory returns a prefetch.SourceFactory producing Listings.
func Factory(client httpx.Doer, cfg Config, logger *slog.Logger) prefetch.SourceFactory {
	return func(ctx context.Context, spec prefetch.SourceSpec) (prefetch.Source, error) {
		if strings.TrimSpace(spec.Collection) == "" {
			return nil, fmt.Errorf("feed: collection name is required")
		}
		return NewListing(ctx, client, cfg, spec, logger), nil
	}
}

// HasNext implements prefetch.Source. It loads pages until an image entry is
// found or the listing ends, pausing between failed attempts. After
// MaxPageAttempts failures in a row it returns false and Err reports the last
// failure; the next call starts over from the same cursor.
func (l *Listing) HasNext() bool {
	l.err = nil
	for attempt := 1; len(l.queue) == 0 && !l.done; attempt++ {
		if err := l.ctx.Err(); err != nil {
			l.err = err
			break
		}
		err := l.loadPage()
		if err == nil {
			attempt = 0
			continue
		}
		l.logger.Warn("listing page failed", "after", l.after, "attempt", attempt, "error", err)
		if attempt >= l.cfg.MaxPageAttempts {
			l.err = err
			break
		}
		if err := l.wait(l.backoff(attempt)); err != nil {
			l.err = err
			break
		}
	}
	return len(l.queue) > 0
}

// Err implements prefetch.ErrSource. It is non-nil when the last HasNext
// returned false because pages could not be loaded.
func (l *Listing) Err() error {
	if len(l.queue) > 0 {
		return nil
	}
	return l.err
}

// Next implements prefetch.Source.
func (l *Listing) Next() (prefetch.Reference, error) {
	if !l.HasNext() {
		if l.err != nil {
			return "", l.err
		}
		return "", prefetch.ErrSourceExhausted
	}
	ref := l.queue[0]
	l.queue = l.queue[1:]
	return ref, nil
}

// Pages returns how many pages have been loaded.
func (l *Listing) Pages() int { return l.pages }

// backoff returns the pause after the n-th failed attempt.
func (l *Listing) backoff(n int) time.Duration {
	d := l.cfg.PageBackoff
	for i := 1; i < n && d < maxPageBackoff; i++ {
		d *= 2
	}
	return min(d, maxPageBackoff)
}

func (l *Listing) wait(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-l.ctx.Done():
		return l.ctx.Err()
	}
}

func (l *Listing) pageURL() string {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(l.spec.PageSize))
	q.Set("raw_json", "1")
	if l.after != "" {
		q.Set("after", l.after)
	}
	base := strings.TrimRight(l.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/r/%s/%s.json?%s", base, url.PathEscape(l.spec.Collection), l.spec.Category, q.Encode())
}

func (l *Listing) loadPage() error {
	body, err := httpx.Get(l.ctx, l.client, l.pageURL(), l.cfg.Timeout)
	if err != nil {
		return err
	}

	var page listingPage
	if err := json.Unmarshal(body, &page); err != nil {
		return fmt.Errorf("feed: decode page: %w", err)
	}
	l.pages++

	for _, child := range page.Data.Children {
		if child.Data.IsVideo || !l.isImage(child.Data.URL) {
			continue
		}
		l.queue = append(l.queue, prefetch.Reference(child.Data.URL))
	}

	l.after = page.Data.After
	if l.after == "" || len(page.Data.Children) == 0 {
		l.done = true
	}

	l.logger.Debug("listing page loaded", "page", l.pages, "entries", len(page.Data.Children), "queued", len(l.queue), "last", l.done)
	return nil
}

// isImage reports whether raw points at a path with an image extension.
func (l *Listing) isImage(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return l.exts[strings.ToLower(path.Ext(u.Path))]
}
