package prefetch

import (
	"context"
	"fmt"
	"strings"
)

// Reference identifies a fetchable item, usually a URL.
type Reference string

// Category selects which listing of a collection a Source walks.
type Category int

const (
	CategoryHot Category = iota
	CategoryNew
	CategoryTop
	CategoryRising
)

var categoryNames = [...]string{
	CategoryHot:    "hot",
	CategoryNew:    "new",
	CategoryTop:    "top",
	CategoryRising: "rising",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory parses a category name, ignoring case.
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return CategoryHot, fmt.Errorf("unknown category %q", s)
}

// Source is a stateful, forward-only sequence of references.
//
// A Source is only ever used from the refill goroutine of the Buffer that
// created it.
type Source interface {
	// HasNext reports whether Next will yield another reference.
	HasNext() bool

	// Next advances the cursor by one. Calling it after HasNext returned
	// false returns ErrSourceExhausted.
	Next() (Reference, error)
}

// ErrSource is implemented by Sources whose HasNext can return false because
// looking ahead failed rather than because the sequence ended. A non-nil Err
// right after HasNext returned false means the Source may yield more on a
// later call; the Buffer counts it as a failed fetch instead of exhaustion.
type ErrSource interface {
	Source
	Err() error
}

// sourceErr returns the lookahead error of src, if it reports one.
func sourceErr(src Source) error {
	if es, ok := src.(ErrSource); ok {
		return es.Err()
	}
	return nil
}

// SourceSpec is what a SourceFactory needs to bind a Source.
type SourceSpec struct {
	Collection string
	PageSize   int
	Category   Category
}

// SourceFactory binds a Source. A Buffer calls it lazily, on its first refill,
// and at most once successfully over its lifetime.
type SourceFactory func(ctx context.Context, spec SourceSpec) (Source, error)

// Fetcher resolves a reference into a decoded artifact. Any network, decode or
// I/O problem is reported as an error; there are no partial results.
type Fetcher[A any] interface {
	Fetch(ctx context.Context, ref Reference) (A, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[A any] func(ctx context.Context, ref Reference) (A, error)

// Fetch implements Fetcher.
func (f FetcherFunc[A]) Fetch(ctx context.Context, ref Reference) (A, error) {
	return f(ctx, ref)
}

// SentinelFunc produces the artifact carried by EndMarker items.
type SentinelFunc[A any] func() (A, error)

// Item is what Pop hands to the consumer. When End is set the item is an
// EndMarker and Value holds the sentinel artifact.
type Item[A any] struct {
	Value A
	End   bool
}
