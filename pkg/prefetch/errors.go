package prefetch

import "errors"

var (
	// ErrSentinel wraps a failure to load the end-of-feed sentinel. A Buffer
	// cannot be constructed without it.
	ErrSentinel = errors.New("prefetch: sentinel unavailable")

	// ErrClosed ends a refill pass interrupted by Close.
	ErrClosed = errors.New("prefetch: buffer closed")

	// ErrSourceExhausted is returned by Source.Next when called past the end.
	ErrSourceExhausted = errors.New("prefetch: source exhausted")

	// ErrTooManyFailures ends a refill pass that hit the consecutive failure cap.
	ErrTooManyFailures = errors.New("prefetch: too many consecutive fetch failures")
)
