package prefetch

import (
	"math"
	"time"
)

// RetryPolicy controls how a refill pass reacts to fetch failures. The failed
// reference is always dropped; the policy only decides whether the pass keeps
// going and how long it pauses first.
//
// The zero value keeps going forever without pausing.
type RetryPolicy struct {
	// MaxConsecutiveFailures ends the pass after this many failures in a row.
	// Zero means no cap.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`

	// Backoff is the pause after the first failure. It doubles with every
	// further consecutive failure. Zero disables pausing.
	Backoff time.Duration `yaml:"backoff" json:"backoff"`

	// MaxBackoff caps the pause. Zero means no cap.
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// exhausted reports whether n consecutive failures end the pass.
func (p RetryPolicy) exhausted(n int) bool {
	return p.MaxConsecutiveFailures > 0 && n >= p.MaxConsecutiveFailures
}

// delay returns the pause after the n-th consecutive failure (n >= 1).
func (p RetryPolicy) delay(n int) time.Duration {
	if p.Backoff <= 0 || n < 1 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < n; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
