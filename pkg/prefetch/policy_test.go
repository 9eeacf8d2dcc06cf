package prefetch

import (
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		n      int
		want   time.Duration
	}{
		{"zero value never pauses", RetryPolicy{}, 5, 0},
		{"first failure", RetryPolicy{Backoff: 10 * time.Millisecond}, 1, 10 * time.Millisecond},
		{"doubles", RetryPolicy{Backoff: 10 * time.Millisecond}, 3, 40 * time.Millisecond},
		{"capped", RetryPolicy{Backoff: 10 * time.Millisecond, MaxBackoff: 25 * time.Millisecond}, 3, 25 * time.Millisecond},
		{"cap above backoff", RetryPolicy{Backoff: time.Second, MaxBackoff: 500 * time.Millisecond}, 1, 500 * time.Millisecond},
		{"no failures", RetryPolicy{Backoff: time.Second}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.delay(tt.n); got != tt.want {
				t.Errorf("delay(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_DelayDoesNotOverflow(t *testing.T) {
	p := RetryPolicy{Backoff: time.Second}
	if got := p.delay(200); got <= 0 {
		t.Errorf("delay(200) = %v, want a positive duration", got)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	if (RetryPolicy{}).exhausted(1_000_000) {
		t.Error("zero policy should never be exhausted")
	}
	p := RetryPolicy{MaxConsecutiveFailures: 3}
	if p.exhausted(2) {
		t.Error("exhausted(2) = true with cap 3")
	}
	if !p.exhausted(3) {
		t.Error("exhausted(3) = false with cap 3")
	}
}

func TestCategory(t *testing.T) {
	for _, c := range []Category{CategoryHot, CategoryNew, CategoryTop, CategoryRising} {
		parsed, err := ParseCategory(c.String())
		if err != nil {
			t.Fatalf("ParseCategory(%q) error = %v", c.String(), err)
		}
		if parsed != c {
			t.Errorf("ParseCategory(%q) = %v, want %v", c.String(), parsed, c)
		}
	}

	if c, err := ParseCategory(" TOP "); err != nil || c != CategoryTop {
		t.Errorf("ParseCategory(\" TOP \") = %v, %v; want top", c, err)
	}
	if _, err := ParseCategory("controversial"); err == nil {
		t.Error("ParseCategory(\"controversial\") should fail")
	}
	if got := Category(9).String(); got != "Category(9)" {
		t.Errorf("Category(9).String() = %q", got)
	}
}
