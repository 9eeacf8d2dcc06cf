package prefetch

import "time"

// PopOutcome classifies the result of a Pop.
type PopOutcome int

const (
	PopArtifact PopOutcome = iota
	PopEnd
	PopEmpty
)

func (o PopOutcome) String() string {
	switch o {
	case PopArtifact:
		return "artifact"
	case PopEnd:
		return "end"
	case PopEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// PopEvent describes one Pop call.
type PopEvent struct {
	BufferID string
	Outcome  PopOutcome
	Size     int  // queue length after the pop
	Refill   bool // whether this pop started a refill
}

// FetchEvent describes one Fetcher call made by a refill pass, or a source
// lookup that failed before anything could be fetched (Ref is then empty).
type FetchEvent struct {
	BufferID string
	PassID   string
	Ref      Reference
	Duration time.Duration
	Size     int // queue length when the fetch returned
	Err      error
}

// RefillReport summarises a finished refill pass.
type RefillReport struct {
	BufferID   string
	PassID     string
	Duration   time.Duration
	Committed  int  // artifacts queued
	EndMarkers int  // EndMarker items queued
	Failures   int  // fetches or source lookups that failed
	Discarded  int  // artifacts fetched but not queued (buffer already full or closing)
	Exhausted  bool // source reported no more references
	Size       int  // queue length when the pass ended
	Err        error
}

// Observer receives buffer events. Calls are made without holding the buffer
// lock, from the consumer goroutine (OnPop) or the refill goroutine (the rest),
// and must not block.
type Observer interface {
	OnPop(ev PopEvent)
	OnFetch(ev FetchEvent)
	OnRefill(rep RefillReport)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnPop(PopEvent)        {}
func (NopObserver) OnFetch(FetchEvent)    {}
func (NopObserver) OnRefill(RefillReport) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (obs Observers) OnPop(ev PopEvent) {
	for _, o := range obs {
		o.OnPop(ev)
	}
}

func (obs Observers) OnFetch(ev FetchEvent) {
	for _, o := range obs {
		o.OnFetch(ev)
	}
}

func (obs Observers) OnRefill(rep RefillReport) {
	for _, o := range obs {
		o.OnRefill(rep)
	}
}
