package prefetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/feedbuffer/pkg/core/concurrency"
	"github.com/google/uuid"
)

const (
	// MinCapacity is the smallest capacity a Buffer accepts.
	MinCapacity = 2

	// DefaultPageSize is the page size hint handed to the SourceFactory.
	DefaultPageSize = 50
)

// Options configures a Buffer.
type Options[A any] struct {
	Collection string
	Category   Category

	// Capacity is the maximum number of queued items. Values below
	// MinCapacity are raised to MinCapacity.
	Capacity int

	// PageSize is passed to the SourceFactory. Defaults to DefaultPageSize.
	PageSize int

	// Sentinel produces the artifact carried by EndMarker items. Required.
	Sentinel SentinelFunc[A]

	Policy   RetryPolicy
	Observer Observer
	Logger   *slog.Logger

	// Executor runs refill passes. When nil the buffer creates a private
	// single-worker executor and shuts it down in Close.
	Executor concurrency.Executor

	// Context bounds the buffer's lifetime. Cancelling it has the same effect
	// on refills as Close. Defaults to context.Background().
	Context context.Context
}

// Stats is a point-in-time view of a Buffer.
type Stats struct {
	ID           string `json:"id"`
	Size         int    `json:"size"`
	MaxSize      int    `json:"max_size"`
	LowWater     int    `json:"low_water"`
	Refilling    bool   `json:"refilling"`
	Exhausted    bool   `json:"exhausted"`
	Closed       bool   `json:"closed"`
	Pops         uint64 `json:"pops"`
	EmptyPops    uint64 `json:"empty_pops"`
	RefillPasses uint64 `json:"refill_passes"`
	Committed    uint64 `json:"committed"`
	EndMarkers   uint64 `json:"end_markers"`
	Failures     uint64 `json:"failures"`
	Discarded    uint64 `json:"discarded"`
}

type entry[A any] struct {
	value A
	end   bool
}

// Buffer is a bounded FIFO of decoded artifacts kept topped up by a single
// background refill. Pop, Size and Stats are safe for concurrent use.
type Buffer[A any] struct {
	id       string
	maxSize  int
	halfSize int
	spec     SourceSpec

	sources  SourceFactory
	fetcher  Fetcher[A]
	sentinel A
	policy   RetryPolicy
	observer Observer
	logger   *slog.Logger

	executor    concurrency.Executor
	ownExecutor bool

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards fifo, refilling and closed.
	mu        sync.Mutex
	fifo      []entry[A]
	refilling bool
	closed    bool
	passes    sync.WaitGroup

	// Owned by whichever refill pass is running; passes never overlap.
	source Source

	exhausted    atomic.Bool
	pops         atomic.Uint64
	emptyPops    atomic.Uint64
	refillPasses atomic.Uint64
	committed    atomic.Uint64
	endMarkers   atomic.Uint64
	failures     atomic.Uint64
	discarded    atomic.Uint64
}

// New creates a Buffer and starts its first refill.
//
// The sentinel is loaded before anything else; if it fails New returns an
// error wrapping ErrSentinel and no refill is started.
func New[A any](fetcher Fetcher[A], sources SourceFactory, opts Options[A]) (*Buffer[A], error) {
	if fetcher == nil {
		return nil, fmt.Errorf("prefetch: fetcher cannot be nil")
	}
	if sources == nil {
		return nil, fmt.Errorf("prefetch: source factory cannot be nil")
	}
	if opts.Sentinel == nil {
		return nil, fmt.Errorf("%w: no sentinel provider", ErrSentinel)
	}

	sentinel, err := opts.Sentinel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSentinel, err)
	}

	maxSize := max(opts.Capacity, MinCapacity)
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)

	b := &Buffer[A]{
		id:       id,
		maxSize:  maxSize,
		halfSize: maxSize / 2,
		spec: SourceSpec{
			Collection: opts.Collection,
			PageSize:   pageSize,
			Category:   opts.Category,
		},
		sources:  sources,
		fetcher:  fetcher,
		sentinel: sentinel,
		policy:   opts.Policy,
		observer: observer,
		logger: logger.With(
			"component", "prefetch",
			"buffer_id", id,
			"collection", opts.Collection,
			"category", opts.Category.String(),
		),
		executor: opts.Executor,
		ctx:      ctx,
		cancel:   cancel,
		fifo:     make([]entry[A], 0, maxSize),
	}

	if b.executor == nil {
		// Refill passes never overlap, so one worker and one queue slot suffice.
		b.executor = concurrency.NewExecutor(context.Background(), concurrency.ExecutorConfig{
			Workers:   1,
			QueueSize: 1,
			Logger:    b.logger,
		})
		b.ownExecutor = true
	}

	b.mu.Lock()
	started := b.beginRefillLocked()
	b.mu.Unlock()
	if started {
		b.launchRefill()
	}

	b.logger.Debug("buffer created", "max_size", b.maxSize, "low_water", b.halfSize)
	return b, nil
}

// ID returns the buffer's unique identifier.
func (b *Buffer[A]) ID() string { return b.id }

// MaxSize returns the effective capacity.
func (b *Buffer[A]) MaxSize() int { return b.maxSize }

// LowWater returns the queue length below which a Pop triggers a refill.
func (b *Buffer[A]) LowWater() int { return b.halfSize }

// Pop removes and returns the head of the queue. It never blocks: ok is false
// when nothing is queued, in which case the caller should poll again later.
//
// If fewer than LowWater items remain afterwards and no refill is running, Pop
// starts one.
func (b *Buffer[A]) Pop() (item Item[A], ok bool) {
	b.mu.Lock()
	if len(b.fifo) > 0 {
		head := b.fifo[0]
		var zero entry[A]
		b.fifo[0] = zero
		b.fifo = b.fifo[1:]
		item = Item[A]{Value: head.value, End: head.end}
		ok = true
	}
	size := len(b.fifo)
	refill := size < b.halfSize && b.beginRefillLocked()
	b.mu.Unlock()

	if refill {
		b.launchRefill()
	}

	outcome := PopEmpty
	switch {
	case !ok:
		b.emptyPops.Add(1)
	case item.End:
		outcome = PopEnd
	default:
		outcome = PopArtifact
	}
	b.pops.Add(1)
	b.observer.OnPop(PopEvent{BufferID: b.id, Outcome: outcome, Size: size, Refill: refill})

	return item, ok
}

// Size returns the number of queued items.
func (b *Buffer[A]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fifo)
}

// Refilling reports whether a refill pass is in progress.
func (b *Buffer[A]) Refilling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refilling
}

// Stats returns a snapshot of the buffer's counters.
func (b *Buffer[A]) Stats() Stats {
	b.mu.Lock()
	size, refilling, closed := len(b.fifo), b.refilling, b.closed
	b.mu.Unlock()

	return Stats{
		ID:           b.id,
		Size:         size,
		MaxSize:      b.maxSize,
		LowWater:     b.halfSize,
		Refilling:    refilling,
		Exhausted:    b.exhausted.Load(),
		Closed:       closed,
		Pops:         b.pops.Load(),
		EmptyPops:    b.emptyPops.Load(),
		RefillPasses: b.refillPasses.Load(),
		Committed:    b.committed.Load(),
		EndMarkers:   b.endMarkers.Load(),
		Failures:     b.failures.Load(),
		Discarded:    b.discarded.Load(),
	}
}

// Close stops refilling. A pass in progress abandons its loop once the fetch
// it is waiting on returns; Close waits for that, bounded by ctx.
//
// Items already queued can still be popped after Close, but no new refill is
// started. Close is idempotent.
func (b *Buffer[A]) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()

	done := make(chan struct{})
	go func() {
		b.passes.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("prefetch: close: %w", ctx.Err())
	}

	if b.ownExecutor {
		if shutdownErr := b.executor.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}

	b.logger.Debug("buffer closed", "error", err)
	return err
}

// beginRefillLocked claims the single refill slot. b.mu must be held.
func (b *Buffer[A]) beginRefillLocked() bool {
	if b.refilling || b.closed {
		return false
	}
	b.refilling = true
	b.passes.Add(1)
	return true
}

// endRefill releases the refill slot.
func (b *Buffer[A]) endRefill() {
	b.mu.Lock()
	b.refilling = false
	b.mu.Unlock()
	b.passes.Done()
}

// launchRefill hands a claimed refill pass to the executor.
func (b *Buffer[A]) launchRefill() {
	passID := uuid.NewString()
	task := concurrency.Named(func(context.Context) error {
		return b.refill(passID)
	}, "prefetch-refill", passID)

	if err := b.executor.Submit(task); err != nil {
		b.logger.Warn("refill not scheduled", "pass_id", passID, "error", err)
		b.endRefill()
	}
}

// commit appends e unless the buffer is already full.
func (b *Buffer[A]) commit(e entry[A]) (size int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.fifo) >= b.maxSize {
		return len(b.fifo), false
	}
	b.fifo = append(b.fifo, e)
	return len(b.fifo), true
}

func (b *Buffer[A]) isClosing() bool {
	return b.ctx.Err() != nil
}
