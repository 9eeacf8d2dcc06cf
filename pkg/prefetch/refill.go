package prefetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fluxorio/feedbuffer/pkg/prefetch"

// refill tops the buffer up to maxSize. It runs on the executor and is the
// only code that touches b.source.
func (b *Buffer[A]) refill(passID string) (err error) {
	started := time.Now()
	b.refillPasses.Add(1)

	ctx, span := otel.Tracer(tracerName).Start(b.ctx, "prefetch.refill",
		trace.WithAttributes(
			attribute.String("buffer.id", b.id),
			attribute.String("refill.pass_id", passID),
			attribute.String("source.collection", b.spec.Collection),
			attribute.String("source.category", b.spec.Category.String()),
		))

	rep := RefillReport{BufferID: b.id, PassID: passID}
	logger := b.logger.With("pass_id", passID)

	defer func() {
		rep.Duration = time.Since(started)
		rep.Exhausted = b.exhausted.Load()
		rep.Size = b.Size()
		if rep.Err == nil && err != nil {
			rep.Err = err
		}

		span.SetAttributes(
			attribute.Int("refill.committed", rep.Committed),
			attribute.Int("refill.end_markers", rep.EndMarkers),
			attribute.Int("refill.failures", rep.Failures),
			attribute.Int("refill.discarded", rep.Discarded),
		)
		if rep.Err != nil && !errors.Is(rep.Err, ErrClosed) {
			span.RecordError(rep.Err)
			span.SetStatus(codes.Error, rep.Err.Error())
		}
		span.End()

		// Report before releasing the slot: whoever sees Refilling() == false
		// has also seen the report.
		b.observer.OnRefill(rep)
		b.endRefill()

		logger.Debug("refill finished",
			"committed", rep.Committed,
			"end_markers", rep.EndMarkers,
			"failures", rep.Failures,
			"size", rep.Size,
			"duration", rep.Duration,
			"error", rep.Err,
		)
	}()

	if b.source == nil {
		src, err := b.sources(ctx, b.spec)
		if err != nil {
			return fmt.Errorf("prefetch: bind source %q: %w", b.spec.Collection, err)
		}
		b.source = src
	}

	consecutive := 0
	for b.Size() < b.maxSize {
		if b.isClosing() {
			rep.Err = ErrClosed
			return nil
		}

		var (
			e        entry[A]
			fetchErr error
		)
		switch {
		case b.exhausted.Load():
			e = entry[A]{value: b.sentinel, end: true}
		case !b.source.HasNext():
			// A source that failed to look ahead is retried, not ended.
			if fetchErr = sourceErr(b.source); fetchErr != nil {
				b.observer.OnFetch(FetchEvent{BufferID: b.id, PassID: passID, Size: b.Size(), Err: fetchErr})
				break
			}
			if !b.exhausted.Swap(true) {
				logger.Info("source exhausted")
			}
			e = entry[A]{value: b.sentinel, end: true}
		default:
			var value A
			value, fetchErr = b.fetchNext(ctx, passID)
			e = entry[A]{value: value}
		}

		if fetchErr != nil {
			rep.Failures++
			b.failures.Add(1)
			consecutive++

			if b.policy.exhausted(consecutive) {
				rep.Err = ErrTooManyFailures
				logger.Warn("refill abandoned", "consecutive_failures", consecutive, "error", fetchErr)
				return nil
			}
			if !b.pause(b.policy.delay(consecutive)) {
				rep.Err = ErrClosed
				return nil
			}
			continue
		}
		if !e.end {
			consecutive = 0
		}

		// A fetch that finished after Close is dropped rather than queued.
		if !e.end && b.isClosing() {
			rep.Discarded++
			b.discarded.Add(1)
			rep.Err = ErrClosed
			return nil
		}

		if _, ok := b.commit(e); !ok {
			if !e.end {
				rep.Discarded++
				b.discarded.Add(1)
			}
			break
		}
		if e.end {
			rep.EndMarkers++
			b.endMarkers.Add(1)
		} else {
			rep.Committed++
			b.committed.Add(1)
		}
	}

	return nil
}

// fetchNext advances the source and fetches what it yields.
func (b *Buffer[A]) fetchNext(ctx context.Context, passID string) (A, error) {
	ref, err := b.source.Next()
	if err != nil {
		var zero A
		b.observer.OnFetch(FetchEvent{BufferID: b.id, PassID: passID, Size: b.Size(), Err: err})
		return zero, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "prefetch.fetch",
		trace.WithAttributes(attribute.String("fetch.ref", string(ref))))
	defer span.End()

	started := time.Now()
	value, err := b.fetcher.Fetch(ctx, ref)
	elapsed := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Debug("fetch failed, skipping", "pass_id", passID, "ref", ref, "error", err)
	}
	b.observer.OnFetch(FetchEvent{BufferID: b.id, PassID: passID, Ref: ref, Duration: elapsed, Size: b.Size(), Err: err})

	return value, err
}

// pause waits d, returning false if the buffer is closed meanwhile.
func (b *Buffer[A]) pause(d time.Duration) bool {
	if d <= 0 {
		return !b.isClosing()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-b.ctx.Done():
		return false
	}
}
