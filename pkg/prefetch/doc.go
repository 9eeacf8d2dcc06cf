// Package prefetch implements a bounded look-ahead buffer that keeps a slow
// fetch-and-decode pipeline ahead of a fast consumer.
//
// A Buffer pulls references from a forward-only Source, resolves each one
// through a Fetcher, and queues the decoded artifacts in FIFO order. The
// consumer polls with Pop, which never blocks. Whenever a Pop leaves fewer
// than MaxSize/2 artifacts queued and no refill is running, exactly one
// background refill is started; it runs until the buffer is full again.
//
// When the Source is exhausted the refill queues EndMarker items instead of
// artifacts. An EndMarker carries the sentinel artifact supplied at
// construction, so a consumer that keeps polling after the end of the feed
// sees the sentinel over and over rather than an empty buffer forever.
//
// Fetch errors never reach the consumer: the failing reference is skipped.
// RetryPolicy bounds how many consecutive failures a single refill pass will
// tolerate and how long it waits between them.
package prefetch
