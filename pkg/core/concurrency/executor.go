package concurrency

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned by Submit when the task queue has no free slot.
	ErrQueueFull = errors.New("executor queue is full")

	// ErrExecutorClosed is returned by Submit after Shutdown.
	ErrExecutorClosed = errors.New("executor is closed")
)

// ExecutorStats is a point-in-time view of an Executor.
type ExecutorStats struct {
	QueuedTasks      int64   // Tasks accepted but not yet started
	ActiveWorkers    int     // Worker goroutines
	RunningTasks     int64   // Tasks currently executing
	CompletedTasks   int64   // Tasks that returned, with or without error
	FailedTasks      int64   // Tasks that returned an error
	RejectedTasks    int64   // Submit calls refused for backpressure
	QueueCapacity    int     // Maximum queue length
	QueueUtilization float64 // QueuedTasks as a percentage of QueueCapacity
}

// Executor runs tasks on a bounded set of goroutines.
//
// Tasks that are still queued when the executor shuts down are executed with a
// cancelled context so they can release whatever they hold.
type Executor interface {
	// Submit queues a task without blocking.
	// Returns ErrQueueFull under backpressure and ErrExecutorClosed after Shutdown.
	Submit(task Task) error

	// Shutdown cancels running tasks, drains the queue and waits for workers,
	// bounded by ctx.
	Shutdown(ctx context.Context) error

	// Stats returns current executor statistics.
	Stats() ExecutorStats
}
