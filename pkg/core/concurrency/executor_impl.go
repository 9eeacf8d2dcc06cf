package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

type defaultExecutor struct {
	taskChan  chan Task
	workers   int
	queueSize int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closed    bool
	logger    *slog.Logger

	queuedTasks    atomic.Int64
	runningTasks   atomic.Int64
	completedTasks atomic.Int64
	failedTasks    atomic.Int64
	rejectedTasks  atomic.Int64
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Workers   int          // Number of worker goroutines
	QueueSize int          // Maximum queue size (bounded for backpressure)
	Logger    *slog.Logger // Receives task failures; slog.Default() when nil
}

// NewExecutor creates an Executor and starts its workers.
func NewExecutor(ctx context.Context, config ExecutorConfig) Executor {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 100
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)

	exec := &defaultExecutor{
		taskChan:  make(chan Task, config.QueueSize),
		workers:   config.Workers,
		queueSize: config.QueueSize,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("component", "executor"),
	}

	exec.wg.Add(exec.workers)
	for i := 0; i < exec.workers; i++ {
		go exec.worker(i)
	}

	return exec
}

// worker runs tasks until the queue is closed. Tasks drained after
// cancellation still run so they observe ctx.Done.
func (e *defaultExecutor) worker(id int) {
	defer e.wg.Done()

	for task := range e.taskChan {
		e.queuedTasks.Add(-1)
		e.run(id, task)
	}
}

func (e *defaultExecutor) run(id int, task Task) {
	e.runningTasks.Add(1)
	defer func() {
		e.runningTasks.Add(-1)
		e.completedTasks.Add(1)
		if r := recover(); r != nil {
			e.failedTasks.Add(1)
			e.logger.Error("task panicked", "worker", id, "task", task.Name(), "panic", r)
		}
	}()

	if err := task.Execute(e.ctx); err != nil {
		e.failedTasks.Add(1)
		e.logger.Error("task failed", "worker", id, "task", task.Name(), "error", err)
	}
}

// Submit implements Executor.
func (e *defaultExecutor) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	// The read lock is held across the send so Shutdown cannot close the
	// channel underneath it.
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrExecutorClosed
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}

	select {
	case e.taskChan <- task:
		e.queuedTasks.Add(1)
		return nil
	default:
		e.rejectedTasks.Add(1)
		return ErrQueueFull
	}
}

// Shutdown implements Executor.
func (e *defaultExecutor) Shutdown(ctx context.Context) error {
	// Cancel first so tasks still queued run with a cancelled context.
	e.cancel()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.taskChan)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// Stats implements Executor.
func (e *defaultExecutor) Stats() ExecutorStats {
	queued := e.queuedTasks.Load()
	queueUtilization := float64(queued) / float64(e.queueSize) * 100.0
	if queueUtilization > 100.0 {
		queueUtilization = 100.0
	}

	return ExecutorStats{
		QueuedTasks:      queued,
		ActiveWorkers:    e.workers,
		RunningTasks:     e.runningTasks.Load(),
		CompletedTasks:   e.completedTasks.Load(),
		FailedTasks:      e.failedTasks.Load(),
		RejectedTasks:    e.rejectedTasks.Load(),
		QueueCapacity:    e.queueSize,
		QueueUtilization: queueUtilization,
	}
}
