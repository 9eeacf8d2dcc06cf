package concurrency

import (
	"context"
	"strings"
)

const anonymousTask = "anonymous"

// Task is a unit of work run by an Executor. Execute receives a context that
// is cancelled when the executor shuts down; Name labels the task in logs.
type Task interface {
	Execute(ctx context.Context) error
	Name() string
}

// TaskFunc runs a plain function as an unnamed Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

func (TaskFunc) Name() string { return anonymousTask }

// Named returns a Task that runs fn and is logged as parts joined by "-",
// e.g. Named(fn, "prefetch-refill", passID).
func Named(fn TaskFunc, parts ...string) Task {
	name := strings.Join(parts, "-")
	if name == "" {
		name = anonymousTask
	}
	return namedTask{name: name, fn: fn}
}

type namedTask struct {
	name string
	fn   TaskFunc
}

func (t namedTask) Execute(ctx context.Context) error { return t.fn(ctx) }

func (t namedTask) Name() string { return t.name }
