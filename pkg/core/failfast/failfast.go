// Package failfast aborts startup on unrecoverable wiring errors.
//
// Checks panic with an *Error; main defers Recover to turn that panic into a
// single structured log line and a non-zero exit.
package failfast

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
)

// Error is the panic value raised by the checks in this package.
type Error struct {
	Err   error
	Stack []byte
}

func (e *Error) Error() string { return "fail-fast: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func fail(err error) {
	panic(&Error{Err: err, Stack: debug.Stack()})
}

// Err panics if err != nil. what names the step that failed.
func Err(err error, what string) {
	if err != nil {
		fail(fmt.Errorf("%s: %w", what, err))
	}
}

// If panics with the formatted message if condition is false.
func If(condition bool, message string, args ...any) {
	if !condition {
		fail(fmt.Errorf(message, args...))
	}
}

// NotNil panics if v is nil or a typed nil pointer, func, map, chan or interface.
func NotNil(v any, name string) {
	if v == nil {
		fail(fmt.Errorf("%s is nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		if rv.IsNil() {
			fail(fmt.Errorf("%s is nil", name))
		}
	}
}

// Recover must be deferred. It logs a fail-fast panic and calls exit(1);
// any other panic is re-raised.
func Recover(logger *slog.Logger, exit func(int)) {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	var ff *Error
	if !ok || !errors.As(err, &ff) {
		panic(r)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("startup failed", "error", ff.Err, "stack", string(ff.Stack))
	exit(1)
}
