package gridz

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Engine errors.
var (
	ErrNotFound            = errors.New("not found")
	ErrIndexOutOfBounds    = errors.New("index out of bounds")
	ErrDanglingField       = errors.New("dangling column field")
	ErrMissingPrerequisite = errors.New("missing prerequisite feature")
	ErrDuplicateFeature    = errors.New("feature already attached")
	ErrInvalidHeight       = errors.New("invalid row height")
	ErrPipeTypeMismatch    = errors.New("processor registered with a different pipe type")
	ErrClosed              = errors.New("grid is closed")
	ErrNotMounted          = errors.New("feature is not attached to a grid")
)

// NotFoundError reports a lookup against an id the engine does not track,
// such as setting the height of a row that was never hydrated.
type NotFoundError struct {
	Kind string // "row", "column", "feature"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match any NotFoundError.
func (*NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ProcessorError provides rich context about a processor failure during a
// pipe fold. It names the extension point and the registrant whose processor
// failed, carries the accumulator that was handed to it and records whether
// the failure was a recovered panic.
type ProcessorError[V any] struct {
	InputData V
	Timestamp time.Time
	Err       error
	Point     Point
	ID        string
	Duration  time.Duration
	Index     int
	Panic     bool
	Canceled  bool
}

// Error implements the error interface.
func (e *ProcessorError[V]) Error() string {
	location := fmt.Sprintf("processor %q at %s (position %d)", e.ID, e.Point, e.Index)

	if e.Panic {
		return fmt.Sprintf("%s panicked after %v: %v", location, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s canceled after %v: %v", location, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProcessorError[V]) Unwrap() error {
	return e.Err
}

// IsCanceled returns true if the fold stopped because the context ended.
func (e *ProcessorError[V]) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// invokeProcessor runs fn and converts a panic into an error.
func invokeProcessor[V, C any](ctx context.Context, fn ProcessorFunc[V, C], value V, pctx C) (result V, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = value
			err = &panicError{value: r}
			panicked = true
		}
	}()
	result, err = fn(ctx, value, pctx)
	return result, false, err
}
