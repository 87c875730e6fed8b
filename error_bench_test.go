package gridz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func BenchmarkProcessorError_Error(b *testing.B) {
	baseErr := errors.New("processor failed")

	b.Run("SimpleError", func(b *testing.B) {
		perr := &ProcessorError[HeightSizes]{
			Err:       baseErr,
			Point:     PointRowHeight,
			ID:        "detailPanel",
			Index:     2,
			Timestamp: time.Now(),
			Duration:  100 * time.Millisecond,
		}

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = perr.Error()
		}
	})

	b.Run("PanicError", func(b *testing.B) {
		perr := &ProcessorError[HeightSizes]{
			Err:      &panicError{value: "boom"},
			Point:    PointRowHeight,
			ID:       "detailPanel",
			Panic:    true,
			Duration: time.Millisecond,
		}

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = perr.Error()
		}
	})

	b.Run("CanceledError", func(b *testing.B) {
		perr := &ProcessorError[InitialState]{
			Err:      context.Canceled,
			Point:    PointExportState,
			ID:       "columns",
			Canceled: true,
		}

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = perr.Error()
		}
	})
}

func BenchmarkProcessorError_ErrorChecking(b *testing.B) {
	wrapped := fmt.Errorf("hydrate rows meta: %w", &ProcessorError[HeightSizes]{
		Err:   context.DeadlineExceeded,
		Point: PointRowHeight,
		ID:    "custom",
	})

	b.Run("As", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var perr *ProcessorError[HeightSizes]
			_ = errors.As(wrapped, &perr)
		}
	})

	b.Run("IsCanceled", func(b *testing.B) {
		var perr *ProcessorError[HeightSizes]
		errors.As(wrapped, &perr)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = perr.IsCanceled()
		}
	})

	b.Run("NotFound", func(b *testing.B) {
		err := fmt.Errorf("lookup: %w", &NotFoundError{Kind: "row", ID: "42"})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = errors.Is(err, ErrNotFound)
		}
	})
}
