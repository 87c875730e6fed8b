package gridz

import "context"

// Point identifies an extension point: a named slot in the engine where
// features contribute processors. The set is fixed; adding a point is a
// deliberate change to this package, not something discovered at runtime.
type Point string

// Extension points.
const (
	PointHydrateColumns  Point = "hydrateColumns"
	PointRowHeight       Point = "rowHeight"
	PointExportState     Point = "exportState"
	PointRestoreState    Point = "restoreState"
	PointRowClassName    Point = "rowClassName"
	PointPreferencePanel Point = "preferencePanel"
)

// ProcessorFunc transforms the accumulated value V of a pipe. The context
// argument pctx carries point-specific data that processors may read but
// must not retain or mutate.
type ProcessorFunc[V, C any] func(ctx context.Context, value V, pctx C) (V, error)

// Pipe is a typed handle on an extension point. It fixes the value type
// folded through the point and the context type handed to each processor,
// so registration and application agree at compile time.
//
// Example:
//
//	gridz.RegisterProcessor(reg, gridz.RowClassNamePipe, "striped",
//	    gridz.Transform(func(classes []string, id gridz.RowID) []string {
//	        return append(classes, "striped")
//	    }),
//	)
type Pipe[V, C any] struct {
	point Point
}

// NewPipe creates a typed handle for point.
func NewPipe[V, C any](point Point) Pipe[V, C] {
	return Pipe[V, C]{point: point}
}

// Point returns the extension point this pipe folds.
func (p Pipe[V, C]) Point() Point {
	return p.point
}

// Typed handles for the built-in extension points.
var (
	HydrateColumnsPipe  = NewPipe[ColumnsState, HydrateColumnsContext](PointHydrateColumns)
	RowHeightPipe       = NewPipe[HeightSizes, RowEntry](PointRowHeight)
	RowClassNamePipe    = NewPipe[[]string, RowID](PointRowClassName)
	ExportStatePipe     = NewPipe[InitialState, ExportStateParams](PointExportState)
	RestoreStatePipe    = NewPipe[RestoreStateResult, RestoreStateContext](PointRestoreState)
	PreferencePanelPipe = NewPipe[PanelContent, PanelValue](PointPreferencePanel)
)

// Transform adapts a processor that cannot fail.
func Transform[V, C any](fn func(V, C) V) ProcessorFunc[V, C] {
	return func(_ context.Context, value V, pctx C) (V, error) {
		return fn(value, pctx), nil
	}
}
