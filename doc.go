// Package gridz provides a headless data grid engine: column layout, row
// models and vertical row geometry, extended through typed processor pipes.
//
// # Overview
//
// A Grid owns a Store holding the grid state and a Registry of processors.
// Features attach to the grid when it mounts. Each feature owns a slice of
// the state and contributes processors to the extension points other
// features fold. Nothing is rendered; the engine computes what a renderer
// needs (column widths and offsets, row heights and positions, row classes)
// and publishes a change event whenever it does.
//
// # Core Concepts
//
//   - Pipe[V, C]: a typed handle on an extension point. V is the value
//     folded through the point, C the read-only context each processor gets
//   - ProcessorFunc[V, C]: one contribution to a pipe
//   - Applier: a recomputation callback run whenever the processors of a
//     point change
//   - Feature: a named unit that attaches processors, appliers and listeners
//     to a grid and declares the features it requires
//
// Re-registering a processor under the same id keeps its position in the
// fold and runs the point's appliers. Features use this to force a
// recompute when their own inputs change.
//
// # Built-in Features
//
//   - columns: declared columns, types, visibility, order and widths,
//     including flex distribution over the container width
//   - rows: the row set, sort, filter and pagination models and pinned rows
//   - rowsMeta: the height cache and row positions of the current page,
//     with debounced measurements for auto-height rows
//   - preferences: the preference panel state
//
// Add-ons are mounted with Grid.Use:
//
//   - DetailPanel: expandable panels under rows and a toggle column
//   - Aggregation: a pinned footer row aggregating the filtered rows
//
// # Usage Example
//
//	g := gridz.New(gridz.DefaultConfig()).
//	    WithLogger(logger).
//	    Use(gridz.NewDetailPanel(gridz.DetailPanelContentFunc(render), nil))
//	defer g.Close()
//
//	if err := g.Columns().SetColumns(ctx, []gridz.Column{
//	    {Field: "name", Flex: 1},
//	    {Field: "age", Type: gridz.TypeNumber},
//	}); err != nil {
//	    return err
//	}
//	if err := g.Mount(ctx); err != nil {
//	    return err
//	}
//	if err := g.Rows().SetRows(ctx, rows); err != nil {
//	    return err
//	}
//
//	meta := g.RowsMeta().RowsMeta()
//	// meta.Positions[i] is the top offset of the i-th row on the page.
//
// # Errors
//
// A processor that fails or panics is reported as a *ProcessorError naming
// the point, the registrant and its position in the fold. Under
// FaultPropagate (the default) the fold stops and nothing is committed.
// Under FaultIsolate the failure is logged and counted and the fold moves
// on without that processor's contribution.
//
// # State
//
// ExportState folds the exportState pipe into an InitialState that can be
// serialized and handed back as Config.InitialState. With
// ExportOnlyDirtyModels, models still at their defaults are left out.
//
// # Concurrency
//
// Public methods are safe for concurrent use. Appliers run synchronously in
// the goroutine that changed the registry; a change made while appliers are
// running is queued and handled before that call returns. Measurements may
// arrive from any goroutine.
package gridz
