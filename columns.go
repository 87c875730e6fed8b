package gridz

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"sync"

	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the columns feature.
const (
	// Metrics.
	ColumnsHydrationsTotal = metricz.Key("columns.hydrations.total")
	ColumnsCount           = metricz.Key("columns.count")
	ColumnsTotalWidth      = metricz.Key("columns.total_width")

	// Spans.
	ColumnsHydrateSpan = tracez.Key("columns.hydrate")

	// Tags.
	ColumnsTagCount = tracez.Tag("columns.count")
)

// HydrateColumnsContext is handed to hydrateColumns processors.
type HydrateColumnsContext struct {
	ColumnTypes    ColumnTypes
	ContainerWidth float64
}

// ColumnIndexChange is the payload of EventColumnIndexChange.
type ColumnIndexChange struct {
	Field       string
	OldIndex    int
	TargetIndex int
}

// ColumnWidthChange is the payload of EventColumnWidthChange.
type ColumnWidthChange struct {
	Field string
	Width float64
}

// ColumnsFeature owns the column layout. It merges the declared columns
// with their types and any restored state, lets other features adjust the
// result through the hydrateColumns pipe and sizes the columns to the
// container.
type ColumnsFeature struct {
	grid           *Grid
	types          ColumnTypes
	initial        *ColumnsInitialState
	metrics        *metricz.Registry
	tracer         *tracez.Tracer
	props          []Column
	containerWidth float64
	turn           sync.Mutex
	mu             sync.RWMutex
	// reorder is set when the declared columns were replaced; the next
	// hydration takes their order instead of keeping the current one.
	reorder bool
	// visibilityRestored is set once a snapshot carrying a visibility
	// model has been restored; the model then counts as dirty on export.
	visibilityRestored bool
}

func newColumnsFeature(cfg Config) *ColumnsFeature {
	metrics := metricz.New()
	metrics.Counter(ColumnsHydrationsTotal)
	metrics.Gauge(ColumnsCount)
	metrics.Gauge(ColumnsTotalWidth)

	return &ColumnsFeature{
		types:          cfg.ColumnTypes,
		containerWidth: cfg.ContainerWidth,
		metrics:        metrics,
		tracer:         tracez.New(),
	}
}

// Name implements Feature.
func (*ColumnsFeature) Name() string { return FeatureColumns }

// Requires implements Feature.
func (*ColumnsFeature) Requires() []string { return nil }

// Attach implements Feature.
func (c *ColumnsFeature) Attach(_ context.Context, g *Grid) error {
	c.mu.Lock()
	c.grid = g
	c.mu.Unlock()

	reg := g.Registry()
	reg.RegisterApplier(PointHydrateColumns, FeatureColumns, func() {
		if !g.isMounted() {
			return
		}
		if err := c.HydrateColumns(context.Background()); err != nil {
			g.Logger().Error("columns hydration failed", "err", err)
		}
	})
	RegisterProcessor(reg, ExportStatePipe, FeatureColumns, c.exportState)
	RegisterProcessor(reg, RestoreStatePipe, FeatureColumns, c.restoreState)
	RegisterProcessor(reg, PreferencePanelPipe, FeatureColumns, Transform(func(content PanelContent, value PanelValue) PanelContent {
		if value == PanelColumns {
			return ColumnsPanelContent
		}
		return content
	}))
	return nil
}

// Hydrate implements hydrator.
func (c *ColumnsFeature) Hydrate(ctx context.Context) error {
	return c.HydrateColumns(ctx)
}

// Metrics returns the feature's metrics.
func (c *ColumnsFeature) Metrics() *metricz.Registry { return c.metrics }

// Tracer returns the feature's tracer.
func (c *ColumnsFeature) Tracer() *tracez.Tracer { return c.tracer }

// SetColumns replaces the declared columns and rebuilds the layout.
func (c *ColumnsFeature) SetColumns(ctx context.Context, cols []Column) error {
	c.mu.Lock()
	c.props = slices.Clone(cols)
	c.reorder = true
	c.mu.Unlock()
	return c.rehydrate(ctx)
}

// UpdateColumns upserts cols into the declared columns by field and
// rebuilds the layout. Columns not mentioned are kept.
func (c *ColumnsFeature) UpdateColumns(ctx context.Context, cols []Column) error {
	c.mu.Lock()
	props := slices.Clone(c.props)
	for _, col := range cols {
		i := slices.IndexFunc(props, func(p Column) bool { return p.Field == col.Field })
		if i >= 0 {
			props[i] = mergeColumn(props[i], col)
		} else {
			props = append(props, col)
		}
	}
	c.props = props
	c.mu.Unlock()
	return c.rehydrate(ctx)
}

// SetColumnTypes replaces the column type registry and rebuilds the layout.
func (c *ColumnsFeature) SetColumnTypes(ctx context.Context, types ColumnTypes) error {
	c.mu.Lock()
	c.types = maps.Clone(types)
	c.mu.Unlock()
	return c.rehydrate(ctx)
}

// ColumnTypes returns the column type registry.
func (c *ColumnsFeature) ColumnTypes() ColumnTypes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.types
}

// SetContainerWidth records the width available to columns and rebuilds
// the layout when it changed.
func (c *ColumnsFeature) SetContainerWidth(ctx context.Context, width float64) error {
	if width < 0 || math.IsNaN(width) {
		return fmt.Errorf("invalid container width %v", width)
	}
	c.mu.Lock()
	changed := c.containerWidth != width
	c.containerWidth = width
	c.mu.Unlock()
	if !changed {
		return nil
	}
	return c.rehydrate(ctx)
}

// ContainerWidth returns the width available to columns.
func (c *ColumnsFeature) ContainerWidth() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.containerWidth
}

func (c *ColumnsFeature) rehydrate(ctx context.Context) error {
	c.mu.RLock()
	g := c.grid
	c.mu.RUnlock()
	if g == nil || !g.isMounted() {
		return nil
	}
	return c.HydrateColumns(ctx)
}

// HydrateColumns rebuilds the column layout from the declared columns.
//
// The declared columns are deduplicated by field (later declarations
// override earlier ones, the first position wins) and completed from their
// type. The current display order is kept unless SetColumns replaced the
// declared columns, and columns the user resized keep their dimensions. A
// pending restored snapshot is applied once. The hydrateColumns pipe then
// lets features add or remove columns, and finally widths are computed for
// the container.
// Nothing is committed when a processor fails.
func (c *ColumnsFeature) HydrateColumns(ctx context.Context) error {
	c.mu.RLock()
	g := c.grid
	props := c.props
	types := c.types
	width := c.containerWidth
	initial := c.initial
	reorder := c.reorder
	c.mu.RUnlock()
	if g == nil {
		return fmt.Errorf("hydrate columns: %w", ErrNotMounted)
	}

	ctx, span := c.tracer.StartSpan(ctx, ColumnsHydrateSpan)
	defer span.Finish()

	next, err := c.hydrate(ctx, g, props, types, width, initial, reorder)
	if err != nil {
		span.SetTag(PipeTagError, err.Error())
		return fmt.Errorf("hydrate columns: %w", err)
	}

	c.metrics.Counter(ColumnsHydrationsTotal).Inc()
	c.metrics.Gauge(ColumnsCount).Set(float64(len(next.OrderedFields)))
	c.metrics.Gauge(ColumnsTotalWidth).Set(totalWidth(next))
	span.SetTag(ColumnsTagCount, strconv.Itoa(len(next.OrderedFields)))
	g.Logger().Debug("columns hydrated", "columns", len(next.OrderedFields), "width", width)

	g.store.Publish(ctx, EventColumnsChange, Event{Payload: next.OrderedFields})
	return nil
}

// hydrate builds and commits the next columns state under the turn lock.
// Listeners are notified by the caller once the lock is released.
func (c *ColumnsFeature) hydrate(ctx context.Context, g *Grid, props []Column, types ColumnTypes, width float64, initial *ColumnsInitialState, reorder bool) (ColumnsState, error) {
	c.turn.Lock()
	defer c.turn.Unlock()

	prev := g.store.GetState().Columns
	next := buildColumnsState(props, types, prev, initial, !reorder)

	next, err := ApplyProcessors(ctx, g.registry, HydrateColumnsPipe, next, HydrateColumnsContext{
		ColumnTypes:    types,
		ContainerWidth: width,
	})
	if err != nil {
		return ColumnsState{}, err
	}
	for f, col := range next.Lookup {
		next.Lookup[f] = col.withDefaults(types)
	}
	computeDimensions(&next, width)
	if err := next.Validate(); err != nil {
		return ColumnsState{}, err
	}

	c.mu.Lock()
	if c.initial == initial {
		c.initial = nil
	}
	if reorder {
		c.reorder = false
	}
	c.mu.Unlock()

	g.store.SetState(func(s State) State {
		s.Columns = next
		return s
	})
	return next, nil
}

func buildColumnsState(props []Column, types ColumnTypes, prev ColumnsState, initial *ColumnsInitialState, keepOrder bool) ColumnsState {
	next := ColumnsState{
		Lookup:          make(map[string]Column, len(props)),
		VisibilityModel: maps.Clone(prev.VisibilityModel),
	}
	for _, col := range props {
		if col.Field == "" {
			continue
		}
		if existing, ok := next.Lookup[col.Field]; ok {
			next.Lookup[col.Field] = mergeColumn(existing, col)
			continue
		}
		next.OrderedFields = append(next.OrderedFields, col.Field)
		next.Lookup[col.Field] = col
	}

	if keepOrder && len(prev.OrderedFields) > 0 {
		next.OrderedFields = keepPrevOrder(prev.OrderedFields, next.OrderedFields)
	}

	for _, f := range next.OrderedFields {
		col := next.Lookup[f].withDefaults(types)
		if p, ok := prev.Lookup[f]; ok && p.HasBeenResized && p.Type == col.Type {
			col.Width = p.Width
			col.Flex = p.Flex
			col.MinWidth = p.MinWidth
			col.MaxWidth = p.MaxWidth
			col.HasBeenResized = true
		}
		next.Lookup[f] = col
	}

	if initial != nil {
		applyColumnsInitialState(&next, initial)
	}
	return next
}

// keepPrevOrder orders fields as they appear in prev, appending the fields
// prev does not know in their declared order.
func keepPrevOrder(prev, fields []string) []string {
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f] = true
	}
	out := make([]string, 0, len(fields))
	for _, f := range prev {
		if present[f] {
			out = append(out, f)
			delete(present, f)
		}
	}
	for _, f := range fields {
		if present[f] {
			out = append(out, f)
		}
	}
	return out
}

func applyColumnsInitialState(s *ColumnsState, initial *ColumnsInitialState) {
	if initial.ColumnVisibilityModel != nil {
		s.VisibilityModel = maps.Clone(initial.ColumnVisibilityModel)
	}

	if len(initial.OrderedFields) > 0 {
		ordered := make([]string, 0, len(s.OrderedFields))
		seen := make(map[string]bool, len(s.OrderedFields))
		for _, f := range initial.OrderedFields {
			if _, ok := s.Lookup[f]; ok && !seen[f] {
				ordered = append(ordered, f)
				seen[f] = true
			}
		}
		for _, f := range s.OrderedFields {
			if !seen[f] {
				ordered = append(ordered, f)
			}
		}
		s.OrderedFields = ordered
	}

	for f, dim := range initial.Dimensions {
		col, ok := s.Lookup[f]
		if !ok {
			continue
		}
		if v, ok := importDimension(dim.MaxWidth); ok {
			col.MaxWidth = v
		}
		if v, ok := importDimension(dim.MinWidth); ok && !math.IsInf(v, 1) {
			col.MinWidth = v
		}
		// An unbounded width takes the max width, if there is one.
		if v, ok := importDimension(dim.Width); ok {
			if math.IsInf(v, 1) {
				v = col.MaxWidth
			}
			if !math.IsInf(v, 1) {
				col.Width = v
			}
		}
		col.Flex = dim.Flex
		col.HasBeenResized = true
		s.Lookup[f] = col
	}
}

// importDimension decodes an exported dimension. UnboundedDimension becomes
// +Inf; anything else must be positive to apply.
func importDimension(v float64) (float64, bool) {
	switch {
	case v == UnboundedDimension:
		return math.Inf(1), true
	case v > 0:
		return v, true
	}
	return 0, false
}

func exportDimension(v float64) float64 {
	if math.IsInf(v, 1) {
		return UnboundedDimension
	}
	return v
}

// mutate applies fn to a copy of the committed columns state, recomputes
// widths and commits the result.
func (c *ColumnsFeature) mutate(fn func(*ColumnsState) error) (ColumnsState, error) {
	c.mu.RLock()
	g := c.grid
	width := c.containerWidth
	c.mu.RUnlock()
	if g == nil {
		return ColumnsState{}, ErrNotMounted
	}

	c.turn.Lock()
	defer c.turn.Unlock()

	next := g.store.GetState().Columns.Clone()
	if next.Lookup == nil {
		next.Lookup = make(map[string]Column)
	}
	if err := fn(&next); err != nil {
		return ColumnsState{}, err
	}
	computeDimensions(&next, width)
	g.store.SetState(func(s State) State {
		s.Columns = next
		return s
	})
	c.metrics.Gauge(ColumnsTotalWidth).Set(totalWidth(next))
	return next, nil
}

// SetColumnVisibilityModel replaces the visibility model.
func (c *ColumnsFeature) SetColumnVisibilityModel(ctx context.Context, model map[string]bool) error {
	next, err := c.mutate(func(s *ColumnsState) error {
		s.VisibilityModel = maps.Clone(model)
		return nil
	})
	if err != nil {
		return err
	}
	c.grid.store.Publish(ctx, EventColumnVisibilityModelChange, Event{Payload: next.VisibilityModel})
	c.grid.store.Publish(ctx, EventColumnsChange, Event{Payload: next.OrderedFields})
	return nil
}

// SetColumnVisibility shows or hides one column.
func (c *ColumnsFeature) SetColumnVisibility(ctx context.Context, field string, visible bool) error {
	next, err := c.mutate(func(s *ColumnsState) error {
		if _, ok := s.Lookup[field]; !ok {
			return &NotFoundError{Kind: "column", ID: field}
		}
		if s.VisibilityModel == nil {
			s.VisibilityModel = make(map[string]bool)
		}
		s.VisibilityModel[field] = visible
		return nil
	})
	if err != nil {
		return err
	}
	c.grid.store.Publish(ctx, EventColumnVisibilityModelChange, Event{Field: field, Payload: next.VisibilityModel})
	c.grid.store.Publish(ctx, EventColumnsChange, Event{Field: field, Payload: next.OrderedFields})
	return nil
}

// SetColumnIndex moves field to targetIndex, shifting the columns in
// between by one. Moving a column onto its own index does nothing.
func (c *ColumnsFeature) SetColumnIndex(ctx context.Context, field string, targetIndex int) error {
	var change ColumnIndexChange
	moved := false
	next, err := c.mutate(func(s *ColumnsState) error {
		old := s.Index(field)
		if old < 0 {
			return &NotFoundError{Kind: "column", ID: field}
		}
		if targetIndex < 0 || targetIndex >= len(s.OrderedFields) {
			return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfBounds, targetIndex, len(s.OrderedFields))
		}
		if old == targetIndex {
			return nil
		}
		s.OrderedFields = slices.Delete(s.OrderedFields, old, old+1)
		s.OrderedFields = slices.Insert(s.OrderedFields, targetIndex, field)
		change = ColumnIndexChange{Field: field, OldIndex: old, TargetIndex: targetIndex}
		moved = true
		return nil
	})
	if err != nil || !moved {
		return err
	}
	c.grid.store.Publish(ctx, EventColumnIndexChange, Event{Field: field, Payload: change})
	c.grid.store.Publish(ctx, EventColumnsChange, Event{Field: field, Payload: next.OrderedFields})
	c.grid.store.Publish(ctx, EventColumnLayoutChange, Event{Field: field, Payload: totalWidth(next)})
	return nil
}

// SetColumnWidth resizes field to width, bounded by its min and max. The
// column stops flexing and keeps this width across later hydrations.
func (c *ColumnsFeature) SetColumnWidth(ctx context.Context, field string, width float64) error {
	if width < 0 || math.IsNaN(width) || math.IsInf(width, 0) {
		return fmt.Errorf("invalid column width %v", width)
	}
	var applied float64
	next, err := c.mutate(func(s *ColumnsState) error {
		col, ok := s.Lookup[field]
		if !ok {
			return &NotFoundError{Kind: "column", ID: field}
		}
		col.Width = col.clamp(width)
		col.Flex = 0
		col.HasBeenResized = true
		s.Lookup[field] = col
		applied = col.Width
		return nil
	})
	if err != nil {
		return err
	}
	c.grid.store.Publish(ctx, EventColumnWidthChange, Event{Field: field, Payload: ColumnWidthChange{Field: field, Width: applied}})
	c.grid.store.Publish(ctx, EventColumnsChange, Event{Field: field, Payload: next.OrderedFields})
	c.grid.store.Publish(ctx, EventColumnLayoutChange, Event{Field: field, Payload: totalWidth(next)})
	return nil
}

// ColumnsState returns the committed columns state.
func (c *ColumnsFeature) ColumnsState() ColumnsState {
	c.mu.RLock()
	g := c.grid
	c.mu.RUnlock()
	if g == nil {
		return ColumnsState{}
	}
	return g.store.GetState().Columns
}

// Column returns the column for field.
func (c *ColumnsFeature) Column(field string) (Column, error) {
	col, ok := c.ColumnsState().Lookup[field]
	if !ok {
		return Column{}, &NotFoundError{Kind: "column", ID: field}
	}
	return col, nil
}

// AllColumns returns every column in display order.
func (c *ColumnsFeature) AllColumns() []Column {
	return c.ColumnsState().Columns()
}

// VisibleColumns returns the visible columns in display order.
func (c *ColumnsFeature) VisibleColumns() []Column {
	return c.ColumnsState().Visible()
}

// ColumnIndex returns the display index of field among all columns.
func (c *ColumnsFeature) ColumnIndex(field string) (int, error) {
	i := c.ColumnsState().Index(field)
	if i < 0 {
		return -1, &NotFoundError{Kind: "column", ID: field}
	}
	return i, nil
}

// ColumnPosition returns the left offset of a visible column.
func (c *ColumnsFeature) ColumnPosition(field string) (float64, error) {
	s := c.ColumnsState()
	var left float64
	for _, f := range s.OrderedFields {
		if !s.IsVisible(f) {
			continue
		}
		if f == field {
			return left, nil
		}
		left += s.Lookup[f].ComputedWidth
	}
	return 0, &NotFoundError{Kind: "column", ID: field}
}

// TotalColumnWidth returns the sum of the visible computed widths.
func (c *ColumnsFeature) TotalColumnWidth() float64 {
	return totalWidth(c.ColumnsState())
}

func totalWidth(s ColumnsState) float64 {
	var total float64
	for _, col := range s.Visible() {
		total += col.ComputedWidth
	}
	return total
}

func (c *ColumnsFeature) exportState(_ context.Context, st InitialState, params ExportStateParams) (InitialState, error) {
	s := c.ColumnsState()
	c.mu.RLock()
	restored := c.visibilityRestored
	c.mu.RUnlock()

	out := &ColumnsInitialState{OrderedFields: slices.Clone(s.OrderedFields)}
	if !params.ExportOnlyDirtyModels || restored || len(s.VisibilityModel) > 0 {
		out.ColumnVisibilityModel = maps.Clone(s.VisibilityModel)
		if out.ColumnVisibilityModel == nil {
			out.ColumnVisibilityModel = map[string]bool{}
		}
	}

	dims := make(map[string]ColumnDimensions)
	for _, f := range s.OrderedFields {
		col := s.Lookup[f]
		if !col.HasBeenResized {
			continue
		}
		dims[f] = ColumnDimensions{
			Width:    exportDimension(col.Width),
			MinWidth: exportDimension(col.MinWidth),
			MaxWidth: exportDimension(col.MaxWidth),
			Flex:     col.Flex,
		}
	}
	if len(dims) > 0 {
		out.Dimensions = dims
	}
	st.Columns = out
	return st, nil
}

func (c *ColumnsFeature) restoreState(_ context.Context, res RestoreStateResult, rc RestoreStateContext) (RestoreStateResult, error) {
	initial := rc.State.Columns
	if initial == nil {
		return res, nil
	}
	snapshot := &ColumnsInitialState{
		ColumnVisibilityModel: maps.Clone(initial.ColumnVisibilityModel),
		Dimensions:            maps.Clone(initial.Dimensions),
		OrderedFields:         slices.Clone(initial.OrderedFields),
	}
	res.Callbacks = append(res.Callbacks, func(ctx context.Context) error {
		c.mu.Lock()
		c.initial = snapshot
		if snapshot.ColumnVisibilityModel != nil {
			c.visibilityRestored = true
		}
		c.mu.Unlock()
		return c.HydrateColumns(ctx)
	})
	return res, nil
}
