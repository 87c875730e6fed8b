package gridz

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/zoobzio/metricz"
)

// Metrics for aggregation.
const (
	AggregationRunsTotal = metricz.Key("aggregation.runs.total")
)

// Aggregation constants.
const (
	AggregationFooterID = RowID("auto-generated-group-footer-root")
	ClassAggregation    = "row--aggregation"
)

// Built-in aggregation function names.
const (
	AggSum  = "sum"
	AggAvg  = "avg"
	AggMin  = "min"
	AggMax  = "max"
	AggSize = "size"
)

// AggregationFunc reduces the values of one column.
type AggregationFunc func(values []any) any

// AggregationModel maps a field to the name of its aggregation function.
type AggregationModel struct {
	Model map[string]string `yaml:"model,omitempty" json:"model,omitempty"`
}

// DefaultAggregationFuncs returns sum, avg, min, max and size.
func DefaultAggregationFuncs() map[string]AggregationFunc {
	return map[string]AggregationFunc{
		AggSum: func(values []any) any {
			var sum float64
			for _, n := range numbers(values) {
				sum += n
			}
			return sum
		},
		AggAvg: func(values []any) any {
			nums := numbers(values)
			if len(nums) == 0 {
				return nil
			}
			var sum float64
			for _, n := range nums {
				sum += n
			}
			return sum / float64(len(nums))
		},
		AggMin: func(values []any) any {
			nums := numbers(values)
			if len(nums) == 0 {
				return nil
			}
			return slices.Min(nums)
		},
		AggMax: func(values []any) any {
			nums := numbers(values)
			if len(nums) == 0 {
				return nil
			}
			return slices.Max(nums)
		},
		AggSize: func(values []any) any {
			return len(values)
		},
	}
}

func numbers(values []any) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if n, ok := toFloat(v); ok && !math.IsNaN(n) {
			out = append(out, n)
		}
	}
	return out
}

// Aggregation computes per-column aggregates over the filtered rows and
// shows them in a footer row pinned to the bottom.
type Aggregation struct {
	grid    *Grid
	funcs   map[string]AggregationFunc
	metrics *metricz.Registry
	mu      sync.RWMutex
}

// NewAggregation creates the aggregation feature. A nil funcs uses
// DefaultAggregationFuncs.
func NewAggregation(funcs map[string]AggregationFunc) *Aggregation {
	if funcs == nil {
		funcs = DefaultAggregationFuncs()
	}
	metrics := metricz.New()
	metrics.Counter(AggregationRunsTotal)
	return &Aggregation{funcs: maps.Clone(funcs), metrics: metrics}
}

// Name implements Feature.
func (*Aggregation) Name() string { return FeatureAggregation }

// Requires implements Feature.
func (*Aggregation) Requires() []string {
	return []string{FeatureColumns, FeatureRows, FeatureRowsMeta}
}

// Attach implements Feature.
func (a *Aggregation) Attach(_ context.Context, g *Grid) error {
	a.mu.Lock()
	a.grid = g
	a.mu.Unlock()

	reg := g.Registry()
	RegisterProcessor(reg, HydrateColumnsPipe, FeatureAggregation, Transform(a.stampColumns))
	RegisterProcessor(reg, RowClassNamePipe, FeatureAggregation, Transform(func(classes []string, id RowID) []string {
		if id == AggregationFooterID {
			return append(classes, ClassAggregation)
		}
		return classes
	}))
	RegisterProcessor(reg, ExportStatePipe, FeatureAggregation, a.exportState)
	RegisterProcessor(reg, RestoreStatePipe, FeatureAggregation, a.restoreState)

	refresh := func(ctx context.Context, ev Event) {
		if !g.isMounted() {
			return
		}
		if err := a.refreshFooter(ctx); err != nil {
			g.Logger().Error("aggregation failed", "trigger", ev.Name, "err", err)
		}
	}
	g.store.Listen(EventRowsSet, refresh)
	g.store.Listen(EventFilterModelChange, refresh)
	return nil
}

// Hydrate implements hydrator.
func (a *Aggregation) Hydrate(ctx context.Context) error {
	return a.refreshFooter(ctx)
}

// Metrics returns the feature's metrics.
func (a *Aggregation) Metrics() *metricz.Registry { return a.metrics }

func (a *Aggregation) stampColumns(s ColumnsState, _ HydrateColumnsContext) ColumnsState {
	model := a.AggregationModel().Model
	if len(model) == 0 {
		return s
	}
	s = s.Clone()
	for field, fn := range model {
		col, ok := s.Lookup[field]
		if !ok {
			continue
		}
		col.Aggregation = fn
		s.Lookup[field] = col
	}
	return s
}

// AggregationModel returns the current model.
func (a *Aggregation) AggregationModel() AggregationModel {
	a.mu.RLock()
	g := a.grid
	a.mu.RUnlock()
	if g == nil {
		return AggregationModel{}
	}
	return g.store.GetState().Aggregation
}

// SetAggregationModel replaces the model. Unknown function names are
// rejected.
func (a *Aggregation) SetAggregationModel(ctx context.Context, model AggregationModel) error {
	a.mu.RLock()
	g := a.grid
	for field, fn := range model.Model {
		if _, ok := a.funcs[fn]; !ok {
			a.mu.RUnlock()
			return fmt.Errorf("unknown aggregation %q for %q: %w", fn, field, ErrNotFound)
		}
	}
	a.mu.RUnlock()
	if g == nil {
		return ErrNotMounted
	}

	model.Model = maps.Clone(model.Model)
	g.store.SetState(func(s State) State {
		s.Aggregation = model
		return s
	})
	g.store.Publish(ctx, EventAggregationModelChange, Event{Payload: model})

	// Column labels depend on the model; refreshing the processor makes
	// the columns recompute.
	RegisterProcessor(g.Registry(), HydrateColumnsPipe, FeatureAggregation, Transform(a.stampColumns))
	return a.refreshFooter(ctx)
}

// Aggregate computes the footer values for the current model.
func (a *Aggregation) Aggregate() map[string]any {
	a.mu.RLock()
	g := a.grid
	funcs := a.funcs
	a.mu.RUnlock()
	model := a.AggregationModel().Model
	if g == nil || len(model) == 0 {
		return nil
	}

	rows := g.rows.FilteredRows()
	out := make(map[string]any, len(model))
	for field, name := range model {
		values := make([]any, 0, len(rows))
		for _, row := range rows {
			values = append(values, row.Value(field))
		}
		out[field] = funcs[name](values)
	}
	return out
}

// FooterRow returns the aggregation footer, if the model is not empty.
func (a *Aggregation) FooterRow() (Row, bool) {
	values := a.Aggregate()
	if values == nil {
		return Row{}, false
	}
	return Row{ID: AggregationFooterID, Values: values}, true
}

func (a *Aggregation) refreshFooter(ctx context.Context) error {
	a.mu.RLock()
	g := a.grid
	a.mu.RUnlock()
	if g == nil {
		return ErrNotMounted
	}
	a.metrics.Counter(AggregationRunsTotal).Inc()
	footer, ok := a.FooterRow()
	if !ok {
		return g.rows.SetGeneratedPinnedRows(ctx, FeatureAggregation, PinnedRows{})
	}
	return g.rows.SetGeneratedPinnedRows(ctx, FeatureAggregation, PinnedRows{Bottom: []Row{footer}})
}

func (a *Aggregation) exportState(_ context.Context, st InitialState, params ExportStateParams) (InitialState, error) {
	model := a.AggregationModel()
	if params.ExportOnlyDirtyModels && len(model.Model) == 0 {
		return st, nil
	}
	st.Aggregation = &AggregationModel{Model: maps.Clone(model.Model)}
	return st, nil
}

func (a *Aggregation) restoreState(_ context.Context, res RestoreStateResult, rc RestoreStateContext) (RestoreStateResult, error) {
	restored := rc.State.Aggregation
	if restored == nil {
		return res, nil
	}
	model := AggregationModel{Model: maps.Clone(restored.Model)}
	res.Callbacks = append(res.Callbacks, func(ctx context.Context) error {
		return a.SetAggregationModel(ctx, model)
	})
	return res, nil
}
