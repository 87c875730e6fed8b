package gridz

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/zoobzio/metricz"
)

// Observability constants for the rows feature.
const (
	RowsCount         = metricz.Key("rows.count")
	RowsFilteredCount = metricz.Key("rows.filtered.count")
	RowsPinnedCount   = metricz.Key("rows.pinned.count")
)

// RowID identifies a row.
type RowID string

// Row is one record of the grid.
type Row struct {
	Values map[string]any `toml:"values" yaml:"values,omitempty"`
	ID     RowID          `toml:"id" yaml:"id"`
}

// Value returns the cell value for field.
func (r Row) Value(field string) any {
	return r.Values[field]
}

// SortDirection orders a sorted column.
type SortDirection string

// Sort directions.
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortItem sorts by one field.
type SortItem struct {
	Field string        `yaml:"field" json:"field"`
	Sort  SortDirection `yaml:"sort" json:"sort"`
}

// SortModel is the ordered list of sort keys. Earlier items take priority.
type SortModel struct {
	Items []SortItem `yaml:"sortModel,omitempty" json:"sortModel,omitempty"`
}

// Filter operators.
const (
	OpContains   = "contains"
	OpEquals     = "equals"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpIsEmpty    = "isEmpty"
	OpIsNotEmpty = "isNotEmpty"
	OpEq         = "="
	OpNeq        = "!="
	OpGt         = ">"
	OpGte        = ">="
	OpLt         = "<"
	OpLte        = "<="
)

// Logic operators joining filter items.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// FilterItem tests one field of a row.
type FilterItem struct {
	Value    any    `yaml:"value,omitempty" json:"value,omitempty"`
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
}

// FilterModel is a list of filter items joined by LogicOperator. An empty
// LogicOperator means LogicAnd.
type FilterModel struct {
	Items         []FilterItem `yaml:"items,omitempty" json:"items,omitempty"`
	LogicOperator string       `yaml:"logicOperator,omitempty" json:"logicOperator,omitempty"`
}

// PaginationModel selects a page. Page is zero based.
type PaginationModel struct {
	Page     int `yaml:"page" json:"page"`
	PageSize int `yaml:"pageSize" json:"pageSize"`
}

// PinnedRows are rows kept outside the scrolling body.
type PinnedRows struct {
	Top    []Row `yaml:"top,omitempty"`
	Bottom []Row `yaml:"bottom,omitempty"`
}

func (p PinnedRows) len() int { return len(p.Top) + len(p.Bottom) }

// RowsFeature owns the row set and the sort, filter and pagination models,
// and derives the rows shown on the current page.
type RowsFeature struct {
	grid      *Grid
	index     map[RowID]int
	generated map[string]PinnedRows
	metrics   *metricz.Registry
	rows      []Row
	pinned    PinnedRows
	owners    []string
	pageSize  int
	mu        sync.RWMutex
	paginate  bool
}

func newRowsFeature(cfg Config) *RowsFeature {
	metrics := metricz.New()
	metrics.Gauge(RowsCount)
	metrics.Gauge(RowsFilteredCount)
	metrics.Gauge(RowsPinnedCount)

	return &RowsFeature{
		index:     make(map[RowID]int),
		generated: make(map[string]PinnedRows),
		metrics:   metrics,
		pageSize:  cfg.PageSize,
		paginate:  cfg.Pagination,
	}
}

// Name implements Feature.
func (*RowsFeature) Name() string { return FeatureRows }

// Requires implements Feature. Sorting and filtering read column types.
func (*RowsFeature) Requires() []string { return []string{FeatureColumns} }

// Attach implements Feature.
func (r *RowsFeature) Attach(_ context.Context, g *Grid) error {
	r.mu.Lock()
	r.grid = g
	pageSize := r.pageSize
	r.mu.Unlock()

	g.store.SetState(func(s State) State {
		if s.Pagination.PageSize <= 0 {
			s.Pagination.PageSize = pageSize
		}
		return s
	})

	reg := g.Registry()
	RegisterProcessor(reg, ExportStatePipe, FeatureRows, r.exportState)
	RegisterProcessor(reg, RestoreStatePipe, FeatureRows, r.restoreState)
	RegisterProcessor(reg, PreferencePanelPipe, FeatureRows, Transform(func(content PanelContent, value PanelValue) PanelContent {
		if value == PanelFilters {
			return FilterPanelContent
		}
		return content
	}))
	return nil
}

// Metrics returns the feature's metrics.
func (r *RowsFeature) Metrics() *metricz.Registry { return r.metrics }

func (r *RowsFeature) store() (*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.grid == nil {
		return nil, ErrNotMounted
	}
	return r.grid.store, nil
}

// SetRows replaces the row set. Row ids must be unique.
func (r *RowsFeature) SetRows(ctx context.Context, rows []Row) error {
	index := make(map[RowID]int, len(rows))
	for i, row := range rows {
		if _, dup := index[row.ID]; dup {
			return fmt.Errorf("duplicate row id %q", row.ID)
		}
		index[row.ID] = i
	}
	st, err := r.store()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.rows = slices.Clone(rows)
	r.index = index
	r.mu.Unlock()

	r.metrics.Gauge(RowsCount).Set(float64(len(rows)))
	st.Publish(ctx, EventRowsSet, Event{Payload: len(rows)})
	return nil
}

// Rows returns every row in insertion order.
func (r *RowsFeature) Rows() []Row {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.rows)
}

// Row looks up a row by id among the body and pinned rows.
func (r *RowsFeature) Row(id RowID) (Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.index[id]; ok {
		return r.rows[i], nil
	}
	for _, row := range r.pinnedLocked().all() {
		if row.ID == id {
			return row, nil
		}
	}
	return Row{}, &NotFoundError{Kind: "row", ID: string(id)}
}

// SetPinnedRows replaces the user-pinned rows.
func (r *RowsFeature) SetPinnedRows(ctx context.Context, pinned PinnedRows) error {
	st, err := r.store()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.pinned = PinnedRows{Top: slices.Clone(pinned.Top), Bottom: slices.Clone(pinned.Bottom)}
	n := r.pinnedLocked().len()
	r.mu.Unlock()

	r.metrics.Gauge(RowsPinnedCount).Set(float64(n))
	st.Publish(ctx, EventPinnedRowsChange, Event{Payload: n})
	return nil
}

// SetGeneratedPinnedRows replaces the pinned rows contributed by owner,
// such as an aggregation footer. Empty rows remove the contribution.
func (r *RowsFeature) SetGeneratedPinnedRows(ctx context.Context, owner string, rows PinnedRows) error {
	st, err := r.store()
	if err != nil {
		return err
	}
	r.mu.Lock()
	_, known := r.generated[owner]
	switch {
	case rows.len() == 0:
		delete(r.generated, owner)
		r.owners = slices.DeleteFunc(r.owners, func(o string) bool { return o == owner })
	case !known:
		r.owners = append(r.owners, owner)
		fallthrough
	default:
		r.generated[owner] = PinnedRows{Top: slices.Clone(rows.Top), Bottom: slices.Clone(rows.Bottom)}
	}
	n := r.pinnedLocked().len()
	r.mu.Unlock()

	if !known && rows.len() == 0 {
		return nil
	}
	r.metrics.Gauge(RowsPinnedCount).Set(float64(n))
	st.Publish(ctx, EventPinnedRowsChange, Event{Field: owner, Payload: n})
	return nil
}

// PinnedRows returns the user-pinned rows followed by generated ones, in
// the order their owners first contributed.
func (r *RowsFeature) PinnedRows() PinnedRows {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pinnedLocked()
}

func (r *RowsFeature) pinnedLocked() PinnedRows {
	out := PinnedRows{Top: slices.Clone(r.pinned.Top), Bottom: slices.Clone(r.pinned.Bottom)}
	for _, owner := range r.owners {
		gen := r.generated[owner]
		out.Top = append(out.Top, gen.Top...)
		out.Bottom = append(out.Bottom, gen.Bottom...)
	}
	return out
}

func (p PinnedRows) all() []Row {
	return append(slices.Clone(p.Top), p.Bottom...)
}

// SetSortModel replaces the sort model.
func (r *RowsFeature) SetSortModel(ctx context.Context, model SortModel) error {
	st, err := r.store()
	if err != nil {
		return err
	}
	for _, item := range model.Items {
		if item.Sort != SortAsc && item.Sort != SortDesc {
			return fmt.Errorf("invalid sort direction %q for %q", item.Sort, item.Field)
		}
	}
	model.Items = slices.Clone(model.Items)
	st.SetState(func(s State) State {
		s.Sorting = model
		return s
	})
	st.Publish(ctx, EventSortModelChange, Event{Payload: model})
	return nil
}

// SortModel returns the sort model.
func (r *RowsFeature) SortModel() SortModel {
	st, err := r.store()
	if err != nil {
		return SortModel{}
	}
	return st.GetState().Sorting
}

// SetFilterModel replaces the filter model. Filtering resets the page.
func (r *RowsFeature) SetFilterModel(ctx context.Context, model FilterModel) error {
	st, err := r.store()
	if err != nil {
		return err
	}
	if model.LogicOperator != "" && model.LogicOperator != LogicAnd && model.LogicOperator != LogicOr {
		return fmt.Errorf("invalid logic operator %q", model.LogicOperator)
	}
	model.Items = slices.Clone(model.Items)
	st.SetState(func(s State) State {
		s.Filter = model
		s.Pagination.Page = 0
		return s
	})
	r.metrics.Gauge(RowsFilteredCount).Set(float64(len(r.FilteredRows())))
	st.Publish(ctx, EventFilterModelChange, Event{Payload: model})
	return nil
}

// FilterModel returns the filter model.
func (r *RowsFeature) FilterModel() FilterModel {
	st, err := r.store()
	if err != nil {
		return FilterModel{}
	}
	return st.GetState().Filter
}

// SetPaginationModel selects a page.
func (r *RowsFeature) SetPaginationModel(ctx context.Context, model PaginationModel) error {
	st, err := r.store()
	if err != nil {
		return err
	}
	if model.Page < 0 {
		return fmt.Errorf("%w: page %d", ErrIndexOutOfBounds, model.Page)
	}
	if model.PageSize <= 0 {
		r.mu.RLock()
		model.PageSize = r.pageSize
		r.mu.RUnlock()
	}
	st.SetState(func(s State) State {
		s.Pagination = model
		return s
	})
	st.Publish(ctx, EventPaginationModelChange, Event{Payload: model})
	return nil
}

// PaginationModel returns the pagination model.
func (r *RowsFeature) PaginationModel() PaginationModel {
	st, err := r.store()
	if err != nil {
		return PaginationModel{}
	}
	return st.GetState().Pagination
}

// FilteredRows returns the rows passing the filter model, sorted by the
// sort model. Ties keep insertion order.
func (r *RowsFeature) FilteredRows() []Row {
	st, err := r.store()
	if err != nil {
		return nil
	}
	state := st.GetState()
	types := r.grid.columns.ColumnTypes()
	cols := state.Columns.Lookup
	typeOf := func(field string) ColumnType {
		return types.Get(cols[field].Type)
	}

	r.mu.RLock()
	rows := make([]Row, 0, len(r.rows))
	for _, row := range r.rows {
		if state.Filter.match(row, typeOf) {
			rows = append(rows, row)
		}
	}
	r.mu.RUnlock()

	if len(state.Sorting.Items) > 0 {
		slices.SortStableFunc(rows, func(a, b Row) int {
			for _, item := range state.Sorting.Items {
				c := typeOf(item.Field).Compare(a.Value(item.Field), b.Value(item.Field))
				if item.Sort == SortDesc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}
	return rows
}

// VisibleRows returns the rows of the current page.
func (r *RowsFeature) VisibleRows() []Row {
	rows := r.FilteredRows()
	r.mu.RLock()
	paginate := r.paginate
	r.mu.RUnlock()
	if !paginate {
		return rows
	}
	pm := r.PaginationModel()
	if pm.PageSize <= 0 {
		return rows
	}
	start := pm.Page * pm.PageSize
	if start >= len(rows) {
		return nil
	}
	return rows[start:min(start+pm.PageSize, len(rows))]
}

// RowIndexRelativeToVisibleRows returns the position of id on the current
// page.
func (r *RowsFeature) RowIndexRelativeToVisibleRows(id RowID) (int, error) {
	i := slices.IndexFunc(r.VisibleRows(), func(row Row) bool { return row.ID == id })
	if i < 0 {
		return -1, &NotFoundError{Kind: "row", ID: string(id)}
	}
	return i, nil
}

func (m FilterModel) match(row Row, typeOf func(string) ColumnType) bool {
	if len(m.Items) == 0 {
		return true
	}
	or := m.LogicOperator == LogicOr
	for _, item := range m.Items {
		ok := item.match(row, typeOf(item.Field))
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
	}
	return !or
}

func (f FilterItem) match(row Row, ct ColumnType) bool {
	v := row.Value(f.Field)
	text := strings.ToLower(ct.Format(v))
	want := strings.ToLower(formatAny(f.Value))

	switch f.Operator {
	case OpIsEmpty:
		return v == nil || text == ""
	case OpIsNotEmpty:
		return v != nil && text != ""
	}
	if f.Value == nil {
		return true
	}
	switch f.Operator {
	case OpContains, "":
		return strings.Contains(text, want)
	case OpEquals:
		return text == want
	case OpStartsWith:
		return strings.HasPrefix(text, want)
	case OpEndsWith:
		return strings.HasSuffix(text, want)
	case OpEq:
		return ct.Compare(v, f.Value) == 0
	case OpNeq:
		return ct.Compare(v, f.Value) != 0
	case OpGt:
		return ct.Compare(v, f.Value) > 0
	case OpGte:
		return ct.Compare(v, f.Value) >= 0
	case OpLt:
		return ct.Compare(v, f.Value) < 0
	case OpLte:
		return ct.Compare(v, f.Value) <= 0
	}
	return false
}

func (r *RowsFeature) exportState(_ context.Context, st InitialState, params ExportStateParams) (InitialState, error) {
	store, err := r.store()
	if err != nil {
		return st, err
	}
	state := store.GetState()
	dirtyOnly := params.ExportOnlyDirtyModels

	if !dirtyOnly || len(state.Sorting.Items) > 0 {
		sorting := SortModel{Items: slices.Clone(state.Sorting.Items)}
		st.Sorting = &sorting
	}
	if !dirtyOnly || len(state.Filter.Items) > 0 {
		filter := FilterModel{Items: slices.Clone(state.Filter.Items), LogicOperator: state.Filter.LogicOperator}
		st.Filter = &filter
	}
	r.mu.RLock()
	paginate, pageSize := r.paginate, r.pageSize
	r.mu.RUnlock()
	if paginate && (!dirtyOnly || state.Pagination != (PaginationModel{PageSize: pageSize})) {
		pagination := state.Pagination
		st.Pagination = &pagination
	}
	return st, nil
}

func (r *RowsFeature) restoreState(_ context.Context, res RestoreStateResult, rc RestoreStateContext) (RestoreStateResult, error) {
	restored := rc.State
	if restored.Sorting == nil && restored.Filter == nil && restored.Pagination == nil {
		return res, nil
	}
	res.Callbacks = append(res.Callbacks, func(ctx context.Context) error {
		if restored.Sorting != nil {
			if err := r.SetSortModel(ctx, *restored.Sorting); err != nil {
				return err
			}
		}
		if restored.Filter != nil {
			if err := r.SetFilterModel(ctx, *restored.Filter); err != nil {
				return err
			}
		}
		if restored.Pagination != nil {
			if err := r.SetPaginationModel(ctx, *restored.Pagination); err != nil {
				return err
			}
		}
		return nil
	})
	return res, nil
}
