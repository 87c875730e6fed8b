package gridz

import (
	"context"
	"slices"
	"sync"

	"github.com/zoobzio/metricz"
)

// Metrics for the detail panel.
const (
	DetailPanelTogglesTotal = metricz.Key("detailpanel.toggles.total")
	DetailPanelExpanded     = metricz.Key("detailpanel.expanded")
)

// Detail panel constants.
const (
	DetailPanelToggleField   = "__detail_panel_toggle__"
	ClassDetailPanelExpanded = "row--detailPanelExpanded"
	DefaultDetailPanelHeight = 500.0
	detailPanelToggleWidth   = 40.0
)

// DetailPanelContent supplies the panel shown under an expanded row. A nil
// result means the row has no panel.
type DetailPanelContent interface {
	DetailPanelContent(row Row) any
}

// DetailPanelContentFunc adapts a function to DetailPanelContent.
type DetailPanelContentFunc func(row Row) any

// DetailPanelContent implements DetailPanelContent.
func (f DetailPanelContentFunc) DetailPanelContent(row Row) any { return f(row) }

type noDetailPanel struct{}

func (noDetailPanel) DetailPanelContent(Row) any { return nil }

// NoDetailPanel disables detail panels and removes the toggle column.
var NoDetailPanel DetailPanelContent = noDetailPanel{}

// DetailPanelHeight sizes the panel of a row.
type DetailPanelHeight interface {
	DetailPanelHeight(row Row) float64
}

// DetailPanelHeightFunc adapts a function to DetailPanelHeight.
type DetailPanelHeightFunc func(row Row) float64

// DetailPanelHeight implements DetailPanelHeight.
func (f DetailPanelHeightFunc) DetailPanelHeight(row Row) float64 { return f(row) }

// DetailPanelState is the detail panel slice of the state tree.
type DetailPanelState struct {
	ExpandedRowIDs []RowID
}

// DetailPanelInitialState is the exported form of DetailPanelState.
type DetailPanelInitialState struct {
	ExpandedRowIDs []RowID `yaml:"expandedRowIds,omitempty" json:"expandedRowIds,omitempty"`
}

// DetailPanel adds expandable panels under rows. While content is
// configured it puts a toggle column first and adds the panel height to
// every expanded row.
type DetailPanel struct {
	grid    *Grid
	content DetailPanelContent
	height  DetailPanelHeight
	metrics *metricz.Registry
	mu      sync.RWMutex
}

// NewDetailPanel creates the detail panel feature. A nil content is
// NoDetailPanel; a nil height uses DefaultDetailPanelHeight.
func NewDetailPanel(content DetailPanelContent, height DetailPanelHeight) *DetailPanel {
	if content == nil {
		content = NoDetailPanel
	}
	metrics := metricz.New()
	metrics.Counter(DetailPanelTogglesTotal)
	metrics.Gauge(DetailPanelExpanded)
	return &DetailPanel{content: content, height: height, metrics: metrics}
}

// Name implements Feature.
func (*DetailPanel) Name() string { return FeatureDetailPanel }

// Requires implements Feature.
func (*DetailPanel) Requires() []string {
	return []string{FeatureColumns, FeatureRows, FeatureRowsMeta}
}

// Attach implements Feature.
func (d *DetailPanel) Attach(_ context.Context, g *Grid) error {
	d.mu.Lock()
	d.grid = g
	d.mu.Unlock()

	reg := g.Registry()
	d.register(reg)
	RegisterProcessor(reg, ExportStatePipe, FeatureDetailPanel, d.exportState)
	RegisterProcessor(reg, RestoreStatePipe, FeatureDetailPanel, d.restoreState)
	return nil
}

// Metrics returns the feature's metrics.
func (d *DetailPanel) Metrics() *metricz.Registry { return d.metrics }

// register (re)registers the processors that depend on the content
// capability. Re-registering replaces them in place, which makes the
// columns and rows meta appliers recompute.
func (d *DetailPanel) register(reg *Registry) {
	RegisterProcessor(reg, HydrateColumnsPipe, FeatureDetailPanel, Transform(d.toggleColumn))
	RegisterProcessor(reg, RowHeightPipe, FeatureDetailPanel, Transform(d.rowHeight))
	RegisterProcessor(reg, RowClassNamePipe, FeatureDetailPanel, Transform(d.rowClassName))
}

func (d *DetailPanel) enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, none := d.content.(noDetailPanel)
	return !none
}

func (d *DetailPanel) toggleColumn(s ColumnsState, _ HydrateColumnsContext) ColumnsState {
	_, present := s.Lookup[DetailPanelToggleField]
	if !d.enabled() {
		if present {
			s = s.Clone()
			s.Remove(DetailPanelToggleField)
		}
		return s
	}
	if present {
		return s
	}
	s = s.Clone()
	s.Insert(0, Column{
		Field:       DetailPanelToggleField,
		Type:        TypeActions,
		HeaderName:  "Detail panel toggle",
		Align:       "center",
		Width:       detailPanelToggleWidth,
		MinWidth:    detailPanelToggleWidth,
		MaxWidth:    detailPanelToggleWidth,
		DisableSort: true,
		DisableHide: true,
		Internal:    true,
	})
	return s
}

func (d *DetailPanel) rowHeight(sizes HeightSizes, entry RowEntry) HeightSizes {
	if entry.Pinned != PinnedNone || !d.isExpanded(entry.ID) {
		return sizes
	}
	h, ok := d.panelHeight(entry.Row)
	if !ok {
		return sizes
	}
	sizes[SizeDetailPanel] = h
	return sizes
}

func (d *DetailPanel) rowClassName(classes []string, id RowID) []string {
	if d.enabled() && d.isExpanded(id) {
		return append(classes, ClassDetailPanelExpanded)
	}
	return classes
}

// panelHeight returns the panel height of row, or false when the row has
// no panel.
func (d *DetailPanel) panelHeight(row Row) (float64, bool) {
	d.mu.RLock()
	content, height := d.content, d.height
	d.mu.RUnlock()
	if content.DetailPanelContent(row) == nil {
		return 0, false
	}
	if height == nil {
		return DefaultDetailPanelHeight, true
	}
	if h := height.DetailPanelHeight(row); h > 0 {
		return h, true
	}
	return DefaultDetailPanelHeight, true
}

func (d *DetailPanel) isExpanded(id RowID) bool {
	return slices.Contains(d.ExpandedDetailPanels(), id)
}

// SetDetailPanelContent swaps the content capability. Passing
// NoDetailPanel (or nil) removes the toggle column.
func (d *DetailPanel) SetDetailPanelContent(_ context.Context, content DetailPanelContent) error {
	if content == nil {
		content = NoDetailPanel
	}
	d.mu.Lock()
	d.content = content
	g := d.grid
	d.mu.Unlock()
	if g == nil {
		return nil
	}
	d.register(g.Registry())
	return nil
}

// ExpandedDetailPanels returns the expanded row ids.
func (d *DetailPanel) ExpandedDetailPanels() []RowID {
	d.mu.RLock()
	g := d.grid
	d.mu.RUnlock()
	if g == nil {
		return nil
	}
	return g.store.GetState().DetailPanel.ExpandedRowIDs
}

// ToggleDetailPanel expands or collapses the panel of a row.
func (d *DetailPanel) ToggleDetailPanel(ctx context.Context, id RowID) error {
	d.mu.RLock()
	g := d.grid
	d.mu.RUnlock()
	if g == nil {
		return ErrNotMounted
	}
	if _, err := g.rows.Row(id); err != nil {
		return err
	}
	ids := slices.Clone(d.ExpandedDetailPanels())
	if i := slices.Index(ids, id); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	} else {
		ids = append(ids, id)
	}
	d.metrics.Counter(DetailPanelTogglesTotal).Inc()
	return d.SetExpandedDetailPanels(ctx, ids)
}

// SetExpandedDetailPanels replaces the set of expanded rows.
func (d *DetailPanel) SetExpandedDetailPanels(ctx context.Context, ids []RowID) error {
	d.mu.RLock()
	g := d.grid
	d.mu.RUnlock()
	if g == nil {
		return ErrNotMounted
	}
	expanded := make([]RowID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(expanded, id) {
			expanded = append(expanded, id)
		}
	}
	g.store.SetState(func(s State) State {
		s.DetailPanel.ExpandedRowIDs = expanded
		return s
	})
	d.metrics.Gauge(DetailPanelExpanded).Set(float64(len(expanded)))
	g.store.Publish(ctx, EventDetailPanelsExpandedChange, Event{Payload: expanded})

	// Expanded rows change the rowHeight fold; refreshing the processor
	// makes rows meta recompute.
	RegisterProcessor(g.Registry(), RowHeightPipe, FeatureDetailPanel, Transform(d.rowHeight))
	return nil
}

func (d *DetailPanel) exportState(_ context.Context, st InitialState, params ExportStateParams) (InitialState, error) {
	ids := d.ExpandedDetailPanels()
	if params.ExportOnlyDirtyModels && len(ids) == 0 {
		return st, nil
	}
	st.DetailPanel = &DetailPanelInitialState{ExpandedRowIDs: slices.Clone(ids)}
	return st, nil
}

func (d *DetailPanel) restoreState(_ context.Context, res RestoreStateResult, rc RestoreStateContext) (RestoreStateResult, error) {
	restored := rc.State.DetailPanel
	if restored == nil {
		return res, nil
	}
	ids := slices.Clone(restored.ExpandedRowIDs)
	res.Callbacks = append(res.Callbacks, func(ctx context.Context) error {
		return d.SetExpandedDetailPanels(ctx, ids)
	})
	return res, nil
}
