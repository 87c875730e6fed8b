package gridz

import (
	"context"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the rows meta feature.
const (
	// Metrics.
	RowsMetaHydrationsTotal     = metricz.Key("rowsmeta.hydrations.total")
	RowsMetaMeasurementsTotal   = metricz.Key("rowsmeta.measurements.total")
	RowsMetaMeasurementsDropped = metricz.Key("rowsmeta.measurements.dropped")
	RowsMetaPageHeight          = metricz.Key("rowsmeta.page_height")

	// Spans.
	RowsMetaHydrateSpan = tracez.Key("rowsmeta.hydrate")

	// Tags.
	RowsMetaTagRows   = tracez.Tag("rowsmeta.rows")
	RowsMetaTagHeight = tracez.Tag("rowsmeta.height")
)

// Named height components. Keys starting with "base" compete (the largest
// wins); every other key is added on top.
const (
	SizeBaseCenter    = "baseCenter"
	SizeBaseTop       = "baseTop"
	SizeBaseBottom    = "baseBottom"
	SizeSpacingTop    = "spacingTop"
	SizeSpacingBottom = "spacingBottom"
	SizeDetailPanel   = "detailPanel"
)

// Measurement positions accepted by StoreRowHeightMeasurement.
const (
	PositionCenter = "center"
	PositionTop    = "top"
	PositionBottom = "bottom"
)

// ClassDynamicHeight is added to auto-height rows.
const ClassDynamicHeight = "row--dynamicHeight"

// AllRowsMeasured is the watermark once no row waits for a measurement.
const AllRowsMeasured = math.MaxInt

// HeightSizes maps height component names to pixels.
type HeightSizes map[string]float64

// Total is the largest base component plus the sum of the others.
func (s HeightSizes) Total() float64 {
	var base, other float64
	for k, v := range s {
		if isBaseSize(k) {
			base = math.Max(base, v)
			continue
		}
		other += v
	}
	return base + other
}

func isBaseSize(key string) bool {
	rest, ok := strings.CutPrefix(key, "base")
	return ok && rest != "" && rest[0] >= 'A' && rest[0] <= 'Z'
}

// HeightEntry is the cached height state of one row.
type HeightEntry struct {
	Sizes HeightSizes
	// IsResized freezes baseCenter after SetRowHeight.
	IsResized bool
	// AutoHeight rows are sized by measurement.
	AutoHeight bool
	// NeedsFirstMeasurement is true while baseCenter holds an estimate.
	NeedsFirstMeasurement bool
}

func (e HeightEntry) clone() HeightEntry {
	e.Sizes = maps.Clone(e.Sizes)
	return e
}

// Pinned positions of a row.
const (
	PinnedNone   = ""
	PinnedTop    = "top"
	PinnedBottom = "bottom"
)

// RowEntry is handed to rowHeight processors.
type RowEntry struct {
	Row     Row
	ID      RowID
	Pinned  string
	Density Density
	// Index is the row's position on the current page, -1 for pinned rows.
	Index int
}

// RowsMeta is the vertical layout of the current page.
type RowsMeta struct {
	// Positions holds the top offset of every row on the page.
	Positions              []float64 `yaml:"positions"`
	CurrentPageTotalHeight float64   `yaml:"currentPageTotalHeight"`
	PinnedTopHeight        float64   `yaml:"pinnedTopHeight,omitempty"`
	PinnedBottomHeight     float64   `yaml:"pinnedBottomHeight,omitempty"`
}

// RowHeightParams describe the row a provider is asked about.
type RowHeightParams struct {
	Row           Row
	ID            RowID
	Density       Density
	DensityFactor float64
	// BaseHeight is the density-scaled default row height.
	BaseHeight float64
}

// RowHeight is a provider's answer: a fixed height, auto or nothing.
type RowHeight struct {
	value float64
	auto  bool
}

// AutoRowHeight asks for the row to be measured.
var AutoRowHeight = RowHeight{auto: true}

// FixedRowHeight returns a fixed height in pixels.
func FixedRowHeight(px float64) RowHeight {
	return RowHeight{value: px}
}

// IsAuto reports whether the row is measured.
func (h RowHeight) IsAuto() bool { return h.auto }

// Fixed returns the fixed height, if any.
func (h RowHeight) Fixed() (float64, bool) {
	return h.value, !h.auto && h.value > 0
}

// RowHeightProvider decides the height of each row.
type RowHeightProvider interface {
	RowHeight(RowHeightParams) RowHeight
}

// RowHeightFunc adapts a function to RowHeightProvider.
type RowHeightFunc func(RowHeightParams) RowHeight

// RowHeight implements RowHeightProvider.
func (f RowHeightFunc) RowHeight(p RowHeightParams) RowHeight { return f(p) }

type noRowHeight struct{}

func (noRowHeight) RowHeight(RowHeightParams) RowHeight { return RowHeight{} }

// NoRowHeight leaves every row at the density-derived height.
var NoRowHeight RowHeightProvider = noRowHeight{}

// EstimatedRowHeightProvider estimates auto-height rows before their first
// measurement. Zero means no estimate.
type EstimatedRowHeightProvider interface {
	EstimatedRowHeight(RowHeightParams) float64
}

// EstimatedRowHeightFunc adapts a function to EstimatedRowHeightProvider.
type EstimatedRowHeightFunc func(RowHeightParams) float64

// EstimatedRowHeight implements EstimatedRowHeightProvider.
func (f EstimatedRowHeightFunc) EstimatedRowHeight(p RowHeightParams) float64 { return f(p) }

type noEstimate struct{}

func (noEstimate) EstimatedRowHeight(RowHeightParams) float64 { return 0 }

// NoEstimatedRowHeight falls back to Config.EstimatedRowHeight.
var NoEstimatedRowHeight EstimatedRowHeightProvider = noEstimate{}

// RowSpacingParams locate a row on the page.
type RowSpacingParams struct {
	Row            Row
	ID             RowID
	Index          int
	IsFirstVisible bool
	IsLastVisible  bool
}

// RowSpacing is extra space above and below a row.
type RowSpacing struct {
	Top    float64
	Bottom float64
}

// RowSpacingProvider adds spacing around rows.
type RowSpacingProvider interface {
	RowSpacing(RowSpacingParams) RowSpacing
}

// RowSpacingFunc adapts a function to RowSpacingProvider.
type RowSpacingFunc func(RowSpacingParams) RowSpacing

// RowSpacing implements RowSpacingProvider.
func (f RowSpacingFunc) RowSpacing(p RowSpacingParams) RowSpacing { return f(p) }

type noRowSpacing struct{}

func (noRowSpacing) RowSpacing(RowSpacingParams) RowSpacing { return RowSpacing{} }

// NoRowSpacing adds no spacing and no spacing keys.
var NoRowSpacing RowSpacingProvider = noRowSpacing{}

// RowsMetaFeature computes row heights and vertical positions, and caches
// heights measured by the renderer.
type RowsMetaFeature struct {
	grid      *Grid
	lookup    map[RowID]HeightEntry
	heights   RowHeightProvider
	estimator EstimatedRowHeightProvider
	spacing   RowSpacingProvider
	debounce  *debouncer
	metrics   *metricz.Registry
	tracer    *tracez.Tracer
	cfg       Config
	revs      map[RowID]uint64
	watermark int
	tickets   uint64
	committed uint64
	resets    uint64
	mu        sync.Mutex
	hasAuto   bool
}

func newRowsMetaFeature(cfg Config) *RowsMetaFeature {
	metrics := metricz.New()
	metrics.Counter(RowsMetaHydrationsTotal)
	metrics.Counter(RowsMetaMeasurementsTotal)
	metrics.Counter(RowsMetaMeasurementsDropped)
	metrics.Gauge(RowsMetaPageHeight)

	return &RowsMetaFeature{
		lookup:    make(map[RowID]HeightEntry),
		revs:      make(map[RowID]uint64),
		heights:   NoRowHeight,
		estimator: NoEstimatedRowHeight,
		spacing:   NoRowSpacing,
		metrics:   metrics,
		tracer:    tracez.New(),
		cfg:       cfg,
		watermark: -1,
	}
}

// Name implements Feature.
func (*RowsMetaFeature) Name() string { return FeatureRowsMeta }

// Requires implements Feature.
func (*RowsMetaFeature) Requires() []string { return []string{FeatureColumns, FeatureRows} }

// Attach implements Feature.
func (m *RowsMetaFeature) Attach(_ context.Context, g *Grid) error {
	m.mu.Lock()
	m.grid = g
	m.debounce = newDebouncer(g.Clock(), m.cfg.MeasurementDebounce, func() {
		if err := m.HydrateRowsMeta(context.Background()); err != nil {
			g.Logger().Error("debounced rows meta hydration failed", "err", err)
		}
	})
	m.mu.Unlock()

	rehydrate := func(ctx context.Context, ev Event) {
		if !g.isMounted() {
			return
		}
		if err := m.HydrateRowsMeta(ctx); err != nil {
			g.Logger().Error("rows meta hydration failed", "trigger", ev.Name, "err", err)
		}
	}
	for _, key := range []EventKey{
		EventDensityChange,
		EventRowsSet,
		EventPinnedRowsChange,
		EventSortModelChange,
		EventFilterModelChange,
		EventPaginationModelChange,
		EventColumnsChange,
	} {
		g.store.Listen(key, rehydrate)
	}

	reg := g.Registry()
	reg.RegisterApplier(PointRowHeight, FeatureRowsMeta, func() {
		rehydrate(context.Background(), Event{Name: EventKey(PointRowHeight)})
	})
	RegisterProcessor(reg, RowClassNamePipe, FeatureRowsMeta, Transform(func(classes []string, id RowID) []string {
		m.mu.Lock()
		auto := m.lookup[id].AutoHeight
		m.mu.Unlock()
		if auto {
			return append(classes, ClassDynamicHeight)
		}
		return classes
	}))
	return nil
}

// Hydrate implements hydrator.
func (m *RowsMetaFeature) Hydrate(ctx context.Context) error {
	return m.HydrateRowsMeta(ctx)
}

// Metrics returns the feature's metrics.
func (m *RowsMetaFeature) Metrics() *metricz.Registry { return m.metrics }

// Tracer returns the feature's tracer.
func (m *RowsMetaFeature) Tracer() *tracez.Tracer { return m.tracer }

func (m *RowsMetaFeature) setRowHeightProvider(p RowHeightProvider) {
	if p == nil {
		p = NoRowHeight
	}
	m.mu.Lock()
	m.heights = p
	m.mu.Unlock()
	m.rehydrateIfMounted()
}

func (m *RowsMetaFeature) setEstimator(p EstimatedRowHeightProvider) {
	if p == nil {
		p = NoEstimatedRowHeight
	}
	m.mu.Lock()
	m.estimator = p
	m.mu.Unlock()
}

func (m *RowsMetaFeature) setSpacingProvider(p RowSpacingProvider) {
	if p == nil {
		p = NoRowSpacing
	}
	m.mu.Lock()
	m.spacing = p
	m.mu.Unlock()
	m.rehydrateIfMounted()
}

func (m *RowsMetaFeature) rehydrateIfMounted() {
	m.mu.Lock()
	g := m.grid
	m.mu.Unlock()
	if g == nil || !g.isMounted() {
		return
	}
	if err := m.HydrateRowsMeta(context.Background()); err != nil {
		g.Logger().Error("rows meta hydration failed", "err", err)
	}
}

// HydrateRowsMeta recomputes the height of every row on the current page
// and of the pinned rows, then the page positions and total height.
//
// A resized row keeps its baseCenter. An auto-height row uses the estimate
// until it is measured and the last measurement after. Other rows use the
// provider's height or the density-derived default. Spacing is added and
// the rowHeight pipe folded over each row's sizes. Nothing is committed
// when a processor fails.
//
// Providers and processors run without the feature lock held, so they may
// read the feature. Concurrent hydrations are ordered by when they started:
// one that finishes after a later one has committed, or after
// ResetRowHeights, is dropped.
func (m *RowsMetaFeature) HydrateRowsMeta(ctx context.Context) error {
	m.mu.Lock()
	g := m.grid
	if g == nil {
		m.mu.Unlock()
		return fmt.Errorf("hydrate rows meta: %w", ErrNotMounted)
	}
	snap := m.snapshot()
	m.mu.Unlock()

	ctx, span := m.tracer.StartSpan(ctx, RowsMetaHydrateSpan)
	defer span.Finish()

	// Inputs are read after the ticket is taken so a later ticket never
	// sees older rows.
	page := g.rows.VisibleRows()
	pinned := g.rows.PinnedRows()
	density := g.store.GetState().Density

	pass, err := snap.run(ctx, g, page, pinned, density)
	if err != nil {
		span.SetTag(PipeTagError, err.Error())
		return fmt.Errorf("hydrate rows meta: %w", err)
	}
	if !m.commit(g, snap, pass) {
		g.Logger().Debug("stale rows meta hydration dropped", "ticket", snap.ticket)
		return nil
	}
	meta := pass.meta

	m.metrics.Counter(RowsMetaHydrationsTotal).Inc()
	m.metrics.Gauge(RowsMetaPageHeight).Set(meta.CurrentPageTotalHeight)
	span.SetTag(RowsMetaTagRows, strconv.Itoa(len(page)))
	span.SetTag(RowsMetaTagHeight, strconv.FormatFloat(meta.CurrentPageTotalHeight, 'f', -1, 64))
	g.Logger().Debug("rows meta hydrated", "rows", len(page), "height", meta.CurrentPageTotalHeight)

	g.store.ForceUpdate(ctx)
	g.store.Publish(ctx, EventRowsMetaChange, Event{Payload: meta})
	return nil
}

// hydration is the input of one hydration, copied under the feature lock.
type hydration struct {
	lookup    map[RowID]HeightEntry
	revs      map[RowID]uint64
	heights   RowHeightProvider
	estimator EstimatedRowHeightProvider
	spacing   RowSpacingProvider
	rowHeight float64
	estimated float64
	ticket    uint64
	resets    uint64
}

// hydrationPass is what a hydration computed, waiting to be committed.
type hydrationPass struct {
	staged  map[RowID]HeightEntry
	meta    RowsMeta
	hasAuto bool
}

// snapshot takes a ticket and copies the inputs of a hydration. Callers
// hold m.mu. Entries are copy-on-write, so a shallow copy of the lookup is
// enough.
func (m *RowsMetaFeature) snapshot() *hydration {
	m.tickets++
	return &hydration{
		lookup:    maps.Clone(m.lookup),
		revs:      maps.Clone(m.revs),
		heights:   m.heights,
		estimator: m.estimator,
		spacing:   m.spacing,
		rowHeight: m.cfg.RowHeight,
		estimated: m.cfg.EstimatedRowHeight,
		ticket:    m.tickets,
		resets:    m.resets,
	}
}

func (h *hydration) run(ctx context.Context, g *Grid, page []Row, pinned PinnedRows, density Density) (*hydrationPass, error) {
	base := h.rowHeight * density.Factor()
	pass := &hydrationPass{staged: make(map[RowID]HeightEntry, len(page)+pinned.len())}

	size := func(row Row, index int, where string) (HeightSizes, error) {
		entry, ok := pass.staged[row.ID]
		if !ok {
			entry, ok = h.lookup[row.ID]
			entry = entry.clone()
		}
		if !ok {
			entry = HeightEntry{Sizes: HeightSizes{SizeBaseCenter: base}, NeedsFirstMeasurement: true}
		}
		params := RowHeightParams{Row: row, ID: row.ID, Density: density, DensityFactor: density.Factor(), BaseHeight: base}

		height := base
		switch answer := h.heights.RowHeight(params); {
		case entry.IsResized:
			height = entry.Sizes[SizeBaseCenter]
		case answer.IsAuto():
			if entry.NeedsFirstMeasurement {
				height = h.estimate(params)
			} else {
				height = entry.Sizes[SizeBaseCenter]
			}
			entry.AutoHeight = true
			pass.hasAuto = true
		default:
			if fixed, ok := answer.Fixed(); ok {
				height = fixed
			}
			entry.AutoHeight = false
			entry.NeedsFirstMeasurement = false
		}

		sizes := HeightSizes{}
		for k, v := range entry.Sizes {
			if isBaseSize(k) {
				sizes[k] = v
			}
		}
		sizes[SizeBaseCenter] = height

		if _, none := h.spacing.(noRowSpacing); !none && where == PinnedNone {
			sp := h.spacing.RowSpacing(RowSpacingParams{
				Row:            row,
				ID:             row.ID,
				Index:          index,
				IsFirstVisible: index == 0,
				IsLastVisible:  index == len(page)-1,
			})
			sizes[SizeSpacingTop] = sp.Top
			sizes[SizeSpacingBottom] = sp.Bottom
		}

		sizes, err := ApplyProcessors(ctx, g.registry, RowHeightPipe, sizes, RowEntry{
			Row:     row,
			ID:      row.ID,
			Pinned:  where,
			Density: density,
			Index:   index,
		})
		if err != nil {
			return nil, err
		}
		entry.Sizes = sizes
		pass.staged[row.ID] = entry
		return sizes, nil
	}

	meta := RowsMeta{Positions: make([]float64, 0, len(page))}
	for i, row := range page {
		meta.Positions = append(meta.Positions, meta.CurrentPageTotalHeight)
		sizes, err := size(row, i, PinnedNone)
		if err != nil {
			return nil, err
		}
		meta.CurrentPageTotalHeight += sizes.Total()
	}
	for _, row := range pinned.Top {
		sizes, err := size(row, -1, PinnedTop)
		if err != nil {
			return nil, err
		}
		meta.PinnedTopHeight += sizes.Total()
	}
	for _, row := range pinned.Bottom {
		sizes, err := size(row, -1, PinnedBottom)
		if err != nil {
			return nil, err
		}
		meta.PinnedBottomHeight += sizes.Total()
	}
	pass.meta = meta
	return pass, nil
}

func (h *hydration) estimate(params RowHeightParams) float64 {
	if v := h.estimator.EstimatedRowHeight(params); v > 0 {
		return v
	}
	if h.estimated > 0 {
		return h.estimated
	}
	return params.BaseHeight
}

// commit stores a finished hydration unless a later one already committed
// or the cache was reset since it started. Entries written by a measurement
// or SetRowHeight while it ran are left alone; the write that changed them
// brings its own hydration.
func (m *RowsMetaFeature) commit(g *Grid, h *hydration, pass *hydrationPass) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ticket < m.committed || h.resets != m.resets {
		return false
	}
	m.committed = h.ticket

	for id, entry := range pass.staged {
		if m.revs[id] != h.revs[id] {
			continue
		}
		m.lookup[id] = entry
	}
	m.hasAuto = pass.hasAuto
	switch {
	case !pass.hasAuto:
		m.watermark = AllRowsMeasured
	case m.watermark == AllRowsMeasured:
		m.watermark = -1
	}

	g.store.SetState(func(s State) State {
		s.RowsMeta = pass.meta
		return s
	})
	return true
}

// StoreRowHeightMeasurement records a rendered height for an auto-height
// row at position (center, top or bottom). Measurements for rows that are
// not tracked or not auto-height are ignored. A changed value schedules a
// debounced hydration; measurements arriving within one quiet window
// produce a single hydration.
func (m *RowsMetaFeature) StoreRowHeightMeasurement(id RowID, height float64, position string) {
	m.metrics.Counter(RowsMetaMeasurementsTotal).Inc()
	if position == "" {
		position = PositionCenter
	}
	key := "base" + strings.ToUpper(position[:1]) + position[1:]

	m.mu.Lock()
	entry, ok := m.lookup[id]
	if !ok || !entry.AutoHeight || math.IsNaN(height) || height < 0 {
		d := m.debounce
		g := m.grid
		m.mu.Unlock()
		m.metrics.Counter(RowsMetaMeasurementsDropped).Inc()
		if g != nil && d != nil {
			g.Logger().Debug("measurement dropped", "row", id, "height", height)
		}
		return
	}
	entry = entry.clone()
	current, had := entry.Sizes[key]
	entry.NeedsFirstMeasurement = false
	entry.Sizes[key] = height
	m.lookup[id] = entry
	m.revs[id]++
	d := m.debounce
	m.mu.Unlock()

	if (!had || current != height) && d != nil {
		d.Schedule()
	}
}

// SetRowHeight fixes the height of a tracked row and recomputes the layout
// immediately. Later hydrations keep this height.
func (m *RowsMetaFeature) SetRowHeight(ctx context.Context, id RowID, height float64) error {
	if height <= 0 || math.IsNaN(height) || math.IsInf(height, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidHeight, height)
	}
	m.mu.Lock()
	entry, ok := m.lookup[id]
	if !ok {
		m.mu.Unlock()
		return &NotFoundError{Kind: "row", ID: string(id)}
	}
	entry = entry.clone()
	entry.Sizes[SizeBaseCenter] = height
	entry.IsResized = true
	entry.NeedsFirstMeasurement = false
	m.lookup[id] = entry
	m.revs[id]++
	m.mu.Unlock()

	return m.HydrateRowsMeta(ctx)
}

// RowHeight returns the total height of a tracked row.
func (m *RowsMetaFeature) RowHeight(id RowID) (float64, error) {
	entry, err := m.RowEntry(id)
	if err != nil {
		return 0, err
	}
	return entry.Sizes.Total(), nil
}

// RowEntry returns a copy of the cached height entry of a row.
func (m *RowsMetaFeature) RowEntry(id RowID) (HeightEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookup[id]
	if !ok {
		return HeightEntry{}, &NotFoundError{Kind: "row", ID: string(id)}
	}
	return entry.clone(), nil
}

// LastMeasuredRowIndex returns how far down the page heights are known.
// It is AllRowsMeasured when no row is auto-height.
func (m *RowsMetaFeature) LastMeasuredRowIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark
}

// SetLastMeasuredRowIndex advances the watermark. It never moves back and
// does nothing while no row is auto-height.
func (m *RowsMetaFeature) SetLastMeasuredRowIndex(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasAuto && index > m.watermark {
		m.watermark = index
	}
}

// ResetRowHeights clears the height cache, drops any pending debounced
// hydration and recomputes from scratch.
func (m *RowsMetaFeature) ResetRowHeights(ctx context.Context) error {
	m.mu.Lock()
	m.lookup = make(map[RowID]HeightEntry)
	m.revs = make(map[RowID]uint64)
	m.resets++
	m.watermark = -1
	d := m.debounce
	m.mu.Unlock()
	if d != nil {
		d.Cancel()
	}
	return m.HydrateRowsMeta(ctx)
}

// RowsMeta returns the committed page layout.
func (m *RowsMetaFeature) RowsMeta() RowsMeta {
	m.mu.Lock()
	g := m.grid
	m.mu.Unlock()
	if g == nil {
		return RowsMeta{}
	}
	return g.store.GetState().RowsMeta
}

// FlushMeasurements runs a pending debounced hydration now. It reports
// whether one was pending.
func (m *RowsMetaFeature) FlushMeasurements() bool {
	m.mu.Lock()
	d := m.debounce
	m.mu.Unlock()
	return d != nil && d.Flush()
}

// MeasurementPending reports whether a debounced hydration is scheduled.
func (m *RowsMetaFeature) MeasurementPending() bool {
	m.mu.Lock()
	d := m.debounce
	m.mu.Unlock()
	return d != nil && d.Pending()
}

func (m *RowsMetaFeature) stop() {
	m.mu.Lock()
	d := m.debounce
	m.mu.Unlock()
	if d != nil {
		d.Stop()
	}
	if m.tracer != nil {
		m.tracer.Close()
	}
}
