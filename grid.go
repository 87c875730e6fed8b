package gridz

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Grid.
const (
	// Metrics.
	GridFeaturesAttached = metricz.Key("grid.features.attached")
	GridExportsTotal     = metricz.Key("grid.exports.total")
	GridRestoresTotal    = metricz.Key("grid.restores.total")

	// Spans.
	GridMountSpan   = tracez.Key("grid.mount")
	GridExportSpan  = tracez.Key("grid.export")
	GridRestoreSpan = tracez.Key("grid.restore")

	// Tags.
	GridTagID      = tracez.Tag("grid.id")
	GridTagFeature = tracez.Tag("grid.feature")
)

// Built-in feature names.
const (
	FeatureColumns     = "columns"
	FeatureRows        = "rows"
	FeatureRowsMeta    = "rowsMeta"
	FeaturePreferences = "preferences"
	FeatureDetailPanel = "detailPanel"
	FeatureAggregation = "aggregation"
)

// Feature is a unit of grid behaviour. Requires names the features that
// must be attached first; Attach registers the feature's processors,
// appliers and listeners.
type Feature interface {
	Name() string
	Requires() []string
	Attach(ctx context.Context, g *Grid) error
}

// hydrator is implemented by features that derive state on mount.
type hydrator interface {
	Hydrate(ctx context.Context) error
}

// Grid is one data grid instance. It owns the store, the processor registry
// and the clock, logger, metrics and tracer its features share; nothing is
// shared between grids.
//
// A grid is configured with the With* methods and Use, then Mount attaches
// every feature in prerequisite order and runs the first hydration.
//
// Example:
//
//	g := gridz.New(gridz.DefaultConfig()).
//	    WithLogger(logger).
//	    WithRowHeight(gridz.RowHeightFunc(func(p gridz.RowHeightParams) gridz.RowHeight {
//	        return gridz.AutoRowHeight
//	    })).
//	    Use(gridz.NewDetailPanel(content, nil))
//	if err := g.Mount(ctx); err != nil {
//	    return err
//	}
//	_ = g.Columns().SetColumns(ctx, cols)
type Grid struct {
	clock    clockz.Clock
	logger   *log.Logger
	store    *Store
	registry *Registry
	metrics  *metricz.Registry
	tracer   *tracez.Tracer
	columns  *ColumnsFeature
	rows     *RowsFeature
	rowsMeta *RowsMetaFeature
	prefs    *PreferencesFeature
	attached map[string]Feature
	id       string
	features []Feature
	queued   []Feature
	cfg      Config
	mu       sync.RWMutex
	mounted  bool
	closed   bool
}

// New creates an unmounted grid.
func New(cfg Config) *Grid {
	cfg = cfg.withDefaults()
	id := uuid.NewString()

	metrics := metricz.New()
	metrics.Gauge(GridFeaturesAttached)
	metrics.Counter(GridExportsTotal)
	metrics.Counter(GridRestoresTotal)

	logger := log.New(io.Discard)

	g := &Grid{
		id:       id,
		cfg:      cfg,
		clock:    clockz.RealClock,
		logger:   logger,
		store:    NewStore(id, State{Density: cfg.Density}),
		registry: NewRegistry().WithFaultPolicy(cfg.FaultPolicy).WithLogger(logger),
		metrics:  metrics,
		tracer:   tracez.New(),
		attached: make(map[string]Feature),
	}
	g.columns = newColumnsFeature(cfg)
	g.rows = newRowsFeature(cfg)
	g.rowsMeta = newRowsMetaFeature(cfg)
	g.prefs = newPreferencesFeature()
	return g
}

// WithClock sets the clock used for debounced work. Call before Mount.
func (g *Grid) WithClock(clock clockz.Clock) *Grid {
	g.mu.Lock()
	defer g.mu.Unlock()
	if clock != nil {
		g.clock = clock
	}
	return g
}

// WithLogger sets the logger shared by every feature.
func (g *Grid) WithLogger(logger *log.Logger) *Grid {
	g.mu.Lock()
	defer g.mu.Unlock()
	if logger != nil {
		g.logger = logger.With("grid", g.id[:8])
		g.registry.WithLogger(g.logger)
	}
	return g
}

// WithRowHeight sets the row height capability.
func (g *Grid) WithRowHeight(p RowHeightProvider) *Grid {
	g.rowsMeta.setRowHeightProvider(p)
	return g
}

// WithEstimatedRowHeight sets the capability that estimates auto-height
// rows before their first measurement.
func (g *Grid) WithEstimatedRowHeight(p EstimatedRowHeightProvider) *Grid {
	g.rowsMeta.setEstimator(p)
	return g
}

// WithRowSpacing sets the row spacing capability.
func (g *Grid) WithRowSpacing(p RowSpacingProvider) *Grid {
	g.rowsMeta.setSpacingProvider(p)
	return g
}

// Use adds a feature. Before Mount the feature is queued and attached after
// the built-in features; after Mount it is attached immediately.
func (g *Grid) Use(f Feature) *Grid {
	g.mu.Lock()
	mounted := g.mounted
	if !mounted {
		g.queued = append(g.queued, f)
	}
	g.mu.Unlock()

	if mounted {
		if err := g.attach(context.Background(), f); err != nil {
			g.logger.Error("attach failed", "feature", f.Name(), "err", err)
		}
	}
	return g
}

// Attach adds a feature to a mounted grid and reports prerequisite errors.
func (g *Grid) Attach(ctx context.Context, f Feature) error {
	if err := g.attach(ctx, f); err != nil {
		return err
	}
	if h, ok := f.(hydrator); ok && g.isMounted() {
		return h.Hydrate(ctx)
	}
	return nil
}

// Mount attaches every feature, restores the configured initial state and
// runs the first hydration.
func (g *Grid) Mount(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.mounted {
		g.mu.Unlock()
		return nil
	}
	queued := g.queued
	g.queued = nil
	g.mu.Unlock()

	ctx, span := g.tracer.StartSpan(ctx, GridMountSpan)
	span.SetTag(GridTagID, g.id)
	defer span.Finish()

	features := append([]Feature{g.columns, g.rows, g.rowsMeta, g.prefs}, queued...)
	for _, f := range features {
		if err := g.attach(ctx, f); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.mounted = true
	g.mu.Unlock()

	if g.cfg.InitialState != nil {
		if err := g.RestoreState(ctx, *g.cfg.InitialState); err != nil {
			return fmt.Errorf("restore initial state: %w", err)
		}
	}

	g.mu.RLock()
	attached := slices.Clone(g.features)
	g.mu.RUnlock()
	for _, f := range attached {
		h, ok := f.(hydrator)
		if !ok {
			continue
		}
		if err := h.Hydrate(ctx); err != nil {
			return fmt.Errorf("hydrate %s: %w", f.Name(), err)
		}
	}
	g.logger.Debug("grid mounted", "features", len(attached))
	return nil
}

func (g *Grid) attach(ctx context.Context, f Feature) error {
	g.mu.Lock()
	if _, dup := g.attached[f.Name()]; dup {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateFeature, f.Name())
	}
	for _, req := range f.Requires() {
		if _, ok := g.attached[req]; !ok {
			g.mu.Unlock()
			return fmt.Errorf("%w: %s requires %s", ErrMissingPrerequisite, f.Name(), req)
		}
	}
	g.attached[f.Name()] = f
	g.features = append(g.features, f)
	n := len(g.features)
	g.mu.Unlock()

	if err := f.Attach(ctx, g); err != nil {
		g.mu.Lock()
		delete(g.attached, f.Name())
		g.features = slices.DeleteFunc(g.features, func(x Feature) bool { return x == f })
		g.mu.Unlock()
		return fmt.Errorf("attach %s: %w", f.Name(), err)
	}
	g.metrics.Gauge(GridFeaturesAttached).Set(float64(n))
	g.logger.Debug("feature attached", "feature", f.Name())
	return nil
}

func (g *Grid) isMounted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mounted && !g.closed
}

// Feature returns the attached feature named name.
func (g *Grid) Feature(name string) (Feature, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.attached[name]
	if !ok {
		return nil, &NotFoundError{Kind: "feature", ID: name}
	}
	return f, nil
}

// Features returns the attached feature names in attach order.
func (g *Grid) Features() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.features))
	for i, f := range g.features {
		names[i] = f.Name()
	}
	return names
}

// ID returns the grid's instance id.
func (g *Grid) ID() string { return g.id }

// Config returns the configuration the grid was created with.
func (g *Grid) Config() Config { return g.cfg }

// Store returns the state store.
func (g *Grid) Store() *Store { return g.store }

// Registry returns the processor registry.
func (g *Grid) Registry() *Registry { return g.registry }

// Clock returns the grid's clock.
func (g *Grid) Clock() clockz.Clock {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clock
}

// Logger returns the grid's logger.
func (g *Grid) Logger() *log.Logger {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.logger
}

// Metrics returns the grid-level metrics registry.
func (g *Grid) Metrics() *metricz.Registry { return g.metrics }

// Tracer returns the grid-level tracer.
func (g *Grid) Tracer() *tracez.Tracer { return g.tracer }

// Columns returns the columns feature.
func (g *Grid) Columns() *ColumnsFeature { return g.columns }

// Rows returns the rows feature.
func (g *Grid) Rows() *RowsFeature { return g.rows }

// RowsMeta returns the rows meta feature.
func (g *Grid) RowsMeta() *RowsMetaFeature { return g.rowsMeta }

// Preferences returns the preference panel feature.
func (g *Grid) Preferences() *PreferencesFeature { return g.prefs }

// On subscribes handler to an event on the grid's bus.
func (g *Grid) On(key EventKey, handler func(context.Context, Event) error) error {
	return g.store.On(key, handler)
}

// SetDensity changes the density and recomputes row heights.
func (g *Grid) SetDensity(ctx context.Context, d Density) error {
	if _, err := ParseDensity(string(d)); err != nil {
		return err
	}
	prev := g.store.GetState().Density
	if prev == d {
		return nil
	}
	g.store.SetState(func(s State) State {
		s.Density = d
		return s
	})
	g.store.Publish(ctx, EventDensityChange, Event{Payload: d})
	return nil
}

// ExportState folds the exportState pipe into a snapshot.
func (g *Grid) ExportState(ctx context.Context, params ExportStateParams) (InitialState, error) {
	ctx, span := g.tracer.StartSpan(ctx, GridExportSpan)
	defer span.Finish()
	g.metrics.Counter(GridExportsTotal).Inc()

	st, err := ApplyProcessors(ctx, g.registry, ExportStatePipe, InitialState{}, params)
	if err != nil {
		return InitialState{}, fmt.Errorf("export state: %w", err)
	}
	if !params.ExportOnlyDirtyModels || g.store.GetState().Density != DensityStandard {
		st.Density = g.store.GetState().Density
	}
	return st, nil
}

// RestoreState folds the restoreState pipe over st and then runs the
// callbacks the processors deferred, in order.
func (g *Grid) RestoreState(ctx context.Context, st InitialState) error {
	ctx, span := g.tracer.StartSpan(ctx, GridRestoreSpan)
	defer span.Finish()
	g.metrics.Counter(GridRestoresTotal).Inc()

	res, err := ApplyProcessors(ctx, g.registry, RestoreStatePipe, RestoreStateResult{}, RestoreStateContext{State: st})
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if st.Density != "" {
		if err := g.SetDensity(ctx, st.Density); err != nil {
			return fmt.Errorf("restore state: %w", err)
		}
	}
	for _, cb := range res.Callbacks {
		if err := cb(ctx); err != nil {
			return fmt.Errorf("restore state: %w", err)
		}
	}
	g.store.Publish(ctx, EventStateRestored, Event{Payload: st})
	return nil
}

// PreferencePanelContent returns the content of the open preference panel.
func (g *Grid) PreferencePanelContent(ctx context.Context) (PanelContent, error) {
	return g.prefs.Content(ctx)
}

// RowClassNames folds the rowClassName pipe for id.
func (g *Grid) RowClassNames(ctx context.Context, id RowID) ([]string, error) {
	return ApplyProcessors(ctx, g.registry, RowClassNamePipe, []string{}, id)
}

// Close stops debounced work and shuts down the bus and tracers. A closed
// grid cannot be mounted again.
func (g *Grid) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.rowsMeta.stop()
	_ = g.store.Close() //nolint:errcheck
	_ = g.registry.Close()
	if g.tracer != nil {
		g.tracer.Close()
	}
	return nil
}
