package gridz

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
)

// EventKey names an event on the store's bus.
type EventKey = hookz.Key

// Event keys published on the store's bus.
const (
	EventColumnsChange               = hookz.Key("columns.change")
	EventColumnVisibilityModelChange = hookz.Key("columns.visibility_model_change")
	EventColumnIndexChange           = hookz.Key("columns.index_change")
	EventColumnWidthChange           = hookz.Key("columns.width_change")
	EventColumnLayoutChange          = hookz.Key("columns.layout_change")
	EventRowsSet                     = hookz.Key("rows.set")
	EventPinnedRowsChange            = hookz.Key("rows.pinned_change")
	EventSortModelChange             = hookz.Key("rows.sort_model_change")
	EventFilterModelChange           = hookz.Key("rows.filter_model_change")
	EventPaginationModelChange       = hookz.Key("rows.pagination_model_change")
	EventDensityChange               = hookz.Key("density.change")
	EventRowsMetaChange              = hookz.Key("rowsmeta.change")
	EventDetailPanelsExpandedChange  = hookz.Key("detailpanel.expanded_change")
	EventAggregationModelChange      = hookz.Key("aggregation.model_change")
	EventPreferencePanelChange       = hookz.Key("preferences.change")
	EventStateRestored               = hookz.Key("state.restored")
	EventRender                      = hookz.Key("render")
)

// Event is the payload delivered to bus subscribers.
type Event struct {
	Timestamp time.Time
	Payload   any
	Name      hookz.Key
	GridID    string
	Field     string
	RowID     RowID
}

// State is the grid's state tree. It is replaced wholesale on every update;
// maps and slices reachable from a State handed out by GetState must be
// treated as read-only.
type State struct {
	Columns         ColumnsState
	RowsMeta        RowsMeta
	Sorting         SortModel
	Filter          FilterModel
	Pagination      PaginationModel
	DetailPanel     DetailPanelState
	Aggregation     AggregationModel
	PreferencePanel PreferencePanelState
	Density         Density
}

// Store holds the state tree and the event bus.
//
// Listeners added with Listen run synchronously, in registration order, on
// the goroutine that publishes. They are how features react to each other
// within one notification turn. Handlers added with On are delivered through
// hookz and run asynchronously; they are meant for the outside world
// (renderers, persistence, logging).
type Store struct {
	listeners map[hookz.Key][]func(context.Context, Event)
	hooks     *hookz.Hooks[Event]
	gridID    string
	state     State
	renders   uint64
	mu        sync.RWMutex
	listenMu  sync.RWMutex
}

// NewStore creates a store seeded with initial.
func NewStore(gridID string, initial State) *Store {
	return &Store{
		listeners: make(map[hookz.Key][]func(context.Context, Event)),
		hooks:     hookz.New[Event](),
		gridID:    gridID,
		state:     initial,
	}
}

// GetState returns the current state tree.
func (s *Store) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState replaces the state tree with update(current). update runs under
// the store lock and must not call back into the store.
func (s *Store) SetState(update func(State) State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = update(s.state)
}

// ForceUpdate asks subscribers to re-render.
func (s *Store) ForceUpdate(ctx context.Context) {
	s.mu.Lock()
	s.renders++
	n := s.renders
	s.mu.Unlock()
	s.Publish(ctx, EventRender, Event{Payload: n})
}

// Renders returns how many times ForceUpdate has been called.
func (s *Store) Renders() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renders
}

// Listen adds a synchronous listener for key.
func (s *Store) Listen(key hookz.Key, fn func(context.Context, Event)) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listeners[key] = append(slices.Clone(s.listeners[key]), fn)
}

// On registers an asynchronous handler for key.
func (s *Store) On(key hookz.Key, handler func(context.Context, Event) error) error {
	_, err := s.hooks.Hook(key, handler)
	return err
}

// Publish delivers ev to the synchronous listeners of key and then emits it
// to the asynchronous handlers.
func (s *Store) Publish(ctx context.Context, key hookz.Key, ev Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	ev.Name = key
	ev.GridID = s.gridID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	s.listenMu.RLock()
	listeners := s.listeners[key]
	s.listenMu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, ev)
	}

	_ = s.hooks.Emit(ctx, key, ev) //nolint:errcheck
}

// Close shuts down the asynchronous bus.
func (s *Store) Close() error {
	s.hooks.Close()
	return nil
}
