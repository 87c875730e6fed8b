package gridz

import (
	"context"
	"sync"
)

// PanelValue names the preference panel a user asked for.
type PanelValue string

// Panel values.
const (
	PanelColumns PanelValue = "columns"
	PanelFilters PanelValue = "filters"
)

// PanelContent names the content a feature supplies for a panel.
type PanelContent string

// Panel contents supplied by the built-in features.
const (
	NoPanelContent      PanelContent = ""
	ColumnsPanelContent PanelContent = "columnsPanel"
	FilterPanelContent  PanelContent = "filterPanel"
)

// PreferencePanelState records which panel is open.
type PreferencePanelState struct {
	OpenedPanelValue PanelValue `yaml:"openedPanelValue,omitempty" json:"openedPanelValue,omitempty"`
	Open             bool       `yaml:"open" json:"open"`
}

// PreferencesFeature opens and closes the preference panel. Which content
// the panel shows is decided by the preferencePanel pipe.
type PreferencesFeature struct {
	grid *Grid
	mu   sync.RWMutex
}

func newPreferencesFeature() *PreferencesFeature {
	return &PreferencesFeature{}
}

// Name implements Feature.
func (*PreferencesFeature) Name() string { return FeaturePreferences }

// Requires implements Feature.
func (*PreferencesFeature) Requires() []string { return []string{FeatureColumns, FeatureRows} }

// Attach implements Feature.
func (p *PreferencesFeature) Attach(_ context.Context, g *Grid) error {
	p.mu.Lock()
	p.grid = g
	p.mu.Unlock()

	reg := g.Registry()
	RegisterProcessor(reg, ExportStatePipe, FeaturePreferences, Transform(func(st InitialState, params ExportStateParams) InitialState {
		state := p.State()
		if params.ExportOnlyDirtyModels && !state.Open {
			return st
		}
		st.PreferencePanel = &state
		return st
	}))
	RegisterProcessor(reg, RestoreStatePipe, FeaturePreferences, Transform(func(res RestoreStateResult, rc RestoreStateContext) RestoreStateResult {
		restored := rc.State.PreferencePanel
		if restored == nil {
			return res
		}
		state := *restored
		res.Callbacks = append(res.Callbacks, func(ctx context.Context) error {
			if !state.Open {
				return p.HidePreferences(ctx)
			}
			return p.ShowPreferences(ctx, state.OpenedPanelValue)
		})
		return res
	}))
	return nil
}

// State returns the panel state.
func (p *PreferencesFeature) State() PreferencePanelState {
	p.mu.RLock()
	g := p.grid
	p.mu.RUnlock()
	if g == nil {
		return PreferencePanelState{}
	}
	return g.store.GetState().PreferencePanel
}

// ShowPreferences opens the panel for value. It fails when no feature
// supplies content for value.
func (p *PreferencesFeature) ShowPreferences(ctx context.Context, value PanelValue) error {
	p.mu.RLock()
	g := p.grid
	p.mu.RUnlock()
	if g == nil {
		return ErrNotMounted
	}
	content, err := ApplyProcessors(ctx, g.registry, PreferencePanelPipe, NoPanelContent, value)
	if err != nil {
		return err
	}
	if content == NoPanelContent {
		return &NotFoundError{Kind: "panel", ID: string(value)}
	}
	return p.set(ctx, g, PreferencePanelState{Open: true, OpenedPanelValue: value})
}

// HidePreferences closes the panel.
func (p *PreferencesFeature) HidePreferences(ctx context.Context) error {
	p.mu.RLock()
	g := p.grid
	p.mu.RUnlock()
	if g == nil {
		return ErrNotMounted
	}
	return p.set(ctx, g, PreferencePanelState{})
}

func (p *PreferencesFeature) set(ctx context.Context, g *Grid, state PreferencePanelState) error {
	g.store.SetState(func(s State) State {
		s.PreferencePanel = state
		return s
	})
	g.store.Publish(ctx, EventPreferencePanelChange, Event{Payload: state})
	return nil
}

// Content folds the preferencePanel pipe for the open panel. A closed
// panel has no content.
func (p *PreferencesFeature) Content(ctx context.Context) (PanelContent, error) {
	state := p.State()
	if !state.Open {
		return NoPanelContent, nil
	}
	p.mu.RLock()
	g := p.grid
	p.mu.RUnlock()
	return ApplyProcessors(ctx, g.registry, PreferencePanelPipe, NoPanelContent, state.OpenedPanelValue)
}
