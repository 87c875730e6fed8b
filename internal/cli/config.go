package cli

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/zoobzio/gridz"
)

// envPrefix prefixes the environment variables that override Options.
const envPrefix = "GRIDZ"

// Definition is a grid described in a TOML file.
type Definition struct {
	Options      Options            `toml:"grid"`
	Columns      []gridz.Column     `toml:"columns"`
	Rows         []gridz.Row        `toml:"rows"`
	Sort         []SortDef          `toml:"sort"`
	Filter       []FilterDef        `toml:"filter"`
	Measurements []MeasurementDef   `toml:"measurements"`
	Aggregation  map[string]string  `toml:"aggregation"`
	DetailPanel  *DetailPanelDef    `toml:"detail_panel"`
	Pinned       PinnedDef          `toml:"pinned"`
	Hidden       []string           `toml:"hidden"`
	RowHeights   map[string]float64 `toml:"row_heights"`
}

// Options are the grid-wide settings. Every field can be overridden from
// the environment.
type Options struct {
	Density            string  `toml:"density" envconfig:"DENSITY"`
	FaultPolicy        string  `toml:"fault_policy" envconfig:"FAULT_POLICY"`
	FilterLogic        string  `toml:"filter_logic" envconfig:"FILTER_LOGIC"`
	ContainerWidth     float64 `toml:"container_width" envconfig:"CONTAINER_WIDTH"`
	RowHeight          float64 `toml:"row_height" envconfig:"ROW_HEIGHT"`
	EstimatedRowHeight float64 `toml:"estimated_row_height" envconfig:"ESTIMATED_ROW_HEIGHT"`
	PageSize           int     `toml:"page_size" envconfig:"PAGE_SIZE"`
	Page               int     `toml:"page" envconfig:"PAGE"`
	Pagination         bool    `toml:"pagination" envconfig:"PAGINATION"`
	AutoHeight         bool    `toml:"auto_height" envconfig:"AUTO_HEIGHT"`
}

// SortDef is one sort key.
type SortDef struct {
	Field string `toml:"field"`
	Sort  string `toml:"sort"`
}

// FilterDef is one filter item.
type FilterDef struct {
	Value    any    `toml:"value"`
	Field    string `toml:"field"`
	Operator string `toml:"operator"`
}

// MeasurementDef is a rendered row height reported back to the grid.
type MeasurementDef struct {
	Row      string  `toml:"row"`
	Position string  `toml:"position"`
	Height   float64 `toml:"height"`
}

// DetailPanelDef enables detail panels. Rows with a value in Field get a
// panel showing that value.
type DetailPanelDef struct {
	Field    string   `toml:"field"`
	Expanded []string `toml:"expanded"`
	Height   float64  `toml:"height"`
}

// PinnedDef lists row ids moved out of the body.
type PinnedDef struct {
	Top    []string `toml:"top"`
	Bottom []string `toml:"bottom"`
}

// LoadDefinition reads a grid definition from path and applies environment
// overrides.
func LoadDefinition(path string) (*Definition, error) {
	var def Definition
	if _, err := toml.DecodeFile(path, &def); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := envconfig.Process(envPrefix, &def.Options); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("invalid definition %s: %w", path, err)
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if len(d.Columns) == 0 {
		return errors.New("no columns defined")
	}
	if _, err := gridz.ParseDensity(d.Options.Density); err != nil {
		return err
	}
	if _, err := gridz.ParseFaultPolicy(d.Options.FaultPolicy); err != nil {
		return err
	}
	seen := make(map[gridz.RowID]bool, len(d.Rows))
	for _, r := range d.Rows {
		if r.ID == "" {
			return errors.New("row without id")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate row id %q", r.ID)
		}
		seen[r.ID] = true
	}
	for _, ids := range [][]string{d.Pinned.Top, d.Pinned.Bottom} {
		for _, id := range ids {
			if !seen[gridz.RowID(id)] {
				return fmt.Errorf("pinned row %q is not defined", id)
			}
		}
	}
	return nil
}

// Config converts the options into a grid configuration.
func (d *Definition) Config() gridz.Config {
	cfg := gridz.DefaultConfig()
	density, _ := gridz.ParseDensity(d.Options.Density)
	policy, _ := gridz.ParseFaultPolicy(d.Options.FaultPolicy)

	cfg.Density = density
	cfg.FaultPolicy = policy
	cfg.ContainerWidth = d.Options.ContainerWidth
	cfg.Pagination = d.Options.Pagination
	cfg.EstimatedRowHeight = d.Options.EstimatedRowHeight
	if d.Options.RowHeight > 0 {
		cfg.RowHeight = d.Options.RowHeight
	}
	if d.Options.PageSize > 0 {
		cfg.PageSize = d.Options.PageSize
	}
	return cfg
}
