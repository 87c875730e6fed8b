package gridz

import (
	"fmt"
	"time"
)

// Density scales the base row height.
type Density string

// Densities.
const (
	DensityCompact     Density = "compact"
	DensityStandard    Density = "standard"
	DensityComfortable Density = "comfortable"
)

// Factor returns the row height multiplier for d.
func (d Density) Factor() float64 {
	switch d {
	case DensityCompact:
		return 0.7
	case DensityComfortable:
		return 1.3
	default:
		return 1
	}
}

// ParseDensity parses a density name; the empty string is standard.
func ParseDensity(s string) (Density, error) {
	switch Density(s) {
	case "", DensityStandard:
		return DensityStandard, nil
	case DensityCompact, DensityComfortable:
		return Density(s), nil
	}
	return DensityStandard, fmt.Errorf("unknown density %q", s)
}

// Config holds the options a grid is created with.
type Config struct {
	// ColumnTypes replaces the built-in column types when set.
	ColumnTypes ColumnTypes
	// InitialState is restored when the grid mounts.
	InitialState *InitialState
	// Density scales RowHeight.
	Density Density
	// RowHeight is the base row height before density, in pixels.
	RowHeight float64
	// EstimatedRowHeight is used for auto-height rows until they are
	// measured. Zero means use the density-derived row height.
	EstimatedRowHeight float64
	// ContainerWidth is the width available to columns.
	ContainerWidth float64
	// MeasurementDebounce is the quiet period after the last row height
	// measurement before rows meta is recomputed.
	MeasurementDebounce time.Duration
	// PageSize is the number of rows per page when Pagination is on.
	PageSize int
	// FaultPolicy decides what a failing processor does to a pipe fold.
	FaultPolicy FaultPolicy
	// Pagination splits the rows into pages.
	Pagination bool
}

// Config defaults.
const (
	DefaultRowHeight           = 52.0
	DefaultPageSize            = 100
	DefaultMeasurementDebounce = 166 * time.Millisecond
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Density:             DensityStandard,
		RowHeight:           DefaultRowHeight,
		MeasurementDebounce: DefaultMeasurementDebounce,
		PageSize:            DefaultPageSize,
		FaultPolicy:         FaultPropagate,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Density == "" {
		c.Density = d.Density
	}
	if c.RowHeight <= 0 {
		c.RowHeight = d.RowHeight
	}
	if c.MeasurementDebounce <= 0 {
		c.MeasurementDebounce = d.MeasurementDebounce
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.ColumnTypes == nil {
		c.ColumnTypes = DefaultColumnTypes()
	}
	return c
}
