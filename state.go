package gridz

import "context"

// InitialState is the structured snapshot produced by ExportState and read
// by RestoreState. Every section is optional; a nil section is left alone on
// restore.
type InitialState struct {
	Columns         *ColumnsInitialState     `yaml:"columns,omitempty" json:"columns,omitempty"`
	Sorting         *SortModel               `yaml:"sorting,omitempty" json:"sorting,omitempty"`
	Filter          *FilterModel             `yaml:"filter,omitempty" json:"filter,omitempty"`
	Pagination      *PaginationModel         `yaml:"pagination,omitempty" json:"pagination,omitempty"`
	DetailPanel     *DetailPanelInitialState `yaml:"detailPanel,omitempty" json:"detailPanel,omitempty"`
	Aggregation     *AggregationModel        `yaml:"aggregation,omitempty" json:"aggregation,omitempty"`
	PreferencePanel *PreferencePanelState    `yaml:"preferencePanel,omitempty" json:"preferencePanel,omitempty"`
	Density         Density                  `yaml:"density,omitempty" json:"density,omitempty"`
}

// ColumnsInitialState is the exported form of the columns state.
type ColumnsInitialState struct {
	ColumnVisibilityModel map[string]bool             `yaml:"columnVisibilityModel,omitempty" json:"columnVisibilityModel,omitempty"`
	Dimensions            map[string]ColumnDimensions `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
	OrderedFields         []string                    `yaml:"orderedFields,omitempty" json:"orderedFields,omitempty"`
}

// UnboundedDimension stands in for an infinite width in exported state.
const UnboundedDimension = -1.0

// ColumnDimensions are the dimensions of a resized column. Any width that
// is infinite is exported as UnboundedDimension. On restore an unbounded
// MaxWidth lifts the upper bound and an unbounded Width takes the max width.
// An unbounded MinWidth is ignored.
type ColumnDimensions struct {
	Width    float64 `yaml:"width,omitempty" json:"width,omitempty"`
	MinWidth float64 `yaml:"minWidth,omitempty" json:"minWidth,omitempty"`
	MaxWidth float64 `yaml:"maxWidth,omitempty" json:"maxWidth,omitempty"`
	Flex     float64 `yaml:"flex,omitempty" json:"flex,omitempty"`
}

// ExportStateParams tunes an export.
type ExportStateParams struct {
	// ExportOnlyDirtyModels skips models that were never changed from their
	// defaults.
	ExportOnlyDirtyModels bool
}

// RestoreStateContext carries the snapshot being restored.
type RestoreStateContext struct {
	State InitialState
}

// RestoreStateResult collects work that restore processors defer until
// every processor has seen the snapshot.
type RestoreStateResult struct {
	Callbacks []func(context.Context) error
}
