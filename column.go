package gridz

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// Column is a column definition together with its derived layout.
//
// Zero values mean "use the default": Width falls back to the column type's
// width, MinWidth to DefaultColumnMinWidth and MaxWidth to +Inf.
type Column struct {
	Field          string  `toml:"field" yaml:"field"`
	Type           string  `toml:"type" yaml:"type,omitempty"`
	HeaderName     string  `toml:"header" yaml:"header,omitempty"`
	Align          string  `toml:"align" yaml:"align,omitempty"`
	Aggregation    string  `toml:"-" yaml:"aggregation,omitempty"`
	Width          float64 `toml:"width" yaml:"width,omitempty"`
	MinWidth       float64 `toml:"min_width" yaml:"minWidth,omitempty"`
	MaxWidth       float64 `toml:"max_width" yaml:"maxWidth,omitempty"`
	Flex           float64 `toml:"flex" yaml:"flex,omitempty"`
	ComputedWidth  float64 `toml:"-" yaml:"computedWidth"`
	DisableSort    bool    `toml:"disable_sort" yaml:"disableSort,omitempty"`
	DisableHide    bool    `toml:"disable_hide" yaml:"disableHide,omitempty"`
	HasBeenResized bool    `toml:"-" yaml:"hasBeenResized,omitempty"`
	// Internal marks columns injected by features rather than declared.
	Internal bool `toml:"-" yaml:"internal,omitempty"`
}

// IsFlex reports whether the column takes a share of the free space.
// Resizing a column clears its flex, so a resized column with a flex weight
// came from restored state and keeps flexing.
func (c Column) IsFlex() bool {
	return c.Flex > 0
}

// clamp bounds w by the column's min and max width.
func (c Column) clamp(w float64) float64 {
	if w < c.MinWidth {
		w = c.MinWidth
	}
	if w > c.MaxWidth {
		w = c.MaxWidth
	}
	return w
}

// withDefaults fills zero values from the column type.
func (c Column) withDefaults(types ColumnTypes) Column {
	if c.Type == "" {
		c.Type = TypeString
	}
	ct := types.Get(c.Type)
	if c.HeaderName == "" {
		c.HeaderName = c.Field
	}
	if c.Align == "" {
		c.Align = ct.Align
	}
	if c.Width <= 0 {
		c.Width = ct.Width
		if c.Width <= 0 {
			c.Width = DefaultColumnWidth
		}
	}
	if c.MinWidth <= 0 {
		c.MinWidth = DefaultColumnMinWidth
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = math.Inf(1)
	}
	return c
}

// mergeColumn overlays the non-zero definition fields of next onto prev.
func mergeColumn(prev, next Column) Column {
	out := prev
	if next.Type != "" {
		out.Type = next.Type
	}
	if next.HeaderName != "" {
		out.HeaderName = next.HeaderName
	}
	if next.Align != "" {
		out.Align = next.Align
	}
	if next.Width != 0 {
		out.Width = next.Width
	}
	if next.MinWidth != 0 {
		out.MinWidth = next.MinWidth
	}
	if next.MaxWidth != 0 {
		out.MaxWidth = next.MaxWidth
	}
	if next.Flex != 0 {
		out.Flex = next.Flex
	}
	out.DisableSort = out.DisableSort || next.DisableSort
	out.DisableHide = out.DisableHide || next.DisableHide
	return out
}

// ColumnsState is the authoritative column layout: the display order and a
// lookup by field. Both always describe the same set of fields.
type ColumnsState struct {
	Lookup          map[string]Column `yaml:"lookup"`
	VisibilityModel map[string]bool   `yaml:"visibilityModel,omitempty"`
	OrderedFields   []string          `yaml:"orderedFields"`
}

// Clone returns a copy that can be changed without touching s.
func (s ColumnsState) Clone() ColumnsState {
	return ColumnsState{
		OrderedFields:   slices.Clone(s.OrderedFields),
		Lookup:          maps.Clone(s.Lookup),
		VisibilityModel: maps.Clone(s.VisibilityModel),
	}
}

// IsVisible reports whether field is shown. Fields absent from the
// visibility model are visible.
func (s ColumnsState) IsVisible(field string) bool {
	visible, ok := s.VisibilityModel[field]
	return !ok || visible
}

// Index returns the display index of field, or -1.
func (s ColumnsState) Index(field string) int {
	return slices.Index(s.OrderedFields, field)
}

// Columns returns the columns in display order.
func (s ColumnsState) Columns() []Column {
	out := make([]Column, 0, len(s.OrderedFields))
	for _, f := range s.OrderedFields {
		out = append(out, s.Lookup[f])
	}
	return out
}

// Visible returns the visible columns in display order.
func (s ColumnsState) Visible() []Column {
	out := make([]Column, 0, len(s.OrderedFields))
	for _, f := range s.OrderedFields {
		if s.IsVisible(f) {
			out = append(out, s.Lookup[f])
		}
	}
	return out
}

// Validate checks that OrderedFields and Lookup name the same fields, with
// no duplicates.
func (s ColumnsState) Validate() error {
	seen := make(map[string]struct{}, len(s.OrderedFields))
	for _, f := range s.OrderedFields {
		if _, dup := seen[f]; dup {
			return fmt.Errorf("%w: %q listed twice", ErrDanglingField, f)
		}
		seen[f] = struct{}{}
		col, ok := s.Lookup[f]
		if !ok {
			return fmt.Errorf("%w: %q has no definition", ErrDanglingField, f)
		}
		if col.Field != f {
			return fmt.Errorf("%w: %q defined as %q", ErrDanglingField, f, col.Field)
		}
	}
	for f := range s.Lookup {
		if _, ok := seen[f]; !ok {
			return fmt.Errorf("%w: %q is not ordered", ErrDanglingField, f)
		}
	}
	return nil
}

// Insert places col at index, replacing any column with the same field.
// The caller owns s; call Clone first when s came from the store.
func (s *ColumnsState) Insert(index int, col Column) {
	if s.Lookup == nil {
		s.Lookup = make(map[string]Column)
	}
	if i := slices.Index(s.OrderedFields, col.Field); i >= 0 {
		s.OrderedFields = slices.Delete(s.OrderedFields, i, i+1)
	}
	index = max(0, min(index, len(s.OrderedFields)))
	s.OrderedFields = slices.Insert(s.OrderedFields, index, col.Field)
	s.Lookup[col.Field] = col
}

// Remove drops field from the order and the lookup.
func (s *ColumnsState) Remove(field string) {
	if i := slices.Index(s.OrderedFields, field); i >= 0 {
		s.OrderedFields = slices.Delete(s.OrderedFields, i, i+1)
	}
	delete(s.Lookup, field)
}
