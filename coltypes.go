package gridz

import (
	"cmp"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Column type names.
const (
	TypeString       = "string"
	TypeNumber       = "number"
	TypeDate         = "date"
	TypeDateTime     = "dateTime"
	TypeBoolean      = "boolean"
	TypeSingleSelect = "singleSelect"
	TypeActions      = "actions"
)

// Default column dimensions.
const (
	DefaultColumnWidth    = 100.0
	DefaultColumnMinWidth = 50.0
)

// ColumnType holds the default behaviour a column inherits from its type.
type ColumnType struct {
	Compare func(a, b any) int
	Format  func(v any) string
	Name    string
	Align   string
	Width   float64
}

// ColumnTypes maps a type name to its defaults. Features read it; only the
// owner of the grid replaces it.
type ColumnTypes map[string]ColumnType

// DefaultColumnTypes returns the built-in column types.
func DefaultColumnTypes() ColumnTypes {
	str := ColumnType{Name: TypeString, Align: "left", Width: DefaultColumnWidth, Compare: compareStrings, Format: formatAny}
	num := ColumnType{Name: TypeNumber, Align: "right", Width: DefaultColumnWidth, Compare: compareNumbers, Format: formatAny}
	date := ColumnType{Name: TypeDate, Align: "left", Width: DefaultColumnWidth, Compare: compareTimes, Format: formatDate("2006-01-02")}
	dateTime := ColumnType{Name: TypeDateTime, Align: "left", Width: DefaultColumnWidth, Compare: compareTimes, Format: formatDate(time.RFC3339)}
	boolean := ColumnType{Name: TypeBoolean, Align: "center", Width: DefaultColumnWidth, Compare: compareBools, Format: formatAny}
	single := ColumnType{Name: TypeSingleSelect, Align: "left", Width: DefaultColumnWidth, Compare: compareStrings, Format: formatAny}
	actions := ColumnType{Name: TypeActions, Align: "right", Width: DefaultColumnWidth, Compare: func(any, any) int { return 0 }, Format: func(any) string { return "" }}

	return ColumnTypes{
		TypeString:       str,
		TypeNumber:       num,
		TypeDate:         date,
		TypeDateTime:     dateTime,
		TypeBoolean:      boolean,
		TypeSingleSelect: single,
		TypeActions:      actions,
	}
}

// Get returns the type registered under name, falling back to the string type.
// Missing comparators and formatters fall back to the string behaviour.
func (t ColumnTypes) Get(name string) ColumnType {
	if ct, ok := t[name]; ok {
		return ct.complete()
	}
	if ct, ok := t[TypeString]; ok {
		return ct.complete()
	}
	return ColumnType{Name: TypeString, Width: DefaultColumnWidth, Compare: compareStrings, Format: formatAny}
}

func (ct ColumnType) complete() ColumnType {
	if ct.Compare == nil {
		ct.Compare = compareStrings
	}
	if ct.Format == nil {
		ct.Format = formatAny
	}
	return ct
}

// With returns a copy of t with ct registered under ct.Name.
func (t ColumnTypes) With(ct ColumnType) ColumnTypes {
	out := maps.Clone(t)
	if out == nil {
		out = ColumnTypes{}
	}
	out[ct.Name] = ct
	return out
}

func formatAny(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func formatDate(layout string) func(any) string {
	return func(v any) string {
		if t, ok := v.(time.Time); ok {
			return t.Format(layout)
		}
		return formatAny(v)
	}
}

func compareStrings(a, b any) int {
	return strings.Compare(formatAny(a), formatAny(b))
}

func compareNumbers(a, b any) int {
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return -1
	case !okb:
		return 1
	}
	return cmp.Compare(fa, fb)
}

func compareTimes(a, b any) int {
	ta, oka := a.(time.Time)
	tb, okb := b.(time.Time)
	switch {
	case !oka && !okb:
		return compareStrings(a, b)
	case !oka:
		return -1
	case !okb:
		return 1
	}
	return ta.Compare(tb)
}

func compareBools(a, b any) int {
	ba, _ := a.(bool)
	bb, _ := b.(bool)
	switch {
	case ba == bb:
		return 0
	case !ba:
		return -1
	}
	return 1
}

// toFloat converts numeric values, and strings that parse as numbers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
