package gridz

import (
	"math"
	"testing"
)

func layout(cols ...Column) ColumnsState {
	s := ColumnsState{Lookup: map[string]Column{}}
	types := DefaultColumnTypes()
	for _, c := range cols {
		s.OrderedFields = append(s.OrderedFields, c.Field)
		s.Lookup[c.Field] = c.withDefaults(types)
	}
	return s
}

func widthOf(s ColumnsState, field string) float64 {
	return s.Lookup[field].ComputedWidth
}

func TestComputeDimensions(t *testing.T) {
	t.Run("Fixed Plus Flex Fills Container", func(t *testing.T) {
		s := layout(Column{Field: "a", Width: 100}, Column{Field: "b", Flex: 1})
		computeDimensions(&s, 300)

		if widthOf(s, "a") != 100 {
			t.Errorf("expected a=100, got %v", widthOf(s, "a"))
		}
		if widthOf(s, "b") != 200 {
			t.Errorf("expected b=200, got %v", widthOf(s, "b"))
		}
	})

	t.Run("Flex Shares Are Proportional", func(t *testing.T) {
		s := layout(Column{Field: "a", Flex: 1}, Column{Field: "b", Flex: 3})
		computeDimensions(&s, 400)

		if widthOf(s, "a") != 100 || widthOf(s, "b") != 300 {
			t.Errorf("expected 100/300, got %v/%v", widthOf(s, "a"), widthOf(s, "b"))
		}
	})

	t.Run("Max Violator Is Frozen", func(t *testing.T) {
		s := layout(
			Column{Field: "a", Flex: 1, MaxWidth: 100},
			Column{Field: "b", Flex: 1},
		)
		computeDimensions(&s, 500)

		if widthOf(s, "a") != 100 {
			t.Errorf("expected a clamped to 100, got %v", widthOf(s, "a"))
		}
		if widthOf(s, "b") != 400 {
			t.Errorf("expected b to take the rest (400), got %v", widthOf(s, "b"))
		}
	})

	t.Run("Min Violator Is Frozen", func(t *testing.T) {
		s := layout(
			Column{Field: "a", Flex: 1, MinWidth: 150},
			Column{Field: "b", Flex: 3},
		)
		computeDimensions(&s, 400)

		if widthOf(s, "a") != 150 {
			t.Errorf("expected a raised to 150, got %v", widthOf(s, "a"))
		}
		if widthOf(s, "b") != 250 {
			t.Errorf("expected b=250, got %v", widthOf(s, "b"))
		}
	})

	t.Run("Hidden Columns Take No Space", func(t *testing.T) {
		s := layout(Column{Field: "a", Width: 100}, Column{Field: "b", Flex: 1})
		s.VisibilityModel = map[string]bool{"a": false}
		computeDimensions(&s, 300)

		if widthOf(s, "b") != 300 {
			t.Errorf("expected b=300 with a hidden, got %v", widthOf(s, "b"))
		}
	})

	t.Run("Resized Column Is Not Flex", func(t *testing.T) {
		s := layout(Column{Field: "a", Width: 120}, Column{Field: "b", Flex: 1})
		a := s.Lookup["a"]
		a.HasBeenResized = true
		s.Lookup["a"] = a
		computeDimensions(&s, 300)

		if widthOf(s, "a") != 120 || widthOf(s, "b") != 180 {
			t.Errorf("expected 120/180, got %v/%v", widthOf(s, "a"), widthOf(s, "b"))
		}
	})

	t.Run("Restored Flex Weight Still Flexes", func(t *testing.T) {
		s := layout(Column{Field: "a", Flex: 2, Width: 120}, Column{Field: "b", Flex: 1})
		a := s.Lookup["a"]
		a.HasBeenResized = true
		s.Lookup["a"] = a
		computeDimensions(&s, 300)

		if widthOf(s, "a") != 200 || widthOf(s, "b") != 100 {
			t.Errorf("expected 200/100, got %v/%v", widthOf(s, "a"), widthOf(s, "b"))
		}
	})

	t.Run("Unknown Container Width", func(t *testing.T) {
		s := layout(Column{Field: "a", Flex: 1, Width: 80})
		computeDimensions(&s, 0)

		if widthOf(s, "a") != 80 {
			t.Errorf("expected fallback to width 80, got %v", widthOf(s, "a"))
		}
	})

	t.Run("Overflowing Fixed Columns Leave Flex At Min", func(t *testing.T) {
		s := layout(Column{Field: "a", Width: 400}, Column{Field: "b", Flex: 1})
		computeDimensions(&s, 300)

		if widthOf(s, "b") != DefaultColumnMinWidth {
			t.Errorf("expected b at min width, got %v", widthOf(s, "b"))
		}
	})

	t.Run("Fixed Width Clamped", func(t *testing.T) {
		s := layout(Column{Field: "a", Width: 10, MinWidth: 30})
		computeDimensions(&s, 300)

		if widthOf(s, "a") != 30 {
			t.Errorf("expected 30, got %v", widthOf(s, "a"))
		}
		if !math.IsInf(s.Lookup["a"].MaxWidth, 1) {
			t.Errorf("expected unbounded max width")
		}
	})
}
