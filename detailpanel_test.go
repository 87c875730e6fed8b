package gridz

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
)

func panelContent(row Row) any {
	if row.ID == "2" {
		return nil
	}
	return "details of " + string(row.ID)
}

func detailGrid(t *testing.T, cfg Config, height DetailPanelHeight) (*Grid, *DetailPanel) {
	t.Helper()
	dp := NewDetailPanel(DetailPanelContentFunc(panelContent), height)
	g, _ := newTestGrid(t, cfg, []Column{{Field: "name"}, {Field: "n", Type: TypeNumber}}, makeRows("1", "2", "3"), dp)
	return g, dp
}

func countField(fields []string, field string) int {
	n := 0
	for _, f := range fields {
		if f == field {
			n++
		}
	}
	return n
}

func TestDetailPanelToggleColumn(t *testing.T) {
	ctx := context.Background()

	t.Run("Inserted Once First", func(t *testing.T) {
		g, _ := detailGrid(t, DefaultConfig(), nil)

		for i := 0; i < 3; i++ {
			if err := g.Columns().HydrateColumns(ctx); err != nil {
				t.Fatal(err)
			}
		}
		fields := g.Columns().ColumnsState().OrderedFields
		if fields[0] != DetailPanelToggleField {
			t.Errorf("expected toggle first, got %v", fields)
		}
		if n := countField(fields, DetailPanelToggleField); n != 1 {
			t.Errorf("expected toggle once, got %d in %v", n, fields)
		}
		col, _ := g.Columns().Column(DetailPanelToggleField)
		if !col.Internal || col.ComputedWidth != 40 {
			t.Errorf("unexpected toggle column %+v", col)
		}
	})

	t.Run("Removed When Content Is Cleared", func(t *testing.T) {
		g, dp := detailGrid(t, DefaultConfig(), nil)

		if err := dp.SetDetailPanelContent(ctx, NoDetailPanel); err != nil {
			t.Fatal(err)
		}
		fields := g.Columns().ColumnsState().OrderedFields
		if slices.Contains(fields, DetailPanelToggleField) {
			t.Errorf("expected toggle removed, got %v", fields)
		}

		if err := dp.SetDetailPanelContent(ctx, DetailPanelContentFunc(panelContent)); err != nil {
			t.Fatal(err)
		}
		fields = g.Columns().ColumnsState().OrderedFields
		if countField(fields, DetailPanelToggleField) != 1 {
			t.Errorf("expected toggle back, got %v", fields)
		}
	})

	t.Run("Absent Capability Adds Nothing", func(t *testing.T) {
		g, _ := newTestGrid(t, DefaultConfig(), []Column{{Field: "name"}}, nil, NewDetailPanel(nil, nil))

		if got := g.Columns().ColumnsState().OrderedFields; !reflect.DeepEqual(got, []string{"name"}) {
			t.Errorf("expected [name], got %v", got)
		}
	})
}

func TestDetailPanelExpansion(t *testing.T) {
	ctx := context.Background()

	t.Run("Expanded Row Grows", func(t *testing.T) {
		g, dp := detailGrid(t, DefaultConfig(), nil)

		if err := dp.ToggleDetailPanel(ctx, "1"); err != nil {
			t.Fatal(err)
		}
		entry, _ := g.RowsMeta().RowEntry("1")
		if entry.Sizes[SizeDetailPanel] != DefaultDetailPanelHeight {
			t.Errorf("expected detailPanel size, got %v", entry.Sizes)
		}
		meta := g.RowsMeta().RowsMeta()
		if !reflect.DeepEqual(meta.Positions, []float64{0, 552, 604}) {
			t.Errorf("expected [0 552 604], got %v", meta.Positions)
		}

		classes, _ := g.RowClassNames(ctx, "1")
		if !slices.Contains(classes, ClassDetailPanelExpanded) {
			t.Errorf("expected expanded class, got %v", classes)
		}

		if err := dp.ToggleDetailPanel(ctx, "1"); err != nil {
			t.Fatal(err)
		}
		if h, _ := g.RowsMeta().RowHeight("1"); h != 52 {
			t.Errorf("expected collapse back to 52, got %v", h)
		}
		if dp.Metrics().Counter(DetailPanelTogglesTotal).Value() != 2 {
			t.Errorf("expected 2 toggles")
		}
	})

	t.Run("Row Without Content Keeps Its Height", func(t *testing.T) {
		g, dp := detailGrid(t, DefaultConfig(), nil)

		if err := dp.ToggleDetailPanel(ctx, "2"); err != nil {
			t.Fatal(err)
		}
		if h, _ := g.RowsMeta().RowHeight("2"); h != 52 {
			t.Errorf("expected 52, got %v", h)
		}
	})

	t.Run("Custom Panel Height", func(t *testing.T) {
		g, dp := detailGrid(t, DefaultConfig(), DetailPanelHeightFunc(func(Row) float64 { return 120 }))

		if err := dp.SetExpandedDetailPanels(ctx, []RowID{"1", "3", "1"}); err != nil {
			t.Fatal(err)
		}
		if got := dp.ExpandedDetailPanels(); !reflect.DeepEqual(got, []RowID{"1", "3"}) {
			t.Errorf("expected deduplicated ids, got %v", got)
		}
		if got := g.RowsMeta().RowsMeta().CurrentPageTotalHeight; got != 3*52+2*120 {
			t.Errorf("expected %v, got %v", 3*52+2*120, got)
		}
	})

	t.Run("Pinned Rows Never Expand", func(t *testing.T) {
		g, dp := detailGrid(t, DefaultConfig(), nil)

		if err := g.Rows().SetPinnedRows(ctx, PinnedRows{Top: []Row{{ID: "p"}}}); err != nil {
			t.Fatal(err)
		}
		if err := dp.ToggleDetailPanel(ctx, "p"); err != nil {
			t.Fatal(err)
		}
		if got := g.RowsMeta().RowsMeta().PinnedTopHeight; got != 52 {
			t.Errorf("expected pinned row at 52, got %v", got)
		}
	})

	t.Run("Unknown Row", func(t *testing.T) {
		_, dp := detailGrid(t, DefaultConfig(), nil)

		if err := dp.ToggleDetailPanel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Requires Rows Meta", func(t *testing.T) {
		if got := NewDetailPanel(nil, nil).Requires(); !slices.Contains(got, FeatureRowsMeta) {
			t.Errorf("expected rowsMeta prerequisite, got %v", got)
		}
	})
}

func TestDetailPanelState(t *testing.T) {
	ctx := context.Background()

	t.Run("Export Only When Expanded", func(t *testing.T) {
		g, dp := detailGrid(t, DefaultConfig(), nil)

		st, _ := g.ExportState(ctx, ExportStateParams{ExportOnlyDirtyModels: true})
		if st.DetailPanel != nil {
			t.Errorf("expected no detail panel section, got %+v", st.DetailPanel)
		}
		if err := dp.ToggleDetailPanel(ctx, "3"); err != nil {
			t.Fatal(err)
		}
		st, _ = g.ExportState(ctx, ExportStateParams{ExportOnlyDirtyModels: true})
		if st.DetailPanel == nil || !reflect.DeepEqual(st.DetailPanel.ExpandedRowIDs, []RowID{"3"}) {
			t.Errorf("expected [3], got %+v", st.DetailPanel)
		}
	})

	t.Run("Restore", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InitialState = &InitialState{DetailPanel: &DetailPanelInitialState{ExpandedRowIDs: []RowID{"1"}}}
		g, dp := detailGrid(t, cfg, nil)

		if got := dp.ExpandedDetailPanels(); !reflect.DeepEqual(got, []RowID{"1"}) {
			t.Errorf("expected [1], got %v", got)
		}
		if h, _ := g.RowsMeta().RowHeight("1"); h != 552 {
			t.Errorf("expected restored panel height, got %v", h)
		}
	})
}
