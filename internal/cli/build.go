package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/zoobzio/gridz"
)

// mounted is a grid built from a definition along with the add-ons the
// definition enabled.
type mounted struct {
	grid        *gridz.Grid
	detail      *gridz.DetailPanel
	aggregation *gridz.Aggregation
}

// mount builds and mounts a grid from def, then applies the models,
// measurements and row heights it declares. Measurements are flushed before
// returning so the layout reflects them.
func mount(ctx context.Context, def *Definition, logger *log.Logger) (*mounted, error) {
	m := &mounted{grid: gridz.New(def.Config()).WithLogger(logger)}
	g := m.grid

	if def.Options.AutoHeight {
		g.WithRowHeight(gridz.RowHeightFunc(func(gridz.RowHeightParams) gridz.RowHeight {
			return gridz.AutoRowHeight
		}))
	}
	if dp := def.DetailPanel; dp != nil {
		m.detail = gridz.NewDetailPanel(detailContent(dp.Field), detailHeight(dp.Height))
		g.Use(m.detail)
	}
	if len(def.Aggregation) > 0 {
		m.aggregation = gridz.NewAggregation(nil)
		g.Use(m.aggregation)
	}

	if err := g.Columns().SetColumns(ctx, def.Columns); err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	if err := g.Mount(ctx); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if err := m.apply(ctx, def); err != nil {
		_ = g.Close()
		return nil, err
	}

	logger.Debug("grid mounted",
		"id", g.ID(),
		"features", g.Features(),
		"columns", len(g.Columns().AllColumns()),
		"rows", len(g.Rows().Rows()))
	return m, nil
}

func (m *mounted) apply(ctx context.Context, def *Definition) error {
	g := m.grid

	body, pinned := splitPinned(def)
	if err := g.Rows().SetRows(ctx, body); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	if pinned.Top != nil || pinned.Bottom != nil {
		if err := g.Rows().SetPinnedRows(ctx, pinned); err != nil {
			return fmt.Errorf("pinned rows: %w", err)
		}
	}

	if len(def.Hidden) > 0 {
		model := make(map[string]bool, len(def.Hidden))
		for _, field := range def.Hidden {
			model[field] = false
		}
		if err := g.Columns().SetColumnVisibilityModel(ctx, model); err != nil {
			return fmt.Errorf("hidden columns: %w", err)
		}
	}

	if len(def.Sort) > 0 {
		items := make([]gridz.SortItem, len(def.Sort))
		for i, s := range def.Sort {
			items[i] = gridz.SortItem{Field: s.Field, Sort: gridz.SortDirection(s.Sort)}
		}
		if err := g.Rows().SetSortModel(ctx, gridz.SortModel{Items: items}); err != nil {
			return fmt.Errorf("sort: %w", err)
		}
	}
	if len(def.Filter) > 0 {
		items := make([]gridz.FilterItem, len(def.Filter))
		for i, f := range def.Filter {
			items[i] = gridz.FilterItem{Field: f.Field, Operator: f.Operator, Value: f.Value}
		}
		model := gridz.FilterModel{Items: items, LogicOperator: def.Options.FilterLogic}
		if err := g.Rows().SetFilterModel(ctx, model); err != nil {
			return fmt.Errorf("filter: %w", err)
		}
	}
	if def.Options.Pagination && def.Options.Page > 0 {
		if err := g.Rows().SetPaginationModel(ctx, gridz.PaginationModel{Page: def.Options.Page}); err != nil {
			return fmt.Errorf("pagination: %w", err)
		}
	}

	if m.aggregation != nil {
		if err := m.aggregation.SetAggregationModel(ctx, gridz.AggregationModel{Model: def.Aggregation}); err != nil {
			return fmt.Errorf("aggregation: %w", err)
		}
	}
	if m.detail != nil && len(def.DetailPanel.Expanded) > 0 {
		ids := make([]gridz.RowID, len(def.DetailPanel.Expanded))
		for i, id := range def.DetailPanel.Expanded {
			ids[i] = gridz.RowID(id)
		}
		if err := m.detail.SetExpandedDetailPanels(ctx, ids); err != nil {
			return fmt.Errorf("detail panels: %w", err)
		}
	}

	for id, h := range def.RowHeights {
		if err := g.RowsMeta().SetRowHeight(ctx, gridz.RowID(id), h); err != nil {
			return fmt.Errorf("row height %q: %w", id, err)
		}
	}
	for _, ms := range def.Measurements {
		pos := ms.Position
		if pos == "" {
			pos = gridz.PositionCenter
		}
		g.RowsMeta().StoreRowHeightMeasurement(gridz.RowID(ms.Row), ms.Height, pos)
	}
	if g.RowsMeta().FlushMeasurements() {
		g.Logger().Debug("measurements applied", "count", len(def.Measurements))
	}
	return nil
}

// splitPinned separates the pinned rows from the body, keeping the order in
// which the pinned ids were listed.
func splitPinned(def *Definition) ([]gridz.Row, gridz.PinnedRows) {
	byID := make(map[gridz.RowID]gridz.Row, len(def.Rows))
	for _, r := range def.Rows {
		byID[r.ID] = r
	}
	taken := make(map[gridz.RowID]bool)
	pick := func(ids []string) []gridz.Row {
		if len(ids) == 0 {
			return nil
		}
		rows := make([]gridz.Row, 0, len(ids))
		for _, id := range ids {
			rid := gridz.RowID(id)
			if taken[rid] {
				continue
			}
			taken[rid] = true
			rows = append(rows, byID[rid])
		}
		return rows
	}
	pinned := gridz.PinnedRows{Top: pick(def.Pinned.Top), Bottom: pick(def.Pinned.Bottom)}

	body := make([]gridz.Row, 0, len(def.Rows)-len(taken))
	for _, r := range def.Rows {
		if !taken[r.ID] {
			body = append(body, r)
		}
	}
	return body, pinned
}

func detailContent(field string) gridz.DetailPanelContentFunc {
	return func(row gridz.Row) any {
		if field == "" {
			if len(row.Values) == 0 {
				return nil
			}
			return row.Values
		}
		return row.Value(field)
	}
}

func detailHeight(px float64) gridz.DetailPanelHeight {
	if px <= 0 {
		return nil
	}
	return gridz.DetailPanelHeightFunc(func(gridz.Row) float64 { return px })
}
