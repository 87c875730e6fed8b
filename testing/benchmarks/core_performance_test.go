package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/zoobzio/gridz"
)

func benchRows(n int) []gridz.Row {
	rows := make([]gridz.Row, n)
	for i := range rows {
		rows[i] = gridz.Row{
			ID:     gridz.RowID(fmt.Sprint(i)),
			Values: map[string]any{"name": fmt.Sprintf("row %d", n-i), "n": i % 97},
		}
	}
	return rows
}

func benchColumns(n int) []gridz.Column {
	cols := make([]gridz.Column, n)
	for i := range cols {
		cols[i] = gridz.Column{Field: fmt.Sprintf("c%d", i)}
		if i%3 == 0 {
			cols[i].Flex = 1
		}
	}
	return cols
}

func benchGrid(b *testing.B, cfg gridz.Config, cols []gridz.Column, rows []gridz.Row) *gridz.Grid {
	b.Helper()
	ctx := context.Background()
	g := gridz.New(cfg)
	b.Cleanup(func() { _ = g.Close() })
	if err := g.Columns().SetColumns(ctx, cols); err != nil {
		b.Fatal(err)
	}
	if err := g.Mount(ctx); err != nil {
		b.Fatal(err)
	}
	if err := g.Rows().SetRows(ctx, rows); err != nil {
		b.Fatal(err)
	}
	return g
}

// BenchmarkApplyProcessors measures a pipe fold by processor count.
func BenchmarkApplyProcessors(b *testing.B) {
	ctx := context.Background()
	for _, n := range []int{1, 5, 20} {
		b.Run(fmt.Sprintf("Processors_%d", n), func(b *testing.B) {
			reg := gridz.NewRegistry()
			for i := 0; i < n; i++ {
				gridz.RegisterProcessor(reg, gridz.RowClassNamePipe, fmt.Sprint(i), gridz.Transform(func(c []string, _ gridz.RowID) []string {
					return c
				}))
			}
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := gridz.ApplyProcessors(ctx, reg, gridz.RowClassNamePipe, nil, gridz.RowID("r")); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkHydrateColumns measures column hydration including flex
// distribution.
func BenchmarkHydrateColumns(b *testing.B) {
	ctx := context.Background()
	for _, n := range []int{10, 100} {
		b.Run(fmt.Sprintf("Columns_%d", n), func(b *testing.B) {
			cfg := gridz.DefaultConfig()
			cfg.ContainerWidth = float64(n) * 120
			g := benchGrid(b, cfg, benchColumns(n), nil)
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := g.Columns().HydrateColumns(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkHydrateRowsMeta measures the vertical layout of one page.
func BenchmarkHydrateRowsMeta(b *testing.B) {
	ctx := context.Background()
	for _, n := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("Rows_%d", n), func(b *testing.B) {
			cfg := gridz.DefaultConfig()
			cfg.PageSize = n
			g := benchGrid(b, cfg, benchColumns(3), benchRows(n))
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := g.RowsMeta().HydrateRowsMeta(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSortFilter measures re-deriving the visible rows after a model
// change.
func BenchmarkSortFilter(b *testing.B) {
	ctx := context.Background()
	cols := []gridz.Column{{Field: "name"}, {Field: "n", Type: gridz.TypeNumber}}
	g := benchGrid(b, gridz.DefaultConfig(), cols, benchRows(5000))

	sorts := []gridz.SortModel{
		{Items: []gridz.SortItem{{Field: "n", Sort: gridz.SortAsc}, {Field: "name", Sort: gridz.SortDesc}}},
		{Items: []gridz.SortItem{{Field: "name", Sort: gridz.SortAsc}}},
	}
	filter := gridz.FilterModel{Items: []gridz.FilterItem{{Field: "n", Operator: gridz.OpGt, Value: 40}}}
	if err := g.Rows().SetFilterModel(ctx, filter); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := g.Rows().SetSortModel(ctx, sorts[i%2]); err != nil {
			b.Fatal(err)
		}
		_ = g.Rows().VisibleRows()
	}
}
