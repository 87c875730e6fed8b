package integration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/gridz"
	gridztest "github.com/zoobzio/gridz/testing"
)

func autoHeight(gridz.RowHeightParams) gridz.RowHeight { return gridz.AutoRowHeight }

// TestConcurrentMeasurements reports heights from many goroutines the way
// render callbacks do and checks the debounced hydration settles on them.
func TestConcurrentMeasurements(t *testing.T) {
	ctx := context.Background()
	cfg := gridz.DefaultConfig()
	cfg.MeasurementDebounce = time.Millisecond

	g := gridz.New(cfg).WithRowHeight(gridz.RowHeightFunc(autoHeight))
	t.Cleanup(func() { _ = g.Close() })
	if err := g.Columns().SetColumns(ctx, []gridz.Column{{Field: "name"}}); err != nil {
		t.Fatal(err)
	}
	if err := g.Mount(ctx); err != nil {
		t.Fatal(err)
	}

	const n = 200
	rows := make([]gridz.Row, n)
	for i := range rows {
		rows[i] = gridz.Row{ID: gridz.RowID(fmt.Sprint(i))}
	}
	if err := g.Rows().SetRows(ctx, rows); err != nil {
		t.Fatal(err)
	}

	var reads atomic.Int64
	gridztest.ParallelTest(t, 8, func(worker int) {
		for i := worker; i < n; i += 8 {
			g.RowsMeta().StoreRowHeightMeasurement(rows[i].ID, 60, gridz.PositionCenter)
			_ = g.RowsMeta().RowsMeta()
			if _, err := g.ExportState(ctx, gridz.ExportStateParams{}); err == nil {
				reads.Add(1)
			}
		}
	})
	if reads.Load() != n {
		t.Errorf("expected %d exports, got %d", n, reads.Load())
	}

	gridztest.Eventually(t, func() bool {
		return !g.RowsMeta().MeasurementPending() && g.RowsMeta().RowsMeta().CurrentPageTotalHeight == 60*n
	}, 2*time.Second, "measurements were not applied")

	meta := g.RowsMeta().RowsMeta()
	for i, top := range meta.Positions {
		if top != float64(60*i) {
			t.Fatalf("row %d at %v, expected %v", i, top, 60*i)
		}
	}
}

// TestConcurrentRegistry registers and folds processors on one registry
// from several goroutines.
func TestConcurrentRegistry(t *testing.T) {
	ctx := context.Background()
	reg := gridz.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	appliers := &gridztest.ApplierRecorder{}
	reg.RegisterApplier(gridz.PointRowClassName, "recorder", appliers.Func())

	gridztest.ParallelTest(t, 10, func(worker int) {
		id := fmt.Sprintf("w%d", worker)
		for i := 0; i < 50; i++ {
			gridz.RegisterProcessor(reg, gridz.RowClassNamePipe, id, gridz.Transform(func(c []string, _ gridz.RowID) []string {
				return append(c, id)
			}))
			if _, err := gridz.ApplyProcessors(ctx, reg, gridz.RowClassNamePipe, nil, gridz.RowID("r")); err != nil {
				t.Errorf("fold failed: %v", err)
				return
			}
		}
	})

	classes, err := gridz.ApplyProcessors(ctx, reg, gridz.RowClassNamePipe, nil, gridz.RowID("r"))
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 10 {
		t.Errorf("expected one class per worker, got %v", classes)
	}
	if appliers.Count() != 10*50 {
		t.Errorf("expected an applier run per registration, got %d", appliers.Count())
	}
}
