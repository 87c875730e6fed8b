package gridz

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/tracez"
)

// appendTag returns a rowClassName processor that appends tag.
func appendTag(tag string) ProcessorFunc[[]string, RowID] {
	return Transform(func(classes []string, _ RowID) []string {
		return append(classes, tag)
	})
}

func foldClasses(t *testing.T, r *Registry) []string {
	t.Helper()
	out, err := ApplyProcessors(context.Background(), r, RowClassNamePipe, []string{}, RowID("r1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestRegistryFold(t *testing.T) {
	t.Run("Folds In Registration Order", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		RegisterProcessor(r, RowClassNamePipe, "b", appendTag("b"))
		RegisterProcessor(r, RowClassNamePipe, "c", appendTag("c"))

		if got := foldClasses(t, r); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
			t.Errorf("expected [a b c], got %v", got)
		}
	})

	t.Run("Empty Point Returns Initial", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		out, err := ApplyProcessors(context.Background(), r, RowHeightPipe, HeightSizes{SizeBaseCenter: 52}, RowEntry{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out[SizeBaseCenter] != 52 {
			t.Errorf("expected initial value back, got %v", out)
		}
	})

	t.Run("Each Processor Sees Previous Output And Context", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		var seen []RowID
		RegisterProcessor(r, RowClassNamePipe, "a", Transform(func(c []string, id RowID) []string {
			seen = append(seen, id)
			return append(c, "x")
		}))
		RegisterProcessor(r, RowClassNamePipe, "b", Transform(func(c []string, id RowID) []string {
			seen = append(seen, id)
			return append(c, strings.Repeat("y", len(c)))
		}))

		got := foldClasses(t, r)
		if !reflect.DeepEqual(got, []string{"x", "y"}) {
			t.Errorf("expected [x y], got %v", got)
		}
		if !reflect.DeepEqual(seen, []RowID{"r1", "r1"}) {
			t.Errorf("expected context r1 twice, got %v", seen)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		RegisterProcessor(r, RowClassNamePipe, "b", appendTag("b"))

		first := foldClasses(t, r)
		second := foldClasses(t, r)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("expected identical folds, got %v and %v", first, second)
		}
	})
}

func TestRegistryRegistration(t *testing.T) {
	t.Run("Re-register Replaces In Place", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		RegisterProcessor(r, RowClassNamePipe, "b", appendTag("b"))
		RegisterProcessor(r, RowClassNamePipe, "c", appendTag("c"))
		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("A"))

		if got := foldClasses(t, r); !reflect.DeepEqual(got, []string{"A", "b", "c"}) {
			t.Errorf("expected [A b c], got %v", got)
		}
		if got := r.Processors(PointRowClassName); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
			t.Errorf("expected ids [a b c], got %v", got)
		}
	})

	t.Run("Unregister Mid Sequence Keeps Order", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		for _, id := range []string{"a", "b", "c", "d"} {
			RegisterProcessor(r, RowClassNamePipe, id, appendTag(id))
		}
		UnregisterProcessor(r, RowClassNamePipe, "b")

		if got := foldClasses(t, r); !reflect.DeepEqual(got, []string{"a", "c", "d"}) {
			t.Errorf("expected [a c d], got %v", got)
		}
		if r.Len(PointRowClassName) != 3 {
			t.Errorf("expected 3 processors, got %d", r.Len(PointRowClassName))
		}
	})

	t.Run("Re-register After Unregister Appends", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		RegisterProcessor(r, RowClassNamePipe, "b", appendTag("b"))
		UnregisterProcessor(r, RowClassNamePipe, "a")
		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))

		if got := foldClasses(t, r); !reflect.DeepEqual(got, []string{"b", "a"}) {
			t.Errorf("expected [b a], got %v", got)
		}
	})

	t.Run("Version Counts Mutations", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		if r.Version(PointRowClassName) != 0 {
			t.Fatalf("expected version 0, got %d", r.Version(PointRowClassName))
		}
		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("b"))
		UnregisterProcessor(r, RowClassNamePipe, "a")
		if r.Version(PointRowClassName) != 3 {
			t.Errorf("expected version 3, got %d", r.Version(PointRowClassName))
		}

		UnregisterProcessor(r, RowClassNamePipe, "missing")
		if r.Version(PointRowClassName) != 3 {
			t.Errorf("unknown id must not bump version, got %d", r.Version(PointRowClassName))
		}
		if r.Version(PointRowHeight) != 0 {
			t.Errorf("other points must be untouched, got %d", r.Version(PointRowHeight))
		}
	})

	t.Run("Registries Are Independent", func(t *testing.T) {
		r1 := NewRegistry()
		defer r1.Close()
		r2 := NewRegistry()
		defer r2.Close()

		RegisterProcessor(r1, RowClassNamePipe, "a", appendTag("a"))
		if r2.Len(PointRowClassName) != 0 {
			t.Error("registration leaked into another registry")
		}
	})

	t.Run("Type Mismatch", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		wrong := NewPipe[int, string](PointRowClassName)
		RegisterProcessor(r, wrong, "wrong", Transform(func(v int, _ string) int { return v }))

		_, err := ApplyProcessors(context.Background(), r, RowClassNamePipe, nil, RowID("r1"))
		if !errors.Is(err, ErrPipeTypeMismatch) {
			t.Errorf("expected ErrPipeTypeMismatch, got %v", err)
		}
		var perr *ProcessorError[[]string]
		if !errors.As(err, &perr) || perr.ID != "wrong" || perr.Index != 0 {
			t.Errorf("expected ProcessorError naming the mismatched processor, got %v", err)
		}
		if r.Metrics().Counter(PipeFaultsTotal).Value() != 1 {
			t.Errorf("expected 1 fault, got %f", r.Metrics().Counter(PipeFaultsTotal).Value())
		}
	})

	t.Run("Type Mismatch Isolated", func(t *testing.T) {
		r := NewRegistry().WithFaultPolicy(FaultIsolate)
		defer r.Close()

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		wrong := NewPipe[int, string](PointRowClassName)
		RegisterProcessor(r, wrong, "wrong", Transform(func(v int, _ string) int { return v }))
		RegisterProcessor(r, RowClassNamePipe, "c", appendTag("c"))

		if got := foldClasses(t, r); !reflect.DeepEqual(got, []string{"a", "c"}) {
			t.Errorf("expected [a c], got %v", got)
		}
		if r.Metrics().Counter(PipeFaultsTotal).Value() != 1 {
			t.Errorf("expected 1 fault, got %f", r.Metrics().Counter(PipeFaultsTotal).Value())
		}
	})
}

func TestRegistryAppliers(t *testing.T) {
	t.Run("Invoked Once Per Mutation", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		calls := 0
		r.RegisterApplier(PointRowHeight, "meta", func() { calls++ })

		RegisterProcessor(r, RowHeightPipe, "a", Transform(func(s HeightSizes, _ RowEntry) HeightSizes { return s }))
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		UnregisterProcessor(r, RowHeightPipe, "a")
		if calls != 2 {
			t.Errorf("expected 2 calls, got %d", calls)
		}
		RegisterProcessor(r, RowClassNamePipe, "c", appendTag("c"))
		if calls != 2 {
			t.Errorf("other points must not fire the applier, got %d", calls)
		}
	})

	t.Run("Sees The New Processor Set", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		var seen []string
		r.RegisterApplier(PointRowClassName, "observer", func() {
			seen = foldClasses(t, r)
		})
		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))

		if !reflect.DeepEqual(seen, []string{"a"}) {
			t.Errorf("expected applier to see [a], got %v", seen)
		}
	})

	t.Run("Replace Applier By ID", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		first, second := 0, 0
		r.RegisterApplier(PointRowClassName, "x", func() { first++ })
		r.RegisterApplier(PointRowClassName, "x", func() { second++ })
		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))

		if first != 0 || second != 1 {
			t.Errorf("expected only the replacement to run, got %d/%d", first, second)
		}

		r.UnregisterApplier(PointRowClassName, "x")
		RegisterProcessor(r, RowClassNamePipe, "b", appendTag("b"))
		if second != 1 {
			t.Errorf("unregistered applier ran")
		}
	})

	t.Run("Nested Mutations Are Queued", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		var order []string
		r.RegisterApplier(PointRowClassName, "first", func() {
			order = append(order, "first:start")
			if r.Len(PointRowHeight) == 0 {
				RegisterProcessor(r, RowHeightPipe, "nested", Transform(func(s HeightSizes, _ RowEntry) HeightSizes { return s }))
			}
			order = append(order, "first:end")
		})
		r.RegisterApplier(PointRowClassName, "second", func() {
			order = append(order, "second")
		})
		r.RegisterApplier(PointRowHeight, "height", func() {
			order = append(order, "height")
		})

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))

		want := []string{"first:start", "first:end", "second", "height"}
		if !reflect.DeepEqual(order, want) {
			t.Errorf("expected %v, got %v", want, order)
		}
	})

	t.Run("Applier Panic Is Contained", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		after := 0
		r.RegisterApplier(PointRowClassName, "bad", func() { panic("applier failure") })
		r.RegisterApplier(PointRowClassName, "good", func() { after++ })

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		if after != 1 {
			t.Errorf("expected later applier to run, got %d", after)
		}
	})
}

func TestRegistryFaults(t *testing.T) {
	failing := func(ctx context.Context, c []string, _ RowID) ([]string, error) {
		return append(c, "partial"), errors.New("processor failure")
	}

	t.Run("Propagate Stops The Fold", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		RegisterProcessor(r, RowClassNamePipe, "bad", failing)
		RegisterProcessor(r, RowClassNamePipe, "c", appendTag("c"))

		out, err := ApplyProcessors(context.Background(), r, RowClassNamePipe, []string{}, RowID("r1"))
		var perr *ProcessorError[[]string]
		if !errors.As(err, &perr) {
			t.Fatalf("expected ProcessorError, got %v", err)
		}
		if perr.ID != "bad" || perr.Point != PointRowClassName || perr.Index != 1 {
			t.Errorf("unexpected error context: %+v", perr)
		}
		if !reflect.DeepEqual(perr.InputData, []string{"a"}) {
			t.Errorf("expected input [a], got %v", perr.InputData)
		}
		if !reflect.DeepEqual(out, []string{"a"}) {
			t.Errorf("expected accumulator before the fault, got %v", out)
		}
		if r.Metrics().Counter(PipeFaultsTotal).Value() != 1 {
			t.Errorf("expected 1 fault, got %f", r.Metrics().Counter(PipeFaultsTotal).Value())
		}
	})

	t.Run("Isolate Skips The Processor", func(t *testing.T) {
		r := NewRegistry().WithFaultPolicy(FaultIsolate)
		defer r.Close()

		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
		RegisterProcessor(r, RowClassNamePipe, "bad", failing)
		RegisterProcessor(r, RowClassNamePipe, "c", appendTag("c"))

		if got := foldClasses(t, r); !reflect.DeepEqual(got, []string{"a", "c"}) {
			t.Errorf("expected [a c], got %v", got)
		}
		if r.Metrics().Counter(PipeFaultsTotal).Value() != 1 {
			t.Errorf("expected 1 fault, got %f", r.Metrics().Counter(PipeFaultsTotal).Value())
		}
	})

	t.Run("Panic Becomes Error", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()

		RegisterProcessor(r, RowClassNamePipe, "boom", Transform(func([]string, RowID) []string {
			panic("processor exploded")
		}))

		_, err := ApplyProcessors(context.Background(), r, RowClassNamePipe, []string{}, RowID("r1"))
		var perr *ProcessorError[[]string]
		if !errors.As(err, &perr) {
			t.Fatalf("expected ProcessorError, got %v", err)
		}
		if !perr.Panic {
			t.Error("expected panic flag")
		}
		if !strings.Contains(err.Error(), "processor exploded") {
			t.Errorf("expected panic value in message, got %q", err.Error())
		}
	})

	t.Run("Canceled Context", func(t *testing.T) {
		r := NewRegistry()
		defer r.Close()
		RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := ApplyProcessors(ctx, r, RowClassNamePipe, []string{}, RowID("r1"))
		var perr *ProcessorError[[]string]
		if !errors.As(err, &perr) || !perr.IsCanceled() {
			t.Errorf("expected canceled ProcessorError, got %v", err)
		}
	})
}

func TestParseFaultPolicy(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want FaultPolicy
		err  bool
	}{
		{"", FaultPropagate, false},
		{"propagate", FaultPropagate, false},
		{"isolate", FaultIsolate, false},
		{"ignore", FaultPropagate, true},
	} {
		got, err := ParseFaultPolicy(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("%q: unexpected error %v", tc.in, err)
		}
		if err == nil && got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestRegistryObservability(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	var spans []tracez.Span
	var mu sync.Mutex
	r.Tracer().OnSpanComplete(func(span tracez.Span) {
		mu.Lock()
		spans = append(spans, span)
		mu.Unlock()
	})

	RegisterProcessor(r, RowClassNamePipe, "a", appendTag("a"))
	foldClasses(t, r)

	if r.Metrics().Counter(PipeAppliedTotal).Value() != 1 {
		t.Errorf("expected 1 fold, got %f", r.Metrics().Counter(PipeAppliedTotal).Value())
	}
	if r.Metrics().Counter(RegistryMutationsTotal).Value() != 1 {
		t.Errorf("expected 1 mutation, got %f", r.Metrics().Counter(RegistryMutationsTotal).Value())
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(spans) == 0 {
		t.Fatal("expected a span")
	}
	if spans[0].Name != PipeApplySpan {
		t.Errorf("expected span %s, got %s", PipeApplySpan, spans[0].Name)
	}
	if spans[0].Tags[PipeTagPoint] != string(PointRowClassName) {
		t.Errorf("expected point tag, got %v", spans[0].Tags)
	}
}
