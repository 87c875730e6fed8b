package gridz

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("SetState Replaces The Tree", func(t *testing.T) {
		s := NewStore("g", State{Density: DensityStandard})
		defer s.Close()

		before := s.GetState()
		s.SetState(func(st State) State {
			st.Density = DensityCompact
			return st
		})

		if s.GetState().Density != DensityCompact {
			t.Errorf("expected compact, got %s", s.GetState().Density)
		}
		if before.Density != DensityStandard {
			t.Error("earlier snapshot changed")
		}
	})

	t.Run("Listeners Run Synchronously In Order", func(t *testing.T) {
		s := NewStore("g", State{})
		defer s.Close()

		var order []string
		s.Listen(EventColumnsChange, func(context.Context, Event) { order = append(order, "first") })
		s.Listen(EventColumnsChange, func(context.Context, Event) { order = append(order, "second") })
		s.Listen(EventRowsSet, func(context.Context, Event) { order = append(order, "rows") })

		s.Publish(ctx, EventColumnsChange, Event{})
		if !reflect.DeepEqual(order, []string{"first", "second"}) {
			t.Errorf("expected [first second], got %v", order)
		}
	})

	t.Run("Events Carry Name And Grid", func(t *testing.T) {
		s := NewStore("grid-1", State{})
		defer s.Close()

		var got Event
		s.Listen(EventDensityChange, func(_ context.Context, ev Event) { got = ev })
		s.Publish(ctx, EventDensityChange, Event{Payload: DensityCompact})

		if got.Name != EventDensityChange || got.GridID != "grid-1" || got.Payload != DensityCompact {
			t.Errorf("unexpected event %+v", got)
		}
		if got.Timestamp.IsZero() {
			t.Error("expected timestamp")
		}
	})

	t.Run("Async Handlers Receive Events", func(t *testing.T) {
		s := NewStore("g", State{})
		defer s.Close()

		var mu sync.Mutex
		received := 0
		if err := s.On(EventColumnsChange, func(context.Context, Event) error {
			mu.Lock()
			received++
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		s.Publish(ctx, EventColumnsChange, Event{})

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			n := received
			mu.Unlock()
			if n == 1 {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Error("handler never ran")
	})

	t.Run("ForceUpdate Counts Renders", func(t *testing.T) {
		s := NewStore("g", State{})
		defer s.Close()

		renders := 0
		s.Listen(EventRender, func(context.Context, Event) { renders++ })
		s.ForceUpdate(ctx)
		s.ForceUpdate(ctx)

		if s.Renders() != 2 || renders != 2 {
			t.Errorf("expected 2 renders, got %d/%d", s.Renders(), renders)
		}
	})
}
