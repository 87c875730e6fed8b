// Package testing provides test utilities for gridz features and add-ons.
//
// It includes mock processors that record how a pipe folded them,
// recorders for appliers and bus events, and polling helpers for work that
// completes on another goroutine (debounced hydrations, async handlers).
//
// Example usage:
//
//	func TestMyAddOn(t *testing.T) {
//		mock := gridztest.NewMockProcessor[[]string, gridz.RowID](t, "classes").
//			WithTransform(func(c []string, _ gridz.RowID) []string { return append(c, "x") })
//		gridz.RegisterProcessor(g.Registry(), gridz.RowClassNamePipe, "classes", mock.Process)
//
//		classes, err := g.RowClassNames(ctx, "r1")
//		...
//		gridztest.AssertProcessed(t, mock, 1)
//	}
package testing

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/gridz"
)

// MockProcessor is a configurable processor for any pipe. Its Process
// method has the gridz.ProcessorFunc shape. By default it passes the value
// through unchanged.
type MockProcessor[V, C any] struct { //nolint:govet // fieldalignment: test helper
	t           *testing.T
	transform   func(V, C) V
	returnErr   error
	id          string
	panicMsg    string
	callHistory []MockCall[V, C]
	callCount   int64
	mu          sync.RWMutex
	maxHistory  int
}

// MockCall is one recorded invocation.
type MockCall[V, C any] struct {
	Input     V
	Context   C
	Timestamp time.Time
}

// NewMockProcessor creates a pass-through mock processor.
func NewMockProcessor[V, C any](t *testing.T, id string) *MockProcessor[V, C] {
	return &MockProcessor[V, C]{
		t:          t,
		id:         id,
		maxHistory: 100,
	}
}

// WithTransform makes the mock return fn(value, ctx).
func (m *MockProcessor[V, C]) WithTransform(fn func(V, C) V) *MockProcessor[V, C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transform = fn
	return m
}

// WithError makes the mock fail with err.
func (m *MockProcessor[V, C]) WithError(err error) *MockProcessor[V, C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnErr = err
	return m
}

// WithPanic makes the mock panic with msg.
func (m *MockProcessor[V, C]) WithPanic(msg string) *MockProcessor[V, C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// ID returns the registrant id the mock was created with.
func (m *MockProcessor[V, C]) ID() string {
	return m.id
}

// Process records the call and applies the configured behaviour.
func (m *MockProcessor[V, C]) Process(_ context.Context, value V, pctx C) (V, error) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.Lock()
	if m.maxHistory > 0 {
		m.callHistory = append(m.callHistory, MockCall[V, C]{Input: value, Context: pctx, Timestamp: time.Now()})
		if len(m.callHistory) > m.maxHistory {
			m.callHistory = m.callHistory[1:]
		}
	}
	transform, err, panicMsg := m.transform, m.returnErr, m.panicMsg
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return value, err
	}
	if transform != nil {
		return transform(value, pctx), nil
	}
	return value, nil
}

// CallCount returns how many times Process ran.
func (m *MockProcessor[V, C]) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// LastInput returns the value of the most recent call.
func (m *MockProcessor[V, C]) LastInput() V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zero V
	if len(m.callHistory) == 0 {
		return zero
	}
	return m.callHistory[len(m.callHistory)-1].Input
}

// CallHistory returns a copy of the recorded calls.
func (m *MockProcessor[V, C]) CallHistory() []MockCall[V, C] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.callHistory)
}

// Reset clears the call count and history.
func (m *MockProcessor[V, C]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreInt64(&m.callCount, 0)
	m.callHistory = nil
}

// AssertProcessed fails the test unless mock ran exactly expectedCalls times.
func AssertProcessed[V, C any](t *testing.T, mock *MockProcessor[V, C], expectedCalls int) {
	t.Helper()
	if got := mock.CallCount(); got != expectedCalls {
		t.Errorf("processor %q: expected %d calls, got %d", mock.id, expectedCalls, got)
	}
}

// AssertNotProcessed fails the test if mock ran.
func AssertNotProcessed[V, C any](t *testing.T, mock *MockProcessor[V, C]) {
	t.Helper()
	AssertProcessed(t, mock, 0)
}

// ApplierRecorder counts applier invocations.
type ApplierRecorder struct {
	calls int64
}

// Func returns an applier that records each call.
func (r *ApplierRecorder) Func() func() {
	return func() { atomic.AddInt64(&r.calls, 1) }
}

// Count returns how many times the applier ran.
func (r *ApplierRecorder) Count() int {
	return int(atomic.LoadInt64(&r.calls))
}

// EventRecorder keeps the events delivered to it, in order.
type EventRecorder struct {
	events []gridz.Event
	mu     sync.Mutex
}

// Listen subscribes the recorder to keys as a synchronous store listener.
func (r *EventRecorder) Listen(store *gridz.Store, keys ...gridz.EventKey) {
	for _, key := range keys {
		store.Listen(key, r.Record)
	}
}

// Record stores ev.
func (r *EventRecorder) Record(_ context.Context, ev gridz.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns the recorded events.
func (r *EventRecorder) Events() []gridz.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Names returns the names of the recorded events.
func (r *EventRecorder) Names() []gridz.EventKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]gridz.EventKey, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

// Count returns how many events named key were recorded.
func (r *EventRecorder) Count(key gridz.EventKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == key {
			n++
		}
	}
	return n
}

// Reset drops the recorded events.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// WaitFor polls cond until it holds or timeout passes. It reports whether
// cond held.
func WaitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// Eventually fails the test unless cond holds within timeout.
func Eventually(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	if !WaitFor(cond, timeout) {
		t.Fatalf("condition not met within %v: %s", timeout, msg)
	}
}

// ParallelTest runs testFunc on goroutines goroutines and waits for all.
func ParallelTest(t *testing.T, goroutines int, testFunc func(int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}
	wg.Wait()
}
