package gridz

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Registry.
const (
	// Metrics.
	RegistryMutationsTotal = metricz.Key("registry.mutations.total")
	RegistryAppliersTotal  = metricz.Key("registry.appliers.total")
	PipeAppliedTotal       = metricz.Key("pipe.applied.total")
	PipeFaultsTotal        = metricz.Key("pipe.faults.total")
	PipeDurationMs         = metricz.Key("pipe.duration.ms")

	// Spans.
	PipeApplySpan = tracez.Key("pipe.apply")

	// Tags.
	PipeTagPoint          = tracez.Tag("pipe.point")
	PipeTagProcessorCount = tracez.Tag("pipe.processor_count")
	PipeTagError          = tracez.Tag("pipe.error")
)

// FaultPolicy decides what a pipe fold does when a processor fails.
type FaultPolicy int

const (
	// FaultPropagate aborts the fold and returns the processor error to the
	// caller. Nothing downstream of the fold is committed.
	FaultPropagate FaultPolicy = iota
	// FaultIsolate logs the failure, leaves the accumulator as it was before
	// the failing processor and continues with the next one.
	FaultIsolate
)

func (p FaultPolicy) String() string {
	switch p {
	case FaultPropagate:
		return "propagate"
	case FaultIsolate:
		return "isolate"
	default:
		return "unknown"
	}
}

// ParseFaultPolicy parses "propagate" or "isolate".
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch s {
	case "", "propagate":
		return FaultPropagate, nil
	case "isolate":
		return FaultIsolate, nil
	}
	return FaultPropagate, fmt.Errorf("unknown fault policy %q", s)
}

type registration struct {
	fn any
	id string
}

type applier struct {
	fn func()
	id string
}

// Registry holds the processors and appliers of one grid instance.
//
// Processors are kept per extension point in registration order. The
// registrant id only gives replace-on-re-register semantics: registering an
// id that is already present swaps the function in place, it never moves or
// duplicates the entry.
//
// Every mutation bumps the point's version and then runs the point's
// appliers once, after the registry lock is released. Mutations made by an
// applier are queued and dispatched after the current batch finishes, so
// appliers never interleave with each other.
type Registry struct {
	processors  map[Point][]registration
	versions    map[Point]uint64
	appliers    map[Point][]applier
	logger      *log.Logger
	metrics     *metricz.Registry
	tracer      *tracez.Tracer
	pending     []Point
	mu          sync.RWMutex
	dispatchMu  sync.Mutex
	policy      FaultPolicy
	dispatching bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	metrics := metricz.New()
	metrics.Counter(RegistryMutationsTotal)
	metrics.Counter(RegistryAppliersTotal)
	metrics.Counter(PipeAppliedTotal)
	metrics.Counter(PipeFaultsTotal)
	metrics.Gauge(PipeDurationMs)

	return &Registry{
		processors: make(map[Point][]registration),
		versions:   make(map[Point]uint64),
		appliers:   make(map[Point][]applier),
		logger:     log.New(io.Discard),
		metrics:    metrics,
		tracer:     tracez.New(),
	}
}

// WithFaultPolicy sets how folds react to failing processors.
func (r *Registry) WithFaultPolicy(policy FaultPolicy) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
	return r
}

// WithLogger sets the logger used for isolated faults and applier panics.
func (r *Registry) WithLogger(logger *log.Logger) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger != nil {
		r.logger = logger
	}
	return r
}

// FaultPolicy returns the current fault policy.
func (r *Registry) FaultPolicy() FaultPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// RegisterProcessor stores fn under (pipe's point, id). Re-registering an id
// replaces its function at the same position.
func RegisterProcessor[V, C any](r *Registry, pipe Pipe[V, C], id string, fn ProcessorFunc[V, C]) {
	r.register(pipe.point, id, fn)
}

// UnregisterProcessor removes the processor registered under id at pipe's point.
func UnregisterProcessor[V, C any](r *Registry, pipe Pipe[V, C], id string) {
	r.Unregister(pipe.point, id)
}

func (r *Registry) register(point Point, id string, fn any) {
	r.mu.Lock()
	list := slices.Clone(r.processors[point])
	idx := slices.IndexFunc(list, func(e registration) bool { return e.id == id })
	if idx >= 0 {
		list[idx].fn = fn
	} else {
		list = append(list, registration{id: id, fn: fn})
	}
	r.processors[point] = list
	r.versions[point]++
	r.mu.Unlock()

	r.metrics.Counter(RegistryMutationsTotal).Inc()
	r.dispatch(point)
}

// Unregister removes the processor registered under id at point. Removing an
// id that is not registered changes nothing and runs no appliers.
func (r *Registry) Unregister(point Point, id string) {
	r.mu.Lock()
	list := r.processors[point]
	idx := slices.IndexFunc(list, func(e registration) bool { return e.id == id })
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	r.processors[point] = slices.Delete(slices.Clone(list), idx, idx+1)
	r.versions[point]++
	r.mu.Unlock()

	r.metrics.Counter(RegistryMutationsTotal).Inc()
	r.dispatch(point)
}

// RegisterApplier stores a recomputation callback for point under id.
// Registering an id twice replaces the callback.
func (r *Registry) RegisterApplier(point Point, id string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := slices.Clone(r.appliers[point])
	idx := slices.IndexFunc(list, func(a applier) bool { return a.id == id })
	if idx >= 0 {
		list[idx].fn = fn
	} else {
		list = append(list, applier{id: id, fn: fn})
	}
	r.appliers[point] = list
}

// UnregisterApplier removes the applier registered under id at point.
func (r *Registry) UnregisterApplier(point Point, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.appliers[point]
	idx := slices.IndexFunc(list, func(a applier) bool { return a.id == id })
	if idx >= 0 {
		r.appliers[point] = slices.Delete(slices.Clone(list), idx, idx+1)
	}
}

// Version returns the number of processor mutations seen at point.
func (r *Registry) Version(point Point) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions[point]
}

// Processors returns the registrant ids at point in fold order.
func (r *Registry) Processors(point Point) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.processors[point]
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.id
	}
	return ids
}

// Len returns the number of processors registered at point.
func (r *Registry) Len(point Point) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processors[point])
}

// Metrics returns the metrics registry.
func (r *Registry) Metrics() *metricz.Registry {
	return r.metrics
}

// Tracer returns the tracer.
func (r *Registry) Tracer() *tracez.Tracer {
	return r.tracer
}

// Close shuts down the tracer.
func (r *Registry) Close() error {
	if r.tracer != nil {
		r.tracer.Close()
	}
	return nil
}

func (r *Registry) dispatch(point Point) {
	r.dispatchMu.Lock()
	r.pending = append(r.pending, point)
	if r.dispatching {
		r.dispatchMu.Unlock()
		return
	}
	r.dispatching = true
	for len(r.pending) > 0 {
		next := r.pending[0]
		r.pending = r.pending[1:]
		r.dispatchMu.Unlock()

		r.mu.RLock()
		appliers := r.appliers[next]
		r.mu.RUnlock()
		for _, a := range appliers {
			r.runApplier(next, a)
		}

		r.dispatchMu.Lock()
	}
	r.dispatching = false
	r.dispatchMu.Unlock()
}

func (r *Registry) runApplier(point Point, a applier) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("applier panicked", "point", point, "applier", a.id, "panic", rec)
		}
	}()
	r.metrics.Counter(RegistryAppliersTotal).Inc()
	a.fn()
}

// ApplyProcessors folds every processor registered at pipe's point over
// initial, in registration order. Each processor receives the previous
// processor's output and pctx.
//
// Under FaultPropagate the first failing processor stops the fold and its
// *ProcessorError is returned together with the accumulator as it stood
// before that processor ran. Under FaultIsolate the failure is logged and
// counted and the fold moves on with the accumulator unchanged. A processor
// registered with a different pipe type at the same point is a fault
// wrapping ErrPipeTypeMismatch.
func ApplyProcessors[V, C any](ctx context.Context, r *Registry, pipe Pipe[V, C], initial V, pctx C) (V, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.RLock()
	entries := r.processors[pipe.point]
	policy := r.policy
	logger := r.logger
	r.mu.RUnlock()

	r.metrics.Counter(PipeAppliedTotal).Inc()
	start := time.Now()

	ctx, span := r.tracer.StartSpan(ctx, PipeApplySpan)
	span.SetTag(PipeTagPoint, string(pipe.point))
	span.SetTag(PipeTagProcessorCount, strconv.Itoa(len(entries)))
	defer func() {
		r.metrics.Gauge(PipeDurationMs).Set(float64(time.Since(start).Milliseconds()))
		span.Finish()
	}()

	acc := initial
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			span.SetTag(PipeTagError, err.Error())
			return acc, &ProcessorError[V]{
				InputData: acc,
				Timestamp: time.Now(),
				Err:       err,
				Point:     pipe.point,
				ID:        e.id,
				Index:     i,
				Canceled:  true,
			}
		}

		stageStart := time.Now()
		var (
			panicked bool
			err      error
		)
		if fn, ok := e.fn.(ProcessorFunc[V, C]); ok {
			var out V
			out, panicked, err = invokeProcessor(ctx, fn, acc, pctx)
			if err == nil {
				acc = out
				continue
			}
		} else {
			err = fmt.Errorf("%w: %s/%s", ErrPipeTypeMismatch, pipe.point, e.id)
		}

		perr := &ProcessorError[V]{
			InputData: acc,
			Timestamp: time.Now(),
			Err:       err,
			Point:     pipe.point,
			ID:        e.id,
			Duration:  time.Since(stageStart),
			Index:     i,
			Panic:     panicked,
		}
		r.metrics.Counter(PipeFaultsTotal).Inc()

		if policy == FaultIsolate {
			logger.Warn("processor skipped", "point", pipe.point, "processor", e.id, "err", err)
			continue
		}
		span.SetTag(PipeTagError, perr.Error())
		return acc, perr
	}
	return acc, nil
}
