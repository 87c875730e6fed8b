package gridz

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// debouncer runs fn once after delay has passed without another Schedule.
// Each Schedule pushes the deadline out (trailing edge); fn never runs while
// a later deadline is pending.
type debouncer struct {
	deadline time.Time
	clock    clockz.Clock
	fn       func()
	stop     chan struct{}
	delay    time.Duration
	mu       sync.Mutex
	pending  bool
	waiting  bool
	gen      uint64
}

func newDebouncer(clock clockz.Clock, delay time.Duration, fn func()) *debouncer {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &debouncer{
		clock: clock,
		delay: delay,
		fn:    fn,
		stop:  make(chan struct{}),
	}
}

// Schedule arms or re-arms the debouncer.
func (d *debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stop:
		return
	default:
	}

	d.pending = true
	d.deadline = d.clock.Now().Add(d.delay)
	if d.waiting {
		return
	}
	d.waiting = true
	// The timer channel is created here, not in the goroutine, so a clock
	// advanced right after Schedule returns always sees it.
	wake := d.clock.After(d.delay)
	go d.wait(wake, d.gen)
}

func (d *debouncer) wait(wake <-chan time.Time, gen uint64) {
	for {
		select {
		case <-d.stop:
			return
		case <-wake:
		}

		d.mu.Lock()
		if gen != d.gen || !d.pending {
			d.waiting = false
			d.mu.Unlock()
			return
		}
		if remaining := d.deadline.Sub(d.clock.Now()); remaining > 0 {
			wake = d.clock.After(remaining)
			d.mu.Unlock()
			continue
		}
		d.pending = false
		d.waiting = false
		d.mu.Unlock()

		d.fn()
		return
	}
}

// Pending reports whether a run is scheduled.
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Cancel drops a scheduled run. A goroutine already waiting on the clock
// exits when it wakes.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = false
	d.waiting = false
	d.gen++
}

// Flush runs a scheduled run now instead of waiting for the deadline.
func (d *debouncer) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	d.pending = false
	d.waiting = false
	d.gen++
	d.mu.Unlock()

	d.fn()
	return true
}

// Stop cancels any scheduled run and refuses new ones.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	d.pending = false
	d.gen++
}
