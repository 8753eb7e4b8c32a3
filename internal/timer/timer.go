package timer

import (
	"sync"
	"time"
)

// Timer is an owned handle on a scheduled callback.
type Timer interface {
	// Start arms the timer to fire once after d. Re-arming a pending timer
	// discards the earlier schedule.
	Start(d time.Duration)

	// Stop cancels a pending callback. The timer can be started again.
	Stop()

	// Close cancels the timer permanently. Start after Close is a no-op.
	Close()

	// Pending reports whether a callback is scheduled and not yet run.
	Pending() bool
}

// Handle cancels a callback scheduled on a Clock.
type Handle interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Handle
	Now() time.Time
}

// RealClock schedules on the runtime timer heap.
type RealClock struct{}

func (RealClock) AfterFunc(d time.Duration, f func()) Handle { return time.AfterFunc(d, f) }
func (RealClock) Now() time.Time                            { return time.Now() }

// Option configures a CallbackTimer.
type Option func(*CallbackTimer)

// WithClock replaces the real clock, typically with a ManualClock in tests.
func WithClock(c Clock) Option {
	return func(t *CallbackTimer) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithDispatcher posts fired callbacks to post instead of running them on
// the clock goroutine.
func WithDispatcher(post func(func())) Option {
	return func(t *CallbackTimer) {
		if post != nil {
			t.post = post
		}
	}
}

// CallbackTimer is the Timer implementation.
type CallbackTimer struct {
	mu      sync.Mutex
	clock   Clock
	post    func(func())
	fn      func()
	handle  Handle
	gen     uint64
	pending bool
	closed  bool
}

var _ Timer = (*CallbackTimer)(nil)

// New creates a stopped timer bound to fn.
func New(fn func(), opts ...Option) *CallbackTimer {
	t := &CallbackTimer{
		clock: RealClock{},
		post:  func(run func()) { run() },
		fn:    fn,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start arms the timer.
func (t *CallbackTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.cancelLocked()
	t.gen++
	gen := t.gen
	t.pending = true
	t.handle = t.clock.AfterFunc(d, func() { t.fire(gen) })
}

// Stop cancels a pending callback.
func (t *CallbackTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.gen++
	t.pending = false
}

// Close cancels the timer and releases its callback.
func (t *CallbackTimer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.gen++
	t.pending = false
	t.closed = true
	t.fn = nil
}

// Pending reports whether a callback is scheduled.
func (t *CallbackTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *CallbackTimer) cancelLocked() {
	if t.handle != nil {
		t.handle.Stop()
		t.handle = nil
	}
}

func (t *CallbackTimer) current(gen uint64) bool {
	return !t.closed && t.pending && gen == t.gen
}

// fire runs on the clock goroutine.
func (t *CallbackTimer) fire(gen uint64) {
	t.mu.Lock()
	ok := t.current(gen)
	post := t.post
	t.mu.Unlock()

	if !ok {
		return
	}
	post(func() { t.run(gen) })
}

// run executes on the dispatcher and re-checks the generation, since the
// owner may have stopped the timer while the callback was queued.
func (t *CallbackTimer) run(gen uint64) {
	t.mu.Lock()
	if !t.current(gen) {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.handle = nil
	fn := t.fn
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}
