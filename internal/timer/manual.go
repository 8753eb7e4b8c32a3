package timer

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a Clock that only moves when Advance is called. Callbacks
// run synchronously on the goroutine calling Advance.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	waiters []*manualWaiter
}

type manualWaiter struct {
	clock *ManualClock
	at    time.Time
	seq   uint64
	f     func()
	done  bool
}

var _ Clock = (*ManualClock)(nil)

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	w := &manualWaiter{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.waiters = append(c.waiters, w)
	return w
}

// Advance moves the clock forward by d and runs every callback that
// became due, in deadline order. Callbacks scheduled while advancing run
// too if their deadline has already passed.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		due := c.popDue()
		if len(due) == 0 {
			return
		}
		for _, w := range due {
			w.f()
		}
	}
}

// Waiting returns the number of scheduled callbacks that have not run or
// been stopped.
func (c *ManualClock) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *ManualClock) popDue() []*manualWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, rest []*manualWaiter
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.done = true
			due = append(due, w)
		} else {
			rest = append(rest, w)
		}
	}
	c.waiters = rest
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due
}

func (w *manualWaiter) Stop() bool {
	c := w.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.done {
		return false
	}
	w.done = true
	for i, other := range c.waiters {
		if other == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	return true
}
