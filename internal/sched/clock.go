package sched

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time so the supervisor can be driven deterministically
// in tests. SystemClock delegates to the time package.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) CancelFunc
}

// CancelFunc stops a pending callback. It reports whether the callback was
// still pending when cancelled.
type CancelFunc func() bool

type systemClock struct{}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) CancelFunc {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// ManualClock is a controllable clock for tests and simulations. Callbacks
// fire synchronously inside Advance, in deadline order; ties fire in
// registration order.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*manualEntry
}

type manualEntry struct {
	deadline time.Time
	seq      int
	fn       func()
	stopped  bool
}

// NewManualClock creates a manual clock starting at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) CancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	entry := &manualEntry{deadline: c.now.Add(d), seq: c.seq, fn: f}
	c.seq++
	c.pending = append(c.pending, entry)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if entry.stopped {
			return false
		}
		entry.stopped = true
		return true
	}
}

// Advance moves the clock forward and fires every callback whose deadline
// has been reached, including callbacks scheduled while advancing.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		entry := c.popDueLocked(target)
		if entry == nil {
			break
		}
		if entry.deadline.After(c.now) {
			c.now = entry.deadline
		}
		c.mu.Unlock()
		entry.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *ManualClock) popDueLocked(target time.Time) *manualEntry {
	live := c.pending[:0]
	for _, e := range c.pending {
		if !e.stopped {
			live = append(live, e)
		}
	}
	c.pending = live
	if len(c.pending) == 0 {
		return nil
	}
	sort.SliceStable(c.pending, func(i, j int) bool {
		if c.pending[i].deadline.Equal(c.pending[j].deadline) {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].deadline.Before(c.pending[j].deadline)
	})
	head := c.pending[0]
	if head.deadline.After(target) {
		return nil
	}
	head.stopped = true
	c.pending = c.pending[1:]
	return head
}
