// Package fakeclock is a manually advanced clock.Clock for tests.
package fakeclock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-social-connect/internal/clock"
)

var _ clock.Clock = (*Clock)(nil)

// Clock only moves when Advance or Set is called. Timer callbacks run
// synchronously on the goroutine that advances the clock.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
	sleeps []time.Duration
}

type timer struct {
	c        *Clock
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func New(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f. Timers that are already due fire on the next Advance or Set,
// never inside AfterFunc itself.
func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{c: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Sleep records the requested duration and returns immediately.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

// Sleeps returns every duration passed to Sleep so far.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Advance moves the clock forward and fires every due timer in deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fireDue()
}

// Set moves the clock to an absolute time.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	c.fireDue()
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// NextDeadline returns the earliest pending timer deadline.
func (c *Clock) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next time.Time
	found := false
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if !found || t.deadline.Before(next) {
			next, found = t.deadline, true
		}
	}
	return next, found
}

func (c *Clock) fireDue() {
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			return c.timers[i].deadline.Before(c.timers[j].deadline)
		})
		var next *timer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.deadline.After(c.now) {
				next = t
				break
			}
		}
		if next != nil {
			next.fired = true
		}
		c.compact()
		c.mu.Unlock()

		if next == nil {
			return
		}
		next.f()
	}
}

// compact drops finished timers; caller holds mu.
func (c *Clock) compact() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
