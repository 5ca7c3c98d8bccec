package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/yal212/chess-web-sub000/pkg/clock"
)

var _ clock.Clock = &FakeClock{}

// FakeClock is a manually advanced clock.
// Callbacks run synchronously inside Advance, in deadline order.
type FakeClock struct {
	lock   sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

// NewFakeClock returns a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.seq++
	t := &fakeTimer{
		clock:    c,
		deadline: c.now.Add(d),
		seq:      c.seq,
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d and fires every timer that became due.
// Timers scheduled by a firing callback fire too if they fall within d.
func (c *FakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	target := c.now.Add(d)
	c.lock.Unlock()

	for {
		c.lock.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.lock.Unlock()
			return
		}
		c.removeLocked(next)
		c.now = next.deadline
		c.lock.Unlock()

		next.f()
	}
}

// PendingTimers returns the number of timers that have not fired or been stopped.
func (c *FakeClock) PendingTimers() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.timers)
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *FakeClock) removeLocked(t *fakeTimer) bool {
	for i, pending := range c.timers {
		if pending == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	seq      int
	f        func()
}

func (t *fakeTimer) Stop() bool {
	t.clock.lock.Lock()
	defer t.clock.lock.Unlock()
	return t.clock.removeLocked(t)
}
