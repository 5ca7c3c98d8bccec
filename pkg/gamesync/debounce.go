package gamesync

import (
	"time"

	"github.com/yal212/chess-web-sub000/pkg/clock"
)

// Debouncer collapses bursts of fetch triggers into a single fetch that runs
// once the triggers have been quiet for a fixed period.
type Debouncer struct {
	clock clock.Clock
	quiet time.Duration
	post  eventSink

	timer   clock.Timer
	seq     uint64
	pending bool
}

func NewDebouncer(clk clock.Clock, quiet time.Duration, post eventSink) *Debouncer {
	return &Debouncer{
		clock: clk,
		quiet: quiet,
		post:  post,
	}
}

// Trigger cancels any scheduled fetch and schedules a new one.
func (d *Debouncer) Trigger() {
	d.Cancel()
	d.pending = true
	seq := d.seq
	d.timer = d.clock.AfterFunc(d.quiet, func() {
		d.post(event{kind: eventFetch, seq: seq})
	})
}

// Fire consumes the fetch tagged seq. It reports false for fetches that were
// superseded or cancelled after their timer fired.
func (d *Debouncer) Fire(seq uint64) bool {
	if !d.pending || seq != d.seq {
		return false
	}
	d.pending = false
	d.timer = nil
	return true
}

// Cancel drops the scheduled fetch, if any.
func (d *Debouncer) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
	d.seq++
}

func (d *Debouncer) Pending() bool {
	return d.pending
}
