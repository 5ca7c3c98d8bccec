package gamesync

import (
	"time"

	"github.com/yal212/chess-web-sub000/pkg/clock"
)

// PollingLoop periodically asks the engine to re-fetch the game.
// It is not safe for concurrent use; the engine loop drives it.
type PollingLoop struct {
	clock clock.Clock
	post  eventSink

	running  bool
	interval time.Duration
	timer    clock.Timer
	seq      uint64
}

func NewPollingLoop(clk clock.Clock, post eventSink) *PollingLoop {
	return &PollingLoop{
		clock: clk,
		post:  post,
	}
}

// Start (re)starts the loop with interval. A running loop is stopped and
// started again rather than adjusted in place.
func (p *PollingLoop) Start(interval time.Duration) {
	p.Stop()
	p.running = true
	p.interval = interval
	p.schedule()
}

// Stop cancels the loop. It is idempotent.
func (p *PollingLoop) Stop() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.running = false
	p.seq++
}

// Tick consumes a tick tagged seq and schedules the next one. It reports
// false for ticks of a loop that was stopped or restarted since.
func (p *PollingLoop) Tick(seq uint64) bool {
	if !p.running || seq != p.seq {
		return false
	}
	p.schedule()
	return true
}

func (p *PollingLoop) Running() bool {
	return p.running
}

func (p *PollingLoop) Interval() time.Duration {
	return p.interval
}

func (p *PollingLoop) schedule() {
	seq := p.seq
	p.timer = p.clock.AfterFunc(p.interval, func() {
		p.post(event{kind: eventPollTick, seq: seq})
	})
}
