package gamesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/realtime"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	// after 1. e4
	posA = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	// posA with different move clocks
	posACounters = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 4 9"
	// posA without the en passant square
	posANoEP = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	// after 1. e4 e5
	posB = "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2"
	// after 1. d4
	posC = "rnbqkbnr/pppppppp/8/8/3P4/8/PPP1PPPP/RNBQKBNR b KQkq d3 0 1"
)

// recorder collects events posted by a component under test.
type recorder struct {
	lock   sync.Mutex
	events []event
}

func (r *recorder) post(ev event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) take() []event {
	r.lock.Lock()
	defer r.lock.Unlock()
	events := r.events
	r.events = nil
	return events
}

type fakeSubscription struct {
	id       string
	gameID   string
	onEvent  realtime.EventHandler
	onStatus realtime.StatusHandler

	lock         sync.Mutex
	unsubscribed bool
}

func (s *fakeSubscription) ID() string {
	return s.id
}

func (s *fakeSubscription) Unsubscribe() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.unsubscribed = true
	return nil
}

func (s *fakeSubscription) Unsubscribed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.unsubscribed
}

// fakeChannel records subscriptions. When autoStatus is set every new
// subscription reports it asynchronously.
type fakeChannel struct {
	lock         sync.Mutex
	subs         []*fakeSubscription
	subscribeErr error
	autoStatus   realtime.Status
}

func (c *fakeChannel) Subscribe(ctx context.Context, gameID string, onEvent realtime.EventHandler, onStatus realtime.StatusHandler) (realtime.Subscription, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}

	sub := &fakeSubscription{
		id:       fmt.Sprintf("sub-%d", len(c.subs)+1),
		gameID:   gameID,
		onEvent:  onEvent,
		onStatus: onStatus,
	}
	c.subs = append(c.subs, sub)

	if status := c.autoStatus; status != "" {
		var err error
		if status != realtime.StatusSubscribed {
			err = fmt.Errorf("simulated %s", status)
		}
		go onStatus(status, err)
	}
	return sub, nil
}

func (c *fakeChannel) count() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.subs)
}

func (c *fakeChannel) last() *fakeSubscription {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.subs) == 0 {
		return nil
	}
	return c.subs[len(c.subs)-1]
}

func (c *fakeChannel) setAutoStatus(status realtime.Status) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.autoStatus = status
}

func moves(n int) []string {
	entries := make([]string, n)
	for i := range entries {
		entries[i] = fmt.Sprintf("m%d", i+1)
	}
	return entries
}

func newSession(pos string, n int) *gametypes.GameSession {
	return &gametypes.GameSession{
		ID:       "g1",
		Position: pos,
		MoveLog:  moves(n),
		Status:   gametypes.GameStatusActive,
		Version:  int64(n + 1),
	}
}
