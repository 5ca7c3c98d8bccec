package gamesync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/realtime"
	"github.com/yal212/chess-web-sub000/pkg/repositories"
	"github.com/yal212/chess-web-sub000/pkg/rules"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testEngineConfig() Config {
	return Config{
		GraceWindow:              200 * time.Millisecond,
		DebounceInterval:         10 * time.Millisecond,
		HeartbeatInterval:        50 * time.Millisecond,
		RetryBaseDelay:           20 * time.Millisecond,
		PollIntervalDisconnected: 40 * time.Millisecond,
		PollIntervalDefault:      60 * time.Millisecond,
		PollIntervalSlow:         100 * time.Millisecond,
		FetchTimeout:             time.Second,
	}
}

// fakeStore serves whatever session was last set.
type fakeStore struct {
	lock    sync.Mutex
	session *gametypes.GameSession
	fetches int
}

func (s *fakeStore) set(session *gametypes.GameSession) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.session = session
}

func (s *fakeStore) FetchGame(ctx context.Context, id string) (*gametypes.GameSession, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.fetches++
	if s.session == nil || s.session.ID != id {
		return nil, &repositories.ErrNotFound{ID: id}
	}
	return s.session.Copy(), nil
}

func (s *fakeStore) Ping(ctx context.Context) error {
	return nil
}

// changeRecorder collects state changes delivered to listeners.
type changeRecorder struct {
	lock    sync.Mutex
	changes []StateChange
}

func (r *changeRecorder) record(change StateChange) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.changes = append(r.changes, change)
}

func (r *changeRecorder) decisions() []Decision {
	r.lock.Lock()
	defer r.lock.Unlock()
	decisions := make([]Decision, len(r.changes))
	for i, change := range r.changes {
		decisions[i] = change.Decision
	}
	return decisions
}

func newTestEngine(t *testing.T, store Store, channel *fakeChannel) (*Engine, *changeRecorder) {
	t.Helper()
	engine, err := NewEngine(NewEngineOptions{
		Store:   store,
		Channel: channel,
		Rules:   rules.NewChessEngine(),
		Config:  testEngineConfig(),
	})
	require.NoError(t, err)

	changes := &changeRecorder{}
	engine.OnStateChange(changes.record)
	t.Cleanup(func() {
		engine.Stop()
	})
	return engine, changes
}

func seedGame(t *testing.T, repo *repositories.InMemoryRepository) *gametypes.GameSession {
	t.Helper()
	game, err := repo.CreateGame(context.Background(), &gametypes.GameSession{
		ID:       "g1",
		Position: posA,
		MoveLog:  []string{"e4"},
		Status:   gametypes.GameStatusActive,
	})
	require.NoError(t, err)
	return game
}

func positionOf(engine *Engine) string {
	session, err := engine.State()
	if err != nil || session == nil {
		return ""
	}
	return session.Position
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(NewEngineOptions{Channel: &fakeChannel{}, Rules: rules.NewChessEngine()})
	assert.Error(t, err)

	_, err = NewEngine(NewEngineOptions{Store: &fakeStore{}, Rules: rules.NewChessEngine()})
	assert.Error(t, err)

	_, err = NewEngine(NewEngineOptions{Store: &fakeStore{}, Channel: &fakeChannel{}})
	assert.Error(t, err)

	_, err = NewEngine(NewEngineOptions{
		Store:   &fakeStore{},
		Channel: &fakeChannel{},
		Rules:   rules.NewChessEngine(),
		Config:  Config{DebounceInterval: time.Second, PollIntervalDisconnected: time.Second},
	})
	assert.Error(t, err)
}

func TestEngine_StartMissingGame(t *testing.T) {
	engine, _ := newTestEngine(t, repositories.NewInMemoryRepository(), &fakeChannel{})

	err := engine.Start(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, repositories.IsNotFound(err))
}

func TestEngine_Realtime(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewInMemoryRepository()
	seedGame(t, repo)
	channel := &fakeChannel{autoStatus: realtime.StatusSubscribed}
	engine, changes := newTestEngine(t, repo, channel)

	require.NoError(t, engine.Start(ctx, "g1"))
	assert.Equal(t, posA, positionOf(engine))
	assert.Equal(t, []Decision{DecisionAdopt}, changes.decisions())
	require.Error(t, engine.Start(ctx, "g1"))

	require.Eventually(t, func() bool {
		transport := engine.Transport()
		return transport.Subscription == SubscriptionActive && !transport.Polling
	}, waitFor, tick)
	assert.True(t, engine.ConnectionStatus().IsConnected)

	status := gametypes.GameStatusActive
	pos := posB
	updated, err := repo.UpdateGame(ctx, "g1", gametypes.GameUpdate{
		Position: &pos,
		MoveLog:  []string{"e4", "e5"},
		Status:   &status,
	}, nil)
	require.NoError(t, err)

	channel.last().onEvent(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: updated})
	require.Eventually(t, func() bool {
		return positionOf(engine) == posB
	}, waitFor, tick)

	session, err := engine.State()
	require.NoError(t, err)
	assert.Equal(t, []string{"e4", "e5"}, session.MoveLog)
	assert.Equal(t, updated.Version, session.Version)
	assert.Equal(t, 1, channel.count())
}

func TestEngine_IgnoresOtherGames(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	store.set(newSession(posA, 1))
	channel := &fakeChannel{autoStatus: realtime.StatusSubscribed}
	engine, _ := newTestEngine(t, store, channel)

	require.NoError(t, engine.Start(ctx, "g1"))
	require.Eventually(t, func() bool {
		return !engine.Transport().Polling
	}, waitFor, tick)

	// let the catch-up fetch after subscribing settle
	time.Sleep(50 * time.Millisecond)
	store.lock.Lock()
	before := store.fetches
	store.lock.Unlock()

	other := newSession(posB, 2)
	other.ID = "g2"
	channel.last().onEvent(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: other})

	time.Sleep(50 * time.Millisecond)
	store.lock.Lock()
	defer store.lock.Unlock()
	assert.Equal(t, before, store.fetches)
}

func TestEngine_FallsBackToPolling(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewInMemoryRepository()
	seedGame(t, repo)
	channel := &fakeChannel{autoStatus: realtime.StatusChannelError}
	engine, _ := newTestEngine(t, repo, channel)

	require.NoError(t, engine.Start(ctx, "g1"))

	require.Eventually(t, func() bool {
		return engine.Transport().FellBack
	}, waitFor, tick)
	transport := engine.Transport()
	assert.True(t, transport.Polling)
	assert.Equal(t, 40*time.Millisecond, transport.PollInterval)
	assert.Equal(t, 4, channel.count(), "initial attempt plus three retries")
	assert.False(t, engine.ConnectionStatus().IsConnected)

	assert.Never(t, func() bool {
		return channel.count() > 4
	}, 200*time.Millisecond, 20*time.Millisecond)

	pos := posB
	_, err := repo.UpdateGame(ctx, "g1", gametypes.GameUpdate{Position: &pos, MoveLog: []string{"e4", "e5"}}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return positionOf(engine) == posB
	}, waitFor, tick)
}

func TestEngine_ReportLocalMutation(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewInMemoryRepository()
	game := seedGame(t, repo)
	channel := &fakeChannel{autoStatus: realtime.StatusSubscribed}
	engine, changes := newTestEngine(t, repo, channel)

	require.Error(t, engine.ReportLocalMutation(ctx, posB, []string{"e4", "e5"}), "not started")
	require.NoError(t, engine.Start(ctx, "g1"))
	require.Eventually(t, func() bool {
		return engine.Transport().Subscription == SubscriptionActive
	}, waitFor, tick)

	require.NoError(t, engine.ReportLocalMutation(ctx, posB, []string{"e4", "e5"}))
	assert.Equal(t, posB, positionOf(engine))
	assert.Contains(t, changes.decisions(), DecisionLocalMutation)

	// the store has not caught up yet
	channel.last().onEvent(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: game})
	assert.Never(t, func() bool {
		return positionOf(engine) != posB
	}, 100*time.Millisecond, tick)

	assert.Error(t, engine.ReportLocalMutation(ctx, "not a position", []string{"e4", "e5"}))
	assert.Error(t, engine.ReportLocalMutation(ctx, posA, nil), "shorter move log")
}

func TestEngine_RejectedMoveRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewInMemoryRepository()
	game := seedGame(t, repo)
	channel := &fakeChannel{autoStatus: realtime.StatusSubscribed}
	engine, _ := newTestEngine(t, repo, channel)

	require.Error(t, engine.Resync(), "not started")
	require.NoError(t, engine.Start(ctx, "g1"))
	require.Eventually(t, func() bool {
		return engine.Transport().Subscription == SubscriptionActive
	}, waitFor, tick)

	require.NoError(t, engine.ReportLocalMutation(ctx, posB, []string{"e4", "e5"}))
	require.Equal(t, posB, positionOf(engine))

	// the write never reaches the store; the next notification after the
	// grace window restores the stored game
	time.Sleep(testEngineConfig().GraceWindow)
	channel.last().onEvent(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: game})
	require.Eventually(t, func() bool {
		return positionOf(engine) == posA
	}, waitFor, tick)

	require.NoError(t, engine.ReportLocalMutation(ctx, posB, []string{"e4", "e5"}))
	require.Equal(t, posB, positionOf(engine))

	require.NoError(t, engine.Resync())
	require.Eventually(t, func() bool {
		session, err := engine.State()
		return err == nil && session.Position == posA && session.MoveCount() == 1
	}, waitFor, tick)
}

func TestEngine_UnrequestedCloseCountsAsAttempt(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewInMemoryRepository()
	seedGame(t, repo)
	channel := &fakeChannel{autoStatus: realtime.StatusSubscribed}
	engine, _ := newTestEngine(t, repo, channel)

	require.NoError(t, engine.Start(ctx, "g1"))
	require.Eventually(t, func() bool {
		return engine.ConnectionStatus().IsConnected
	}, waitFor, tick)

	// the retry subscribes but never reports back
	channel.setAutoStatus("")
	channel.last().onStatus(realtime.StatusClosed, nil)
	require.Eventually(t, func() bool {
		return engine.ConnectionStatus().ConnectionAttempts == 1
	}, waitFor, tick)
	assert.False(t, engine.ConnectionStatus().IsConnected)
}

func TestEngine_SyncDegraded(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	store.set(newSession(posA, 1))
	channel := &fakeChannel{autoStatus: realtime.StatusSubscribed}
	engine, _ := newTestEngine(t, store, channel)

	degraded := make(chan error, 1)
	engine.OnSyncDegraded(func(err error) {
		degraded <- err
	})

	require.NoError(t, engine.Start(ctx, "g1"))
	require.Eventually(t, func() bool {
		return engine.Transport().Subscription == SubscriptionActive
	}, waitFor, tick)

	broken := &gametypes.GameSession{
		ID:       "g1",
		Position: "not a position",
		MoveLog:  []string{"e4", "Qxz9"},
		Status:   gametypes.GameStatusActive,
		Version:  5,
	}
	store.set(broken)
	channel.last().onEvent(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: broken})

	select {
	case err := <-degraded:
		assert.True(t, IsInvalidState(err))
	case <-time.After(waitFor):
		t.Fatal("degraded listener not called")
	}
	assert.Equal(t, posA, positionOf(engine))
}

func TestEngine_Stop(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewInMemoryRepository()
	seedGame(t, repo)
	channel := &fakeChannel{autoStatus: realtime.StatusSubscribed}
	engine, _ := newTestEngine(t, repo, channel)

	require.NoError(t, engine.Stop(), "stop before start")
	require.NoError(t, engine.Start(ctx, "g1"))
	require.Eventually(t, func() bool {
		return engine.Transport().Subscription == SubscriptionActive
	}, waitFor, tick)

	require.NoError(t, engine.Stop())
	require.NoError(t, engine.Stop())

	assert.True(t, channel.last().Unsubscribed())
	transport := engine.Transport()
	assert.Equal(t, SubscriptionClosed, transport.Subscription)
	assert.False(t, transport.Polling)
	assert.Error(t, engine.ReportLocalMutation(ctx, posB, []string{"e4", "e5"}))

	// reports arriving after teardown are dropped
	channel.last().onStatus(realtime.StatusClosed, nil)
	channel.last().onEvent(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: newSession(posB, 2)})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, posA, positionOf(engine))
	assert.Equal(t, 1, channel.count())
}

func ExampleDecision_String() {
	fmt.Println(DecisionSuppressed)
	// Output: suppressed
}
