package gamesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yal212/chess-web-sub000/pkg/clock"
	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/queue"
	"github.com/yal212/chess-web-sub000/pkg/realtime"
	"github.com/yal212/chess-web-sub000/pkg/repositories"
	"github.com/yal212/chess-web-sub000/pkg/rules"
	"github.com/yal212/chess-web-sub000/pkg/state"
)

// Store is the read side of the persistent store used by the engine.
type Store interface {
	FetchGame(ctx context.Context, id string) (*gametypes.GameSession, error)
	Ping(ctx context.Context) error
}

// StateChange is delivered to state listeners whenever the visible game
// state changes.
type StateChange struct {
	Session  *gametypes.GameSession
	Decision Decision
}

// TransportState describes which delivery paths are active.
type TransportState struct {
	Subscription SubscriptionState `json:"subscription"`
	RetryCount   int               `json:"retryCount"`
	FellBack     bool              `json:"fellBack"`
	Polling      bool              `json:"polling"`
	PollInterval time.Duration     `json:"pollInterval"`
}

// Engine keeps one cached game session in sync with the store over a push
// channel with polling as the fallback path. All state is owned by a single
// loop goroutine that consumes one inbound event queue.
type Engine struct {
	store   Store
	channel realtime.Channel
	rules   rules.RuleEngine
	config  Config
	clock   clock.Clock
	cache   state.StateManager
	events  *queue.InMemoryQueue[event]
	logger  *log.Logger

	lock    sync.Mutex
	gameID  string
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup

	monitor      *ConnectionMonitor
	subscription *SubscriptionController
	polling      *PollingLoop
	debouncer    *Debouncer
	reconciler   *Reconciler

	transportLock sync.RWMutex
	transport     TransportState

	stateListeners    listenerManager[StateChange]
	degradedListeners listenerManager[error]
}

type NewEngineOptions struct {
	Store   Store
	Channel realtime.Channel
	Rules   rules.RuleEngine
	Config  Config
	// Clock defaults to the real clock
	Clock clock.Clock
	// Cache defaults to an in-memory cache
	Cache state.StateManager
}

func NewEngine(opts NewEngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("channel is required")
	}
	if opts.Rules == nil {
		return nil, fmt.Errorf("rule engine is required")
	}

	config := opts.Config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	cache := opts.Cache
	if cache == nil {
		cache = state.NewInMemoryStateManager()
	}

	e := &Engine{
		store:   opts.Store,
		channel: opts.Channel,
		rules:   opts.Rules,
		config:  config,
		clock:   clk,
		cache:   cache,
		events:  queue.NewInMemoryQueue[event](config.EventQueueSize),
		logger:  log.With("component", "engine"),
		done:    make(chan struct{}),
	}
	e.monitor = NewConnectionMonitor(NewConnectionMonitorOptions{
		Config: config,
		Clock:  clk,
		Prober: opts.Store,
		Post:   e.post,
	})
	e.polling = NewPollingLoop(clk, e.post)
	e.debouncer = NewDebouncer(clk, config.DebounceInterval, e.post)

	return e, nil
}

// OnStateChange registers a listener for visible state changes. Listeners
// run in order on the engine loop and must not call back into the engine.
func (e *Engine) OnStateChange(listener func(StateChange)) {
	e.stateListeners.RegisterHandler(listener)
}

// OnSyncDegraded registers a listener for snapshots that could not be
// merged. The engine keeps running after reporting one.
func (e *Engine) OnSyncDegraded(listener func(error)) {
	e.degradedListeners.RegisterHandler(listener)
}

// OnConnectionStatus registers a listener for connection status changes.
func (e *Engine) OnConnectionStatus(listener func(ConnectionStatus)) {
	e.monitor.RegisterListener(listener)
}

// Start loads the game and starts syncing it. The engine runs until Stop is
// called or ctx is done. It fails if the game does not exist.
func (e *Engine) Start(ctx context.Context, gameID string) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	if gameID == "" {
		return fmt.Errorf("game id is required")
	}

	e.gameID = gameID
	e.logger = log.With("component", "engine").With("game", gameID)
	e.subscription = NewSubscriptionController(NewSubscriptionControllerOptions{
		GameID:  gameID,
		Channel: e.channel,
		Config:  e.config,
		Clock:   e.clock,
		Post:    e.post,
	})
	e.reconciler = NewReconciler(NewReconcilerOptions{
		GameID:      gameID,
		Rules:       e.rules,
		Cache:       e.cache,
		Clock:       e.clock,
		GraceWindow: e.config.GraceWindow,
	})

	fetchCtx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
	remote, err := e.store.FetchGame(fetchCtx, gameID)
	cancel()
	if err != nil {
		if repositories.IsNotFound(err) {
			return fmt.Errorf("failed to start sync: %w", err)
		}
		e.logger.Warn("Initial fetch failed, continuing with polling: %v", err)
	} else {
		e.handleResult(e.reconciler.Reconcile(ctx, remote, nil))
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	e.cancel = loopCancel
	e.started = true

	e.updateTransport()
	e.subscription.Subscribe(loopCtx)
	e.publishTransport()

	e.wg.Add(1)
	go e.run(loopCtx)

	e.logger.Info("Sync started")
	return nil
}

// Stop tears the engine down: heartbeat, polling, subscription and any
// pending fetch, in that order. It is idempotent.
func (e *Engine) Stop() error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if !e.started || e.stopped {
		return nil
	}
	e.stopped = true

	e.cancel()
	close(e.done)
	e.wg.Wait()

	e.monitor.StopHeartbeat()
	e.polling.Stop()
	e.subscription.Close()
	e.debouncer.Cancel()
	e.events.ClearQueue()
	e.publishTransport()

	e.logger.Info("Sync stopped")
	return nil
}

// ReportLocalMutation applies a move made on this client before the store
// confirms it. The position is kept against stale remote snapshots for the
// grace window.
func (e *Engine) ReportLocalMutation(ctx context.Context, position string, moveLog []string) error {
	result := make(chan error, 1)
	entries := make([]string, len(moveLog))
	copy(entries, moveLog)

	select {
	case <-e.done:
		return fmt.Errorf("engine stopped")
	default:
	}
	if !e.isStarted() {
		return fmt.Errorf("engine not started")
	}
	if err := e.events.Enqueue(event{kind: eventLocalMutation, position: position, moveLog: entries, result: result}); err != nil {
		return fmt.Errorf("failed to queue local mutation: %w", err)
	}

	select {
	case err := <-result:
		return err
	case <-e.done:
		return fmt.Errorf("engine stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resync drops the guard of a local mutation the store did not accept and
// fetches the stored game, which replaces the unconfirmed moves.
func (e *Engine) Resync() error {
	if !e.isStarted() {
		return fmt.Errorf("engine not started")
	}
	e.post(event{kind: eventResync})
	return nil
}

// State returns a copy of the cached game session, or nil before it loads.
func (e *Engine) State() (*gametypes.GameSession, error) {
	return e.cache.Get(context.Background())
}

func (e *Engine) ConnectionStatus() ConnectionStatus {
	return e.monitor.Status()
}

func (e *Engine) Transport() TransportState {
	e.transportLock.RLock()
	defer e.transportLock.RUnlock()
	return e.transport
}

func (e *Engine) isStarted() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.started
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events.C():
			e.handle(ctx, ev)
		}
	}
}

// post delivers an event to the loop. Events posted after Stop are dropped.
func (e *Engine) post(ev event) {
	select {
	case <-e.done:
		return
	default:
	}
	if err := e.events.Enqueue(ev); err != nil {
		e.logger.Warn("Dropping %s event: %v", ev.kind, err)
	}
}

func (e *Engine) handle(ctx context.Context, ev event) {
	e.logger.Trace("Handling %s event", ev.kind)

	switch ev.kind {
	case eventNotification:
		if !e.subscription.AcceptsNotification(ev.subID) {
			e.logger.Trace("Ignoring notification from inactive subscription")
			return
		}
		if ev.change != nil {
			if id := ev.change.GameID(); id != "" && id != e.gameID {
				e.logger.Debug("Ignoring notification for game %s", id)
				return
			}
		}
		e.debouncer.Trigger()
	case eventTransportStatus:
		if !e.subscription.HandleStatus(ev.subID, ev.status, ev.err) {
			return
		}
		e.monitor.OnTransportStatus(ev.status, e.subscription.Closing())
		if ev.status == realtime.StatusSubscribed {
			// catch up on changes missed while unsubscribed
			e.debouncer.Trigger()
		}
		e.updateTransport()
	case eventPollTick:
		if !e.polling.Tick(ev.seq) {
			return
		}
		if e.reconciler.GuardActive() {
			e.logger.Trace("Skipping poll while a local mutation is in flight")
			return
		}
		e.debouncer.Trigger()
	case eventFetch:
		if !e.debouncer.Fire(ev.seq) {
			return
		}
		e.fetchAndReconcile(ctx)
	case eventLocalMutation:
		session, err := e.reconciler.ApplyLocalMutation(ctx, ev.position, ev.moveLog)
		if err == nil {
			e.stateListeners.TriggerSync(StateChange{Session: session, Decision: DecisionLocalMutation})
		}
		if ev.result != nil {
			ev.result <- err
		}
	case eventRetry:
		e.subscription.Retry(ctx)
	case eventRecover:
		e.subscription.Recover(ctx)
	case eventHeartbeat:
		if e.monitor.HeartbeatDue(ctx, ev.seq) {
			e.updateTransport()
		}
	case eventResync:
		e.reconciler.DiscardLocalMutation()
		e.debouncer.Trigger()
	default:
		e.logger.Error("Unknown event kind %d", ev.kind)
	}
	e.publishTransport()
}

func (e *Engine) fetchAndReconcile(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
	defer cancel()

	remote, err := e.store.FetchGame(fetchCtx, e.gameID)
	e.handleResult(e.reconciler.Reconcile(ctx, remote, err))
}

func (e *Engine) handleResult(res Result, err error) {
	if err != nil {
		switch {
		case IsFetchError(err):
			e.logger.Warn("%v", err)
		case IsInvalidState(err):
			e.logger.Error("Sync degraded: %v", err)
			e.degradedListeners.Trigger(err)
		default:
			e.logger.Error("Failed to reconcile: %v", err)
		}
	}
	if res.Reconstructed != nil {
		e.logger.Warn("%v", res.Reconstructed)
	}
	e.logger.Debug("Reconciled: %s", res.Decision)
	if res.Changed {
		e.stateListeners.TriggerSync(StateChange{Session: res.Session, Decision: res.Decision})
	}
}

// updateTransport stops polling while the push channel is healthy and
// otherwise restarts it at the interval the monitor recommends.
func (e *Engine) updateTransport() {
	if e.subscription.State() == SubscriptionActive && e.monitor.ShouldUseRealtime() {
		if e.polling.Running() {
			e.logger.Info("Realtime healthy, stopping polling")
			e.polling.Stop()
		}
		return
	}

	interval := e.monitor.RecommendedPollingInterval()
	if !e.polling.Running() || e.polling.Interval() != interval {
		e.logger.Info("Polling every %s", interval)
	}
	e.polling.Start(interval)
}

func (e *Engine) publishTransport() {
	ts := TransportState{
		Polling:      e.polling.Running(),
		PollInterval: e.polling.Interval(),
	}
	if e.subscription != nil {
		ts.Subscription = e.subscription.State()
		ts.RetryCount = e.subscription.RetryCount()
		ts.FellBack = e.subscription.FellBack()
	}

	e.transportLock.Lock()
	defer e.transportLock.Unlock()
	e.transport = ts
}
