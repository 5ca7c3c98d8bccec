package gamesync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yal212/chess-web-sub000/pkg/clock"
	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/realtime"
)

type SubscriptionState int

const (
	SubscriptionInit SubscriptionState = iota
	SubscriptionSubscribing
	SubscriptionActive
	SubscriptionError
	SubscriptionTimedOut
	SubscriptionClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionInit:
		return "Init"
	case SubscriptionSubscribing:
		return "Subscribing"
	case SubscriptionActive:
		return "Active"
	case SubscriptionError:
		return "Error"
	case SubscriptionTimedOut:
		return "TimedOut"
	case SubscriptionClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// SubscriptionController owns the push channel subscription for one game and
// is the single source of truth for retry, backoff and fallback decisions.
// It is not safe for concurrent use; the engine loop drives it.
type SubscriptionController struct {
	gameID  string
	channel realtime.Channel
	config  Config
	clock   clock.Clock
	post    eventSink
	logger  *log.Logger

	state        SubscriptionState
	retryCount   int
	subscription realtime.Subscription
	subID        string
	// closing is the teardown intent flag
	closing  bool
	fellBack bool

	retryTimer   clock.Timer
	recoverTimer clock.Timer
}

type NewSubscriptionControllerOptions struct {
	GameID  string
	Channel realtime.Channel
	Config  Config
	Clock   clock.Clock
	Post    eventSink
	Logger  *log.Logger
}

func NewSubscriptionController(opts NewSubscriptionControllerOptions) *SubscriptionController {
	logger := opts.Logger
	if logger == nil {
		logger = log.With("component", "subscription").With("game", opts.GameID)
	}
	return &SubscriptionController{
		gameID:  opts.GameID,
		channel: opts.Channel,
		config:  opts.Config,
		clock:   opts.Clock,
		post:    opts.Post,
		logger:  logger,
		state:   SubscriptionInit,
	}
}

func (c *SubscriptionController) State() SubscriptionState {
	return c.state
}

func (c *SubscriptionController) RetryCount() int {
	return c.retryCount
}

// FellBack reports whether the retry budget is exhausted and polling took over.
func (c *SubscriptionController) FellBack() bool {
	return c.fellBack
}

// Subscribe opens a new subscription, replacing the current one.
func (c *SubscriptionController) Subscribe(ctx context.Context) {
	if c.closing {
		return
	}
	c.release()

	subID := uuid.NewString()
	c.subID = subID
	c.state = SubscriptionSubscribing
	c.logger.Debug("Subscribing (retry %d)", c.retryCount)

	sub, err := c.channel.Subscribe(ctx, c.gameID,
		func(change gametypes.ChangeEvent) {
			c.post(event{kind: eventNotification, subID: subID, change: &change})
		},
		func(status realtime.Status, err error) {
			c.post(event{kind: eventTransportStatus, subID: subID, status: status, err: err})
		},
	)
	if err != nil {
		c.post(event{kind: eventTransportStatus, subID: subID, status: realtime.StatusChannelError, err: err})
		return
	}
	c.subscription = sub
}

// HandleStatus applies a status report. Reports from replaced subscriptions
// are ignored, in which case it returns false.
func (c *SubscriptionController) HandleStatus(subID string, status realtime.Status, err error) bool {
	if subID == "" || subID != c.subID {
		c.logger.Trace("Ignoring %s from stale subscription %s", status, subID)
		return false
	}

	switch status {
	case realtime.StatusSubscribed:
		c.state = SubscriptionActive
		c.retryCount = 0
		c.logger.Info("Subscription active")
	case realtime.StatusChannelError:
		c.state = SubscriptionError
		c.fail(&TransportError{GameID: c.gameID, Status: status, Err: err})
	case realtime.StatusTimedOut:
		c.state = SubscriptionTimedOut
		c.fail(&TransportError{GameID: c.gameID, Status: status, Err: err})
	case realtime.StatusClosed:
		c.state = SubscriptionClosed
		if c.closing {
			return true
		}
		// closed without teardown counts as a failure
		c.fail(&TransportError{GameID: c.gameID, Status: status, Err: err})
	default:
		c.logger.Warn("Ignoring unknown status %s", status)
		return false
	}
	return true
}

// Closing reports whether the subscription is being torn down on request.
func (c *SubscriptionController) Closing() bool {
	return c.closing
}

// AcceptsNotification reports whether a notification tagged subID should be
// forwarded for reconciliation.
func (c *SubscriptionController) AcceptsNotification(subID string) bool {
	return subID != "" && subID == c.subID && c.state == SubscriptionActive
}

// Retry re-attempts the subscription after a backoff delay.
func (c *SubscriptionController) Retry(ctx context.Context) {
	c.retryTimer = nil
	if c.closing || c.fellBack {
		return
	}
	c.Subscribe(ctx)
}

// Recover leaves the polling fallback and tries the push channel again with
// a fresh retry budget.
func (c *SubscriptionController) Recover(ctx context.Context) {
	c.recoverTimer = nil
	if c.closing || !c.fellBack {
		return
	}
	c.logger.Info("Re-attempting realtime after fallback")
	c.fellBack = false
	c.retryCount = 0
	c.Subscribe(ctx)
}

// Close tears the subscription down with the intent flag set so the
// resulting closed report is not treated as a failure.
func (c *SubscriptionController) Close() {
	c.closing = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.recoverTimer != nil {
		c.recoverTimer.Stop()
		c.recoverTimer = nil
	}
	c.release()
	c.state = SubscriptionClosed
}

// BackoffDelay returns the delay before retry number attempt, counted from zero.
func (c *SubscriptionController) BackoffDelay(attempt int) time.Duration {
	return c.config.RetryBaseDelay << attempt
}

func (c *SubscriptionController) fail(err *TransportError) {
	c.release()

	if c.retryCount < c.config.MaxRetries {
		delay := c.BackoffDelay(c.retryCount)
		c.retryCount++
		c.logger.Warn("Subscription failed, retrying in %s (%d/%d): %v", delay, c.retryCount, c.config.MaxRetries, err)
		c.retryTimer = c.clock.AfterFunc(delay, func() {
			c.post(event{kind: eventRetry})
		})
		return
	}

	c.fellBack = true
	c.logger.Warn("Subscription failed after %d retries, falling back to polling: %v", c.retryCount, err)
	if c.config.RealtimeRecoveryInterval > 0 {
		c.recoverTimer = c.clock.AfterFunc(c.config.RealtimeRecoveryInterval, func() {
			c.post(event{kind: eventRecover})
		})
	}
}

// release unsubscribes the current subscription. Reports it makes afterwards
// are ignored because its id is no longer current.
func (c *SubscriptionController) release() {
	if c.subscription != nil {
		if err := c.subscription.Unsubscribe(); err != nil {
			c.logger.Debug("Failed to unsubscribe: %v", err)
		}
		c.subscription = nil
	}
	c.subID = ""
}
