package realtime

import (
	"context"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
)

// Status is a subscription lifecycle report from the push channel.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// EventHandler receives change notifications for the subscribed game.
// Delivery is at-least-once with no ordering guarantee.
type EventHandler func(event gametypes.ChangeEvent)

// StatusHandler receives lifecycle reports. err is set for failures.
type StatusHandler func(status Status, err error)

// Subscription is a live per-game subscription handle.
type Subscription interface {
	ID() string
	// Unsubscribe releases the subscription. It is safe to call more than once.
	Unsubscribe() error
}

// Channel is a publish/subscribe transport filtered by game id.
type Channel interface {
	// Subscribe starts a subscription and returns without waiting for the
	// acknowledgement, which is reported through onStatus.
	Subscribe(ctx context.Context, gameID string, onEvent EventHandler, onStatus StatusHandler) (Subscription, error)
}
