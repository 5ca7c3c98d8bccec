package state

import (
	"context"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
)

// StateManager provides shared access to the locally cached game session.
// Implementations must be thread-safe.
type StateManager interface {
	// Get returns a copy of the cached session, or nil when nothing is cached.
	Get(ctx context.Context) (*gametypes.GameSession, error)
	// Set replaces the cached session.
	Set(ctx context.Context, session *gametypes.GameSession) error
}
