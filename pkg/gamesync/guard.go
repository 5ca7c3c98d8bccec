package gamesync

import (
	"time"

	"github.com/yal212/chess-web-sub000/pkg/position"
)

// LocalMutationGuard records the most recent local mutation that the store
// has not confirmed yet.
type LocalMutationGuard struct {
	Position string
	// MoveCount is the move log length the mutation implies
	MoveCount int
	Timestamp time.Time
}

// Active reports whether the guard is still inside its grace window.
func (g *LocalMutationGuard) Active(now time.Time, grace time.Duration) bool {
	return g != nil && now.Sub(g.Timestamp) < grace
}

// Matches reports whether pos equals the guarded position once move clocks
// are stripped.
func (g *LocalMutationGuard) Matches(pos string) bool {
	return g != nil && position.Normalize(g.Position) == position.Normalize(pos)
}
