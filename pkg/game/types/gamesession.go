package types

import (
	"fmt"
)

type GameStatus string

const (
	GameStatusWaiting   GameStatus = "waiting"
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed"
	GameStatusAbandoned GameStatus = "abandoned"
)

// ParseGameStatus parses a status string.
func ParseGameStatus(s string) (GameStatus, error) {
	switch GameStatus(s) {
	case GameStatusWaiting, GameStatusActive, GameStatusCompleted, GameStatusAbandoned:
		return GameStatus(s), nil
	default:
		return "", fmt.Errorf("unknown game status: %s", s)
	}
}

// IsFinal reports whether no further moves can be made.
func (s GameStatus) IsFinal() bool {
	return s == GameStatusCompleted || s == GameStatusAbandoned
}

// GameSession is the shared game document.
type GameSession struct {
	// ID identifies the game in the store and on the push channel
	ID string `json:"id"`
	// Position is the compact board encoding after the last move
	Position string `json:"position"`
	// MoveLog holds the move notations from the initial position, append-only
	MoveLog []string `json:"moveLog"`
	// Status is the lifecycle state of the game
	Status GameStatus `json:"status"`
	// Version increments on every write and backs optimistic concurrency
	Version int64 `json:"version"`
	// UpdatedAt is the time of the last write in unix milliseconds
	UpdatedAt int64 `json:"updatedAt"`
}

// MoveCount returns the number of moves in the log.
func (g *GameSession) MoveCount() int {
	if g == nil {
		return 0
	}
	return len(g.MoveLog)
}

// Copy returns a deep copy of the session.
func (g *GameSession) Copy() *GameSession {
	if g == nil {
		return nil
	}
	c := *g
	if g.MoveLog != nil {
		c.MoveLog = make([]string, len(g.MoveLog))
		copy(c.MoveLog, g.MoveLog)
	}
	return &c
}

// Equal compares the fields that are visible to a view.
// Version and UpdatedAt are bookkeeping and ignored.
func (g *GameSession) Equal(other *GameSession) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.ID != other.ID || g.Position != other.Position || g.Status != other.Status {
		return false
	}
	return MoveLogsEqual(g.MoveLog, other.MoveLog)
}

// MoveLogsEqual compares two move logs entry by entry.
func MoveLogsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GameUpdate is a partial write to a GameSession.
// Nil fields are left unchanged.
type GameUpdate struct {
	Position *string     `json:"position,omitempty"`
	MoveLog  []string    `json:"moveLog,omitempty"`
	Status   *GameStatus `json:"status,omitempty"`
}

// Apply returns a copy of g with the update applied.
func (u GameUpdate) Apply(g *GameSession) *GameSession {
	next := g.Copy()
	if u.Position != nil {
		next.Position = *u.Position
	}
	if u.MoveLog != nil {
		next.MoveLog = make([]string, len(u.MoveLog))
		copy(next.MoveLog, u.MoveLog)
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	return next
}

// ChangeType is the kind of write reported on the push channel.
type ChangeType string

const (
	ChangeTypeInsert ChangeType = "insert"
	ChangeTypeUpdate ChangeType = "update"
	ChangeTypeDelete ChangeType = "delete"
)

// ChangeEvent is a push notification for a single game.
// Delivery is at-least-once with no ordering guarantee.
type ChangeEvent struct {
	Type ChangeType   `json:"type"`
	Old  *GameSession `json:"old,omitempty"`
	New  *GameSession `json:"new,omitempty"`
}

// GameID returns the id of the game the event refers to.
func (e ChangeEvent) GameID() string {
	if e.New != nil {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return ""
}
