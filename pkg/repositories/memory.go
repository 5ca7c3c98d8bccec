package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
)

var _ Repository = &InMemoryRepository{}

// InMemoryRepository keeps games in process memory.
// Games are copied on the way in and out.
type InMemoryRepository struct {
	lock  sync.RWMutex
	games map[string]*gametypes.GameSession
	now   func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		games: make(map[string]*gametypes.GameSession),
		now:   time.Now,
	}
}

func (r *InMemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *InMemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *InMemoryRepository) CreateGame(ctx context.Context, game *gametypes.GameSession) (*gametypes.GameSession, error) {
	if err := validateNewGame(game); err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.games[game.ID]; ok {
		return nil, &ErrAlreadyExists{ID: game.ID}
	}

	stored := game.Copy()
	if stored.MoveLog == nil {
		stored.MoveLog = []string{}
	}
	stored.Version = 1
	stored.UpdatedAt = r.now().UnixMilli()
	r.games[game.ID] = stored

	return stored.Copy(), nil
}

func (r *InMemoryRepository) FetchGame(ctx context.Context, id string) (*gametypes.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	game, ok := r.games[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return game.Copy(), nil
}

func (r *InMemoryRepository) UpdateGame(ctx context.Context, id string, update gametypes.GameUpdate, expectedVersion *int64) (*gametypes.GameSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	current, ok := r.games[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	if expectedVersion != nil && *expectedVersion != current.Version {
		return nil, &ErrConflict{ID: id, Expected: *expectedVersion, Actual: current.Version}
	}

	next := update.Apply(current)
	next.Version = current.Version + 1
	next.UpdatedAt = r.now().UnixMilli()
	r.games[id] = next

	return next.Copy(), nil
}
