package repositories

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
)

//go:embed migrations
var migrations embed.FS

// Repository is the durable store of game documents.
type Repository interface {
	Close(ctx context.Context) error
	// Ping performs a minimal round trip to the store.
	Ping(ctx context.Context) error
	// CreateGame stores a new game at version 1.
	CreateGame(ctx context.Context, game *gametypes.GameSession) (*gametypes.GameSession, error)
	// FetchGame returns the game or *ErrNotFound.
	FetchGame(ctx context.Context, id string) (*gametypes.GameSession, error)
	// UpdateGame applies a partial write. When expectedVersion is set and
	// does not match the stored version the write fails with *ErrConflict.
	UpdateGame(ctx context.Context, id string, update gametypes.GameUpdate, expectedVersion *int64) (*gametypes.GameSession, error)
}

// readMigrations returns the migration scripts for a dialect in file name order.
func readMigrations(dialect string) ([]string, error) {
	dir := "migrations/" + dialect
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		b, err := fs.ReadFile(migrations, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		scripts = append(scripts, string(b))
	}
	return scripts, nil
}

func encodeMoveLog(moveLog []string) (string, error) {
	if moveLog == nil {
		moveLog = []string{}
	}
	b, err := json.Marshal(moveLog)
	if err != nil {
		return "", fmt.Errorf("failed to marshal move log: %w", err)
	}
	return string(b), nil
}

func decodeMoveLog(s string) ([]string, error) {
	moveLog := []string{}
	if err := json.Unmarshal([]byte(s), &moveLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal move log: %w", err)
	}
	return moveLog, nil
}

func validateNewGame(game *gametypes.GameSession) error {
	if game == nil {
		return fmt.Errorf("game is nil")
	}
	if game.ID == "" {
		return fmt.Errorf("game id is empty")
	}
	if game.Status == "" {
		return fmt.Errorf("game status is empty")
	}
	return nil
}
