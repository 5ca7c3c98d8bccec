package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	_ "github.com/mattn/go-sqlite3"
)

var _ Repository = &SQLiteRepository{}

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database at path and applies the embedded
// migrations. The caller is responsible for calling Close() on the repository.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	scripts, err := readMigrations("sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for i, script := range scripts {
		if _, err := db.ExecContext(ctx, script); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreateGame(ctx context.Context, game *gametypes.GameSession) (*gametypes.GameSession, error) {
	if err := validateNewGame(game); err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	moveLog, err := encodeMoveLog(game.MoveLog)
	if err != nil {
		return nil, err
	}

	stored := game.Copy()
	if stored.MoveLog == nil {
		stored.MoveLog = []string{}
	}
	stored.Version = 1
	stored.UpdatedAt = time.Now().UnixMilli()

	q := `
	INSERT INTO games (id, position, move_log, status, version, updated_at)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	_, err = r.db.ExecContext(ctx, q, stored.ID, stored.Position, moveLog, string(stored.Status), stored.Version, stored.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, &ErrAlreadyExists{ID: game.ID}
		}
		return nil, fmt.Errorf("failed to insert game: %w", err)
	}

	return stored, nil
}

func (r *SQLiteRepository) FetchGame(ctx context.Context, id string) (*gametypes.GameSession, error) {
	return scanGame(r.db.QueryRowContext(ctx, `
	SELECT id, position, move_log, status, version, updated_at FROM games WHERE id = ?;
	`, id), id)
}

func (r *SQLiteRepository) UpdateGame(ctx context.Context, id string, update gametypes.GameUpdate, expectedVersion *int64) (*gametypes.GameSession, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanGame(tx.QueryRowContext(ctx, `
	SELECT id, position, move_log, status, version, updated_at FROM games WHERE id = ?;
	`, id), id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion != current.Version {
		return nil, &ErrConflict{ID: id, Expected: *expectedVersion, Actual: current.Version}
	}

	next := update.Apply(current)
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UnixMilli()

	moveLog, err := encodeMoveLog(next.MoveLog)
	if err != nil {
		return nil, err
	}

	q := `
	UPDATE games SET position = ?, move_log = ?, status = ?, version = ?, updated_at = ?
	WHERE id = ? AND version = ?;
	`
	res, err := tx.ExecContext(ctx, q, next.Position, moveLog, string(next.Status), next.Version, next.UpdatedAt, id, current.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return nil, &ErrConflict{ID: id, Expected: current.Version, Actual: -1}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return next, nil
}

func scanGame(row *sql.Row, id string) (*gametypes.GameSession, error) {
	var (
		game    gametypes.GameSession
		moveLog string
		status  string
	)
	if err := row.Scan(&game.ID, &game.Position, &moveLog, &status, &game.Version, &game.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{ID: id}
		}
		return nil, fmt.Errorf("failed to scan game: %w", err)
	}

	var err error
	if game.MoveLog, err = decodeMoveLog(moveLog); err != nil {
		return nil, err
	}
	game.Status = gametypes.GameStatus(status)

	return &game, nil
}
