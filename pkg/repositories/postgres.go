package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ Repository = &PostgresRepository{}

type PostgresRepository struct {
	// pgx.Conn is not safe for concurrent use
	lock sync.Mutex
	conn *pgx.Conn
}

// NewPostgresRepository connects to the database and applies the embedded
// migrations. The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	scripts, err := readMigrations("postgres")
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}
	for i, script := range scripts {
		if _, err := conn.Exec(ctx, script); err != nil {
			conn.Close(ctx)
			return nil, fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}

	return &PostgresRepository{
		conn: conn,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateGame(ctx context.Context, game *gametypes.GameSession) (*gametypes.GameSession, error) {
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

	r.lock.Lock()
	defer r.lock.Unlock()

	q := `
	INSERT INTO games (id, position, move_log, status, version, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6);
	`
	if _, err := r.conn.Exec(ctx, q, stored.ID, stored.Position, moveLog, string(stored.Status), stored.Version, stored.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, &ErrAlreadyExists{ID: game.ID}
		}
		return nil, fmt.Errorf("failed to insert game: %w", err)
	}

	return stored, nil
}

func (r *PostgresRepository) FetchGame(ctx context.Context, id string) (*gametypes.GameSession, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return scanPostgresGame(r.conn.QueryRow(ctx, `
	SELECT id, position, move_log, status, version, updated_at FROM games WHERE id = $1;
	`, id), id)
}

func (r *PostgresRepository) UpdateGame(ctx context.Context, id string, update gametypes.GameUpdate, expectedVersion *int64) (*gametypes.GameSession, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanPostgresGame(tx.QueryRow(ctx, `
	SELECT id, position, move_log, status, version, updated_at FROM games WHERE id = $1 FOR UPDATE;
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
	UPDATE games SET position = $1, move_log = $2, status = $3, version = $4, updated_at = $5
	WHERE id = $6 AND version = $7;
	`
	tag, err := tx.Exec(ctx, q, next.Position, moveLog, string(next.Status), next.Version, next.UpdatedAt, id, current.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &ErrConflict{ID: id, Expected: current.Version, Actual: -1}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return next, nil
}

func scanPostgresGame(row pgx.Row, id string) (*gametypes.GameSession, error) {
	var (
		game    gametypes.GameSession
		moveLog string
		status  string
	)
	if err := row.Scan(&game.ID, &game.Position, &moveLog, &status, &game.Version, &game.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
