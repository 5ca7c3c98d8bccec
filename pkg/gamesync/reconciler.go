package gamesync

import (
	"context"
	"fmt"
	"time"

	"github.com/yal212/chess-web-sub000/pkg/clock"
	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/position"
	"github.com/yal212/chess-web-sub000/pkg/rules"
	"github.com/yal212/chess-web-sub000/pkg/state"
)

// Decision is the outcome of merging one snapshot.
type Decision int

const (
	// DecisionNoop leaves the visible state unchanged
	DecisionNoop Decision = iota
	// DecisionAdopt replaces the cached session with the remote snapshot
	DecisionAdopt
	// DecisionAdoptMoveLog takes the longer remote move log but keeps the
	// guarded local position
	DecisionAdoptMoveLog
	// DecisionAdoptMetadata takes the remote status with the same board
	DecisionAdoptMetadata
	// DecisionSuppressed keeps the guarded local position over a remote one
	DecisionSuppressed
	// DecisionIgnoreStale drops a snapshot older than one already adopted
	DecisionIgnoreStale
	// DecisionInvalid drops a snapshot that could not be reconstructed
	DecisionInvalid
	// DecisionLocalMutation applies a locally originated move
	DecisionLocalMutation
)

func (d Decision) String() string {
	switch d {
	case DecisionNoop:
		return "noop"
	case DecisionAdopt:
		return "adopt"
	case DecisionAdoptMoveLog:
		return "adoptMoveLog"
	case DecisionAdoptMetadata:
		return "adoptMetadata"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionIgnoreStale:
		return "ignoreStale"
	case DecisionInvalid:
		return "invalid"
	case DecisionLocalMutation:
		return "localMutation"
	default:
		return "unknown"
	}
}

// Result describes what a merge did.
type Result struct {
	Decision Decision
	// Session is a copy of the cached session after the merge when Changed is set
	Session *gametypes.GameSession
	// Changed is set when the visible state changed
	Changed bool
	// Reconstructed is set when the remote position was unparseable and was
	// rebuilt by replaying the move log
	Reconstructed *InvalidStateError
}

// Reconciler merges remote snapshots into the cached session. It is the
// only writer of the cache and is not safe for concurrent use.
type Reconciler struct {
	gameID string
	rules  rules.RuleEngine
	cache  state.StateManager
	clock  clock.Clock
	grace  time.Duration
	logger *log.Logger

	guard *LocalMutationGuard
	// storeMoves is the highest move count known to come from the store
	storeMoves int
	// unconfirmed is set while the cache holds local moves the store has not
	// returned yet
	unconfirmed bool
}

type NewReconcilerOptions struct {
	GameID      string
	Rules       rules.RuleEngine
	Cache       state.StateManager
	Clock       clock.Clock
	GraceWindow time.Duration
	Logger      *log.Logger
}

func NewReconciler(opts NewReconcilerOptions) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = log.With("component", "reconciler").With("game", opts.GameID)
	}
	return &Reconciler{
		gameID: opts.GameID,
		rules:  opts.Rules,
		cache:  opts.Cache,
		clock:  opts.Clock,
		grace:  opts.GraceWindow,
		logger: logger,
	}
}

// Guard returns a copy of the current guard, or nil.
func (r *Reconciler) Guard() *LocalMutationGuard {
	if r.guard == nil {
		return nil
	}
	g := *r.guard
	return &g
}

// GuardActive reports whether a local mutation is in flight.
func (r *Reconciler) GuardActive() bool {
	return r.guard.Active(r.clock.Now(), r.grace)
}

// ApplyLocalMutation records a locally originated move optimistically and
// installs or refreshes the guard.
func (r *Reconciler) ApplyLocalMutation(ctx context.Context, pos string, moveLog []string) (*gametypes.GameSession, error) {
	if _, err := position.Parse(pos); err != nil {
		return nil, fmt.Errorf("failed to apply local mutation: %w", err)
	}

	local, err := r.cache.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached game: %w", err)
	}
	if local == nil {
		return nil, fmt.Errorf("failed to apply local mutation: game %s is not loaded", r.gameID)
	}
	if len(moveLog) < local.MoveCount() {
		return nil, fmt.Errorf("failed to apply local mutation: move log of %d entries is behind the cached %d", len(moveLog), local.MoveCount())
	}
	r.observeCache(local)

	next := local.Copy()
	next.Position = pos
	next.MoveLog = make([]string, len(moveLog))
	copy(next.MoveLog, moveLog)
	if err := r.cache.Set(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to write cached game: %w", err)
	}

	r.guard = &LocalMutationGuard{
		Position:  pos,
		MoveCount: len(moveLog),
		Timestamp: r.clock.Now(),
	}
	r.unconfirmed = true
	r.logger.Debug("Local mutation at move %d installed guard", len(moveLog))

	return next, nil
}

// Reconcile merges a fetched or pushed snapshot. fetchErr is the error of the
// read that produced remote, if any.
func (r *Reconciler) Reconcile(ctx context.Context, remote *gametypes.GameSession, fetchErr error) (Result, error) {
	if fetchErr != nil {
		return Result{Decision: DecisionNoop}, &FetchError{GameID: r.gameID, Err: fetchErr}
	}
	if remote == nil {
		return Result{Decision: DecisionNoop}, nil
	}
	if remote.ID != r.gameID {
		r.logger.Debug("Ignoring snapshot of game %s", remote.ID)
		return Result{Decision: DecisionNoop}, nil
	}

	local, err := r.cache.Get(ctx)
	if err != nil {
		return Result{Decision: DecisionNoop}, fmt.Errorf("failed to read cached game: %w", err)
	}
	if local == nil {
		return r.adopt(ctx, nil, remote)
	}

	r.observeCache(local)
	r.expireGuard(remote)

	remoteCount, localCount := remote.MoveCount(), local.MoveCount()

	if position.Normalize(remote.Position) == position.Normalize(local.Position) && remoteCount == localCount {
		return r.noop(ctx, local, remote)
	}

	if r.guard != nil && (r.guard.Matches(remote.Position) || r.guard.Matches(local.Position)) {
		if remoteCount <= localCount {
			r.logger.Debug("Guard suppressed remote position at move %d", remoteCount)
			return Result{Decision: DecisionSuppressed}, nil
		}

		next := local.Copy()
		next.MoveLog = make([]string, remoteCount)
		copy(next.MoveLog, remote.MoveLog)
		next.Status = remote.Status
		next.Version = remote.Version
		next.UpdatedAt = remote.UpdatedAt
		if err := r.cache.Set(ctx, next); err != nil {
			return Result{Decision: DecisionNoop}, fmt.Errorf("failed to write cached game: %w", err)
		}
		r.confirmGuard(next)
		r.confirmStore(remoteCount)
		r.logger.Debug("Adopted move log %d -> %d under guard", localCount, remoteCount)
		return Result{Decision: DecisionAdoptMoveLog, Session: next.Copy(), Changed: true}, nil
	}

	if remoteCount < localCount {
		if remoteCount < r.storeMoves || !r.unconfirmed {
			r.logger.Debug("Ignoring stale snapshot at move %d, have %d", remoteCount, localCount)
			return Result{Decision: DecisionIgnoreStale}, nil
		}
		// the store never took the local moves
		r.logger.Info("Rolling back unconfirmed moves %d -> %d", localCount, remoteCount)
		return r.adopt(ctx, local, remote)
	}
	if remoteCount > localCount {
		return r.adopt(ctx, local, remote)
	}

	if equal, err := position.StructurallyEqual(remote.Position, local.Position); err == nil && equal {
		return r.noop(ctx, local, remote)
	}

	return r.adopt(ctx, local, remote)
}

// expireGuard drops a guard that left its grace window, or that a snapshot
// carrying later moves and a different position has overtaken.
func (r *Reconciler) expireGuard(remote *gametypes.GameSession) {
	if r.guard == nil {
		return
	}
	if !r.guard.Active(r.clock.Now(), r.grace) {
		r.logger.Debug("Guard expired")
		r.guard = nil
		return
	}
	if remote.MoveCount() > r.guard.MoveCount && !r.guard.Matches(remote.Position) {
		r.logger.Debug("Guard overtaken at move %d", remote.MoveCount())
		r.guard = nil
	}
}

// observeCache seeds the store move count from a cache that holds no
// unconfirmed local moves.
func (r *Reconciler) observeCache(local *gametypes.GameSession) {
	if !r.unconfirmed && local.MoveCount() > r.storeMoves {
		r.storeMoves = local.MoveCount()
	}
}

// confirmStore records that the cache now matches a store snapshot of n moves.
func (r *Reconciler) confirmStore(n int) {
	if n > r.storeMoves {
		r.storeMoves = n
	}
	r.unconfirmed = false
}

// DiscardLocalMutation drops the guard so the next snapshot from the store
// replaces any unconfirmed local moves.
func (r *Reconciler) DiscardLocalMutation() {
	if r.guard != nil {
		r.logger.Debug("Discarding guard at move %d", r.guard.MoveCount)
	}
	r.guard = nil
}

// confirmGuard clears the guard once the cached move log contains the
// guarded mutation.
func (r *Reconciler) confirmGuard(session *gametypes.GameSession) {
	if r.guard != nil && session.MoveCount() >= r.guard.MoveCount {
		r.guard = nil
	}
}

// noop keeps the board and refreshes the metadata the view cannot see, or
// the status when it moved on.
func (r *Reconciler) noop(ctx context.Context, local, remote *gametypes.GameSession) (Result, error) {
	r.confirmStore(remote.MoveCount())
	if remote.Version < local.Version {
		return Result{Decision: DecisionNoop}, nil
	}

	next := local.Copy()
	next.Version = remote.Version
	next.UpdatedAt = remote.UpdatedAt

	if remote.Status != local.Status {
		next.Status = remote.Status
		if err := r.cache.Set(ctx, next); err != nil {
			return Result{Decision: DecisionNoop}, fmt.Errorf("failed to write cached game: %w", err)
		}
		r.confirmGuard(next)
		r.logger.Debug("Adopted status %s -> %s", local.Status, remote.Status)
		return Result{Decision: DecisionAdoptMetadata, Session: next.Copy(), Changed: true}, nil
	}

	if remote.Version > local.Version {
		if err := r.cache.Set(ctx, next); err != nil {
			return Result{Decision: DecisionNoop}, fmt.Errorf("failed to write cached game: %w", err)
		}
	}
	return Result{Decision: DecisionNoop}, nil
}

// adopt replaces the cache with remote, rebuilding an unparseable position
// from the move log.
func (r *Reconciler) adopt(ctx context.Context, local, remote *gametypes.GameSession) (Result, error) {
	next := remote.Copy()
	if next.MoveLog == nil {
		next.MoveLog = []string{}
	}

	var reconstructed *InvalidStateError
	if _, err := position.Parse(remote.Position); err != nil {
		replayed, replayErr := r.rules.Replay(remote.MoveLog)
		if replayErr != nil {
			r.logger.Error("Rejected snapshot at move %d: %v", remote.MoveCount(), replayErr)
			return Result{Decision: DecisionInvalid}, &InvalidStateError{
				GameID:   r.gameID,
				Position: remote.Position,
				Cause:    replayErr,
			}
		}
		reconstructed = &InvalidStateError{
			GameID:        r.gameID,
			Position:      remote.Position,
			Reconstructed: true,
			Cause:         err,
		}
		next.Position = replayed
		r.logger.Warn("Reconstructed position from %d moves", remote.MoveCount())
	}

	if local != nil && position.Normalize(next.Position) == position.Normalize(local.Position) && next.MoveCount() == local.MoveCount() {
		res, err := r.noop(ctx, local, next)
		res.Reconstructed = reconstructed
		return res, err
	}

	if err := r.cache.Set(ctx, next); err != nil {
		return Result{Decision: DecisionNoop}, fmt.Errorf("failed to write cached game: %w", err)
	}
	r.confirmGuard(next)
	r.confirmStore(next.MoveCount())
	r.logger.Debug("Adopted snapshot at move %d", next.MoveCount())

	return Result{Decision: DecisionAdopt, Session: next.Copy(), Changed: true, Reconstructed: reconstructed}, nil
}
