package gamesync

import (
	"errors"
	"fmt"

	"github.com/yal212/chess-web-sub000/pkg/realtime"
	"github.com/yal212/chess-web-sub000/pkg/repositories"
)

// TransportError is a push channel failure. It is retried with backoff and
// never reaches the view.
type TransportError struct {
	GameID string
	Status realtime.Status
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s for game %s", e.Status, e.GameID)
	}
	return fmt.Sprintf("transport %s for game %s: %v", e.Status, e.GameID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// FetchError is a failed store read. It is logged and left to the next
// poll or notification.
type FetchError struct {
	GameID string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch game %s: %v", e.GameID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func IsFetchError(err error) bool {
	var target *FetchError
	return errors.As(err, &target)
}

// InvalidStateError reports a remote snapshot whose position could not be
// parsed. Reconstructed is set when replaying the move log recovered it.
type InvalidStateError struct {
	GameID        string
	Position      string
	Reconstructed bool
	// Cause is the parse error, or the replay error when reconstruction failed
	Cause error
}

func (e *InvalidStateError) Error() string {
	if e.Reconstructed {
		return fmt.Sprintf("game %s: invalid position %q reconstructed from move log: %v", e.GameID, e.Position, e.Cause)
	}
	return fmt.Sprintf("game %s: invalid position %q could not be reconstructed: %v", e.GameID, e.Position, e.Cause)
}

func (e *InvalidStateError) Unwrap() error {
	return e.Cause
}

func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsConflict reports whether a store write lost an optimistic concurrency race.
// Conflicts are returned to the caller of the write and never handled here.
func IsConflict(err error) bool {
	return repositories.IsConflict(err)
}
