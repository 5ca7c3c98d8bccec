package repositories

import (
	"errors"
	"fmt"
)

type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	if e.ID == "" {
		return "not found"
	}
	return fmt.Sprintf("game %s not found", e.ID)
}

func IsNotFound(err error) bool {
	var target *ErrNotFound
	return errors.As(err, &target)
}

// ErrConflict is returned when a write was made against a stale version.
type ErrConflict struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("game %s: expected version %d, found %d", e.ID, e.Expected, e.Actual)
}

func IsConflict(err error) bool {
	var target *ErrConflict
	return errors.As(err, &target)
}

type ErrAlreadyExists struct {
	ID string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("game %s already exists", e.ID)
}

func IsAlreadyExists(err error) bool {
	var target *ErrAlreadyExists
	return errors.As(err, &target)
}
