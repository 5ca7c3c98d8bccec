// Package rules validates moves and produces the position after a move.
package rules

import (
	"errors"
	"fmt"
)

// Outcome is the result of a finished game in PGN notation.
type Outcome string

const (
	OutcomeNone     Outcome = "*"
	OutcomeWhiteWon Outcome = "1-0"
	OutcomeBlackWon Outcome = "0-1"
	OutcomeDraw     Outcome = "1/2-1/2"
)

// MoveResult describes the position reached by a move.
type MoveResult struct {
	// Notation is the move in standard algebraic notation
	Notation string
	Position string
	Terminal bool
	Outcome  Outcome
	// Method describes how a terminal position was reached (checkmate, stalemate, ...)
	Method string
}

// RuleEngine applies moves to positions.
type RuleEngine interface {
	// ApplyMove returns the position after move, or *ErrInvalidMove.
	ApplyMove(position string, move string) (*MoveResult, error)
	// Replay plays moveLog from the initial position and returns the final
	// position, or *ErrReplay.
	Replay(moveLog []string) (string, error)
}

// ErrInvalidMove is returned when a move is illegal in a position.
type ErrInvalidMove struct {
	Position string
	Move     string
	Err      error
}

func (e *ErrInvalidMove) Error() string {
	return fmt.Sprintf("invalid move %q in position %q: %v", e.Move, e.Position, e.Err)
}

func (e *ErrInvalidMove) Unwrap() error {
	return e.Err
}

func IsInvalidMove(err error) bool {
	var target *ErrInvalidMove
	return errors.As(err, &target)
}

// ErrReplay is returned when a move log cannot be replayed.
type ErrReplay struct {
	Index int
	Move  string
	Err   error
}

func (e *ErrReplay) Error() string {
	return fmt.Sprintf("failed to replay move %d (%q): %v", e.Index+1, e.Move, e.Err)
}

func (e *ErrReplay) Unwrap() error {
	return e.Err
}

func IsReplay(err error) bool {
	var target *ErrReplay
	return errors.As(err, &target)
}
