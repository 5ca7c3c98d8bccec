// Package position parses the compact board encoding stored on a game.
//
// The encoding follows FEN: piece placement, side to move, castling rights,
// en passant square, halfmove clock and fullmove number. Decoding is done by
// notnil/chess. The last two fields
// are volatile counters and are ignored by every comparison in this package.
package position

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

// Initial is the standard starting position.
const Initial = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type Color byte

const (
	White Color = 'w'
	Black Color = 'b'
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "unknown"
	}
}

// ErrInvalidPosition is returned when an encoding cannot be parsed.
type ErrInvalidPosition struct {
	Position string
	Reason   string
}

func (e *ErrInvalidPosition) Error() string {
	return fmt.Sprintf("invalid position %q: %s", e.Position, e.Reason)
}

func IsInvalidPosition(err error) bool {
	var target *ErrInvalidPosition
	return errors.As(err, &target)
}

// Position is a parsed board encoding.
type Position struct {
	Board          string
	Turn           Color
	Castling       string
	EnPassant      string
	HalfmoveClock  int
	FullmoveNumber int

	pos *chess.Position
}

// Structure is the part of a position that identifies the game state:
// board layout and side to move.
type Structure struct {
	Board string
	Turn  Color
}

// Parse parses and validates an encoding. The two counter fields are
// optional. Both sides must have exactly one king.
func Parse(s string) (*Position, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 4:
		fields = append(fields, "0", "1")
	case 6:
	default:
		return nil, &ErrInvalidPosition{Position: s, Reason: fmt.Sprintf("expected 4 to 6 fields, got %d", len(fields))}
	}

	cp := &chess.Position{}
	if err := cp.UnmarshalText([]byte(strings.Join(fields, " "))); err != nil {
		return nil, &ErrInvalidPosition{Position: s, Reason: err.Error()}
	}
	if err := checkKings(cp.Board()); err != nil {
		return nil, &ErrInvalidPosition{Position: s, Reason: err.Error()}
	}

	p := &Position{
		Board:         cp.Board().String(),
		Turn:          White,
		Castling:      cp.CastleRights().String(),
		EnPassant:     "-",
		HalfmoveClock: cp.HalfMoveClock(),
		pos:           cp,
	}
	if cp.Turn() == chess.Black {
		p.Turn = Black
	}
	if sq := cp.EnPassantSquare(); sq != chess.NoSquare {
		p.EnPassant = sq.String()
	}
	// notnil keeps the fullmove number private
	p.FullmoveNumber, _ = strconv.Atoi(fields[5])

	return p, nil
}

func checkKings(board *chess.Board) error {
	kings := map[chess.Color]int{}
	for _, piece := range board.SquareMap() {
		if piece.Type() == chess.King {
			kings[piece.Color()]++
		}
	}
	for _, c := range []chess.Color{chess.White, chess.Black} {
		if kings[c] != 1 {
			return fmt.Errorf("%s has %d kings", c.Name(), kings[c])
		}
	}
	return nil
}

// String encodes the position with all six fields.
func (p *Position) String() string {
	return fmt.Sprintf("%s %c %s %s %d %d", p.Board, p.Turn, p.Castling, p.EnPassant, p.HalfmoveClock, p.FullmoveNumber)
}

// Normalized encodes the position without the move clocks.
func (p *Position) Normalized() string {
	return fmt.Sprintf("%s %c %s %s", p.Board, p.Turn, p.Castling, p.EnPassant)
}

func (p *Position) Structure() Structure {
	return Structure{Board: p.Board, Turn: p.Turn}
}

// Hash returns a hash of the position with the move clocks reset.
func (p *Position) Hash() [16]byte {
	cp := &chess.Position{}
	if err := cp.UnmarshalText([]byte(p.Normalized() + " 0 1")); err != nil {
		return [16]byte{}
	}
	return cp.Hash()
}

// Ply returns the number of half moves implied by the fullmove number
// and side to move.
func (p *Position) Ply() int {
	ply := (p.FullmoveNumber - 1) * 2
	if p.Turn == Black {
		ply++
	}
	return ply
}

// Normalize strips the volatile move clocks from an encoding without
// validating it, so that unparseable encodings can still be compared.
func Normalize(s string) string {
	fields := strings.Fields(s)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

// Turn extracts the side to move.
func Turn(s string) (Color, error) {
	p, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return p.Turn, nil
}

// Hash extracts the positional hash of an encoding.
func Hash(s string) ([16]byte, error) {
	p, err := Parse(s)
	if err != nil {
		return [16]byte{}, err
	}
	return p.Hash(), nil
}

// StructurallyEqual reports whether two encodings describe the same board
// with the same side to move.
func StructurallyEqual(a, b string) (bool, error) {
	pa, err := Parse(a)
	if err != nil {
		return false, err
	}
	pb, err := Parse(b)
	if err != nil {
		return false, err
	}
	return pa.pos.Board().String() == pb.pos.Board().String() && pa.pos.Turn() == pb.pos.Turn(), nil
}
