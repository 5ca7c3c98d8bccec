package rules

import (
	"fmt"
	"regexp"

	"github.com/notnil/chess"
)

var _ RuleEngine = &ChessEngine{}

// ChessEngine implements RuleEngine for standard chess.
// Moves are read in UCI notation when they look like it ("e2e4") and in
// standard algebraic notation otherwise ("e4").
type ChessEngine struct{}

func NewChessEngine() *ChessEngine {
	return &ChessEngine{}
}

func (e *ChessEngine) ApplyMove(position string, move string) (*MoveResult, error) {
	fen, err := chess.FEN(position)
	if err != nil {
		return nil, &ErrInvalidMove{Position: position, Move: move, Err: fmt.Errorf("failed to load position: %w", err)}
	}
	game := chess.NewGame(fen, chess.UseNotation(chess.AlgebraicNotation{}))
	before := game.Position()
	if err := playMove(game, move); err != nil {
		return nil, &ErrInvalidMove{Position: position, Move: move, Err: err}
	}
	result := moveResult(game)
	if moves := game.Moves(); len(moves) > 0 {
		result.Notation = chess.AlgebraicNotation{}.Encode(before, moves[len(moves)-1])
	}
	return result, nil
}

func (e *ChessEngine) Replay(moveLog []string) (string, error) {
	game := chess.NewGame(chess.UseNotation(chess.AlgebraicNotation{}))
	for i, move := range moveLog {
		if game.Outcome() != chess.NoOutcome {
			return "", &ErrReplay{Index: i, Move: move, Err: fmt.Errorf("game already finished")}
		}
		if err := playMove(game, move); err != nil {
			return "", &ErrReplay{Index: i, Move: move, Err: err}
		}
	}
	return game.Position().String(), nil
}

var uciRegex = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// playMove reads UCI first. The algebraic decoder is lenient enough to read
// "g1f3" as a pawn move to f3.
func playMove(game *chess.Game, move string) error {
	if uciRegex.MatchString(move) {
		m, err := chess.UCINotation{}.Decode(game.Position(), move)
		if err == nil {
			return game.Move(m)
		}
	}
	return game.MoveStr(move)
}

func moveResult(game *chess.Game) *MoveResult {
	outcome := Outcome(game.Outcome())
	result := &MoveResult{
		Position: game.Position().String(),
		Terminal: outcome != OutcomeNone,
		Outcome:  outcome,
	}
	if result.Terminal {
		result.Method = game.Method().String()
	}
	return result
}
