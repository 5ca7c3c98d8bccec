package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yal212/chess-web-sub000/pkg/position"
)

func TestChessEngine_ApplyMove(t *testing.T) {
	engine := NewChessEngine()

	tests := []struct {
		name         string
		position     string
		move         string
		wantBoard    string
		wantNotation string
		wantErr      bool
	}{
		{
			name:         "algebraic",
			position:     position.Initial,
			move:         "e4",
			wantBoard:    "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR",
			wantNotation: "e4",
		},
		{
			name:         "uci fallback",
			position:     position.Initial,
			move:         "g1f3",
			wantBoard:    "rnbqkbnr/pppppppp/8/8/8/5N2/PPPPPPPP/RNBQKB1R",
			wantNotation: "Nf3",
		},
		{
			name:         "uci pawn",
			position:     position.Initial,
			move:         "e2e4",
			wantBoard:    "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR",
			wantNotation: "e4",
		},
		{
			name:         "uci promotion",
			position:     "8/P7/8/8/8/8/8/K5k1 w - - 0 1",
			move:         "a7a8q",
			wantBoard:    "Q7/8/8/8/8/8/8/K5k1",
			wantNotation: "a8=Q",
		},
		{
			name:         "san promotion",
			position:     "8/P7/8/8/8/8/8/K5k1 w - - 0 1",
			move:         "a8=N",
			wantBoard:    "N7/8/8/8/8/8/8/K5k1",
			wantNotation: "a8=N",
		},
		{
			name:     "illegal uci",
			position: position.Initial,
			move:     "g1g3",
			wantErr:  true,
		},
		{
			name:     "illegal",
			position: position.Initial,
			move:     "e5",
			wantErr:  true,
		},
		{
			name:     "bad position",
			position: "garbage",
			move:     "e4",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.ApplyMove(tt.position, tt.move)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsInvalidMove(err))
				return
			}
			require.NoError(t, err)
			p, err := position.Parse(got.Position)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBoard, p.Board)
			assert.Equal(t, tt.wantNotation, got.Notation)
			assert.False(t, got.Terminal)
			assert.Equal(t, OutcomeNone, got.Outcome)
		})
	}
}

func TestChessEngine_ApplyMoveTerminal(t *testing.T) {
	engine := NewChessEngine()
	pos, err := engine.Replay([]string{"f3", "e5", "g4"})
	require.NoError(t, err)

	got, err := engine.ApplyMove(pos, "Qh4#")
	require.NoError(t, err)
	assert.True(t, got.Terminal)
	assert.Equal(t, OutcomeBlackWon, got.Outcome)
	assert.NotEmpty(t, got.Method)
}

func TestChessEngine_Replay(t *testing.T) {
	engine := NewChessEngine()

	got, err := engine.Replay([]string{"e4", "e5", "Nf3", "Nc6", "Bb5"})
	require.NoError(t, err)
	p, err := position.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "r1bqkbnr/pppp1ppp/2n5/1B2p3/4P3/5N2/PPPP1PPP/RNBQK2R", p.Board)
	assert.Equal(t, position.Black, p.Turn)
	assert.Equal(t, 5, p.Ply())

	initial, err := engine.Replay(nil)
	require.NoError(t, err)
	assert.Equal(t, position.Normalize(position.Initial), position.Normalize(initial))

	_, err = engine.Replay([]string{"e4", "e4"})
	require.Error(t, err)
	assert.True(t, IsReplay(err))
	assert.Equal(t, 1, err.(*ErrReplay).Index)

	uci, err := engine.Replay([]string{"e2e4", "e7e5", "g1f3"})
	require.NoError(t, err)
	san, err := engine.Replay([]string{"e4", "e5", "Nf3"})
	require.NoError(t, err)
	assert.Equal(t, san, uci)
}

func TestIsRuleErrors_Wrapped(t *testing.T) {
	engine := NewChessEngine()

	_, err := engine.ApplyMove(position.Initial, "e5")
	require.Error(t, err)
	assert.True(t, IsInvalidMove(fmt.Errorf("failed to submit move: %w", err)))
	assert.False(t, IsReplay(err))

	_, err = engine.Replay([]string{"e4", "e4"})
	require.Error(t, err)
	assert.True(t, IsReplay(fmt.Errorf("failed to rebuild position: %w", err)))
	assert.False(t, IsInvalidMove(err))
}
