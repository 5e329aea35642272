package game

import (
	"strings"
	"testing"

	"github.com/notnil/chess"
	"github.com/stretchr/testify/require"
)

// walkRoundTrip encodes and decodes every legal move at every position reachable
// within depth plies.
func walkRoundTrip(t *testing.T, e *Env, depth int) {
	t.Helper()

	for _, mv := range e.position().ValidMoves() {
		action := e.Encode(mv)
		require.GreaterOrEqual(t, action, 0)
		require.Less(t, action, PolicySize)

		got := e.decodeToMove(action)
		require.NotNil(t, got, "action %d did not decode in %q", action, e.FEN())
		require.Equal(t, mv.S1(), got.S1())
		require.Equal(t, mv.S2(), got.S2())

		// Queen promotions share an action with the plain ray move, so the
		// decoded promo may be Queen where the original had Queen.
		if p := mv.Promo(); p != chess.NoPieceType {
			require.Equal(t, p, got.Promo())
		}

		if depth > 1 {
			e.Push(action)
			walkRoundTrip(t, e, depth-1)
			e.Pop()
		}
	}
}

func TestActionRoundTripFromStart(t *testing.T) {
	walkRoundTrip(t, NewEnv(), 3)
}

func TestActionRoundTripPromotions(t *testing.T) {
	// White pawn on b7 can promote by pushing or capturing on a8/c8.
	e, err := NewEnvFEN("n1n5/1P6/8/8/8/8/8/K2k4 w - - 0 1")
	require.NoError(t, err)
	walkRoundTrip(t, e, 2)
}

func TestActionRoundTripBlackToMove(t *testing.T) {
	e := NewEnv()
	e.Push(e.Actions()[0])
	walkRoundTrip(t, e, 2)
}

func TestTerminalCheckmate(t *testing.T) {
	// Fool's mate: White is checkmated.
	e := NewEnv()
	for _, uci := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		pushUCI(t, e, uci)
	}

	value, reason, done := e.TerminalReason()
	require.True(t, done)
	require.Equal(t, float32(-1), value)
	require.Equal(t, "White is checkmated", reason)

	pgn, err := e.PGN()
	require.NoError(t, err)
	require.Contains(t, pgn, "0-1")
	require.Contains(t, pgn, "{White is checkmated}")
	require.True(t, strings.HasPrefix(pgn, "1. f3"), "pgn was %q", pgn)
}

func TestTerminalInsufficientMaterial(t *testing.T) {
	e, err := NewEnvFEN("8/8/4k3/8/8/3NK3/8/8 w - - 0 1")
	require.NoError(t, err)

	value, reason, done := e.TerminalReason()
	require.True(t, done)
	require.Zero(t, value)
	require.Equal(t, "Draw by insufficient material", reason)
}

func TestTerminalFiftyMoveRule(t *testing.T) {
	e, err := NewEnvFEN("8/8/4k3/8/8/2RNK3/8/8 w - - 100 80")
	require.NoError(t, err)

	_, reason, done := e.TerminalReason()
	require.True(t, done)
	require.Equal(t, "Draw by fifty-move rule", reason)
}

func TestTerminalThreefoldRepetition(t *testing.T) {
	e := NewEnv()
	// Shuffle knights back and forth until the start position repeats.
	for i := 0; i < 2; i++ {
		for _, uci := range []string{"g1f3", "g8f6", "f3g1", "f6g8"} {
			pushUCI(t, e, uci)
		}
	}

	_, reason, done := e.TerminalReason()
	require.True(t, done)
	require.Equal(t, "Draw by threefold repetition", reason)
}

func TestObserveShape(t *testing.T) {
	e := NewEnv()
	obs := make([]float32, ObsSize)
	e.Observe(obs)

	// 32 pieces on the board, one plane bit each.
	pieces := float32(0)
	for sq := 0; sq < 64; sq++ {
		for f := 18; f < NumFeatures; f++ {
			pieces += obs[sq*NumFeatures+f]
		}
	}
	require.Equal(t, float32(32), pieces)

	// All four castling flags set at the start.
	require.Equal(t, float32(1), obs[14])
	require.Equal(t, float32(1), obs[15])
	require.Equal(t, float32(1), obs[16])
	require.Equal(t, float32(1), obs[17])
}

func TestObservePOVFlip(t *testing.T) {
	e := NewEnv()
	pushUCI(t, e, "e2e4")

	obs := make([]float32, ObsSize)
	e.Observe(obs)

	// Black to move: Black's own pawns appear in the "own" planes on the
	// mover's second rank (squares 8..15 after rotation).
	ownPawn := 18 + int(chess.Pawn) - 1
	for sq := 8; sq < 16; sq++ {
		require.Equal(t, float32(1), obs[sq*NumFeatures+ownPawn], "square %d", sq)
	}
}

func TestHeuristicMaterial(t *testing.T) {
	e := NewEnv()
	require.Zero(t, e.Heuristic())

	// White up a queen.
	up, err := NewEnvFEN("k7/8/8/8/8/8/8/KQ6 w - - 0 1")
	require.NoError(t, err)
	require.Equal(t, float32(900), up.Heuristic())
}

func TestPushPopRestoresActions(t *testing.T) {
	e := NewEnv()
	before := append([]int(nil), e.Actions()...)

	e.Push(before[0])
	e.Pop()

	require.Equal(t, before, append([]int(nil), e.Actions()...))
	require.Zero(t, e.Ply())
}

func pushUCI(t *testing.T, e *Env, uci string) {
	t.Helper()
	for _, mv := range e.position().ValidMoves() {
		if mv.String() == uci {
			e.Push(e.Encode(mv))
			return
		}
	}
	t.Fatalf("no legal move %s in %q", uci, e.FEN())
}
