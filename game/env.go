// Package game adapts the chess rules library to the search engine.
//
// The engine sees positions through a small surface: push/pop of integer
// action ids, legal action enumeration, terminal detection with a signed
// outcome relative to White, a fixed-size float observation, and a scalar
// heuristic. Everything chess-specific (move legality, draw rules, SAN)
// is delegated to github.com/notnil/chess.
package game

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

const (
	Width  = 8
	Height = 8

	// Per-square features: 8 ply bits, 6 halfmove-clock bits, 4 castling
	// flags, 6 own piece planes, 6 opponent piece planes.
	NumFeatures = 8 + 6 + 4 + 12

	// ObsSize is the length of one observation vector.
	ObsSize = Width * Height * NumFeatures

	// PolicySize is the move encoding space: 73 planes per source square.
	PolicySize = 73 * 64
)

// Env is one playable chess game with push/pop history.
//
// An Env is owned by exactly one search tree and is not safe for
// concurrent use.
type Env struct {
	stack   []*chess.Position
	history []*chess.Move

	// reps counts occurrences of each position (board, turn, castling,
	// en passant) for threefold detection. Maintained incrementally by
	// Push/Pop.
	reps map[string]int

	actions    []int
	actionsUTD bool
}

// NewEnv returns an Env at the standard starting position.
func NewEnv() *Env {
	e := &Env{}
	e.Reset()
	return e
}

// NewEnvFEN returns an Env rooted at an arbitrary position.
func NewEnvFEN(fen string) (*Env, error) {
	pos := &chess.Position{}
	if err := pos.UnmarshalText([]byte(fen)); err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	e := &Env{}
	e.stack = []*chess.Position{pos}
	e.reps = map[string]int{repKey(pos): 1}
	return e, nil
}

// Reset rewinds to a fresh starting position.
func (e *Env) Reset() {
	start := chess.StartingPosition()
	e.stack = e.stack[:0]
	e.stack = append(e.stack, start)
	e.history = e.history[:0]
	e.reps = map[string]int{repKey(start): 1}
	e.actionsUTD = false
}

func (e *Env) position() *chess.Position { return e.stack[len(e.stack)-1] }

// Turn reports the side to move: +1 for White, -1 for Black.
func (e *Env) Turn() float32 {
	if e.position().Turn() == chess.White {
		return 1
	}
	return -1
}

// Ply is the number of half-moves played from the root position.
func (e *Env) Ply() int { return len(e.history) }

// FEN returns the current position in Forsyth-Edwards notation.
func (e *Env) FEN() string { return e.position().String() }

// Push applies the move identified by action. The action must be one of
// the ids returned by Actions; pushing anything else is an invariant
// violation and panics.
func (e *Env) Push(action int) {
	mv := e.decodeToMove(action)
	if mv == nil {
		panic(fmt.Sprintf("game: push of illegal action %d in %q", action, e.FEN()))
	}

	next := e.position().Update(mv)
	e.stack = append(e.stack, next)
	e.history = append(e.history, mv)
	e.reps[repKey(next)]++
	e.actionsUTD = false
}

// Pop unwinds the most recent Push.
func (e *Env) Pop() {
	top := e.position()
	e.reps[repKey(top)]--
	e.stack = e.stack[:len(e.stack)-1]
	e.history = e.history[:len(e.history)-1]
	e.actionsUTD = false
}

// Actions enumerates the legal moves as encoded action ids. The slice is
// owned by the Env and valid until the next Push/Pop/Reset.
func (e *Env) Actions() []int {
	if !e.actionsUTD {
		e.actions = e.actions[:0]
		for _, mv := range e.position().ValidMoves() {
			e.actions = append(e.actions, e.Encode(mv))
		}
		e.actionsUTD = true
	}
	return e.actions
}

// Terminal reports whether the game is over and, if so, the outcome in
// {-1, 0, +1} relative to White.
func (e *Env) Terminal() (float32, bool) {
	value, _, done := e.terminal()
	return value, done
}

// TerminalReason is Terminal plus a human-readable cause, used for the
// PGN comment.
func (e *Env) TerminalReason() (float32, string, bool) {
	return e.terminal()
}

func (e *Env) terminal() (float32, string, bool) {
	pos := e.position()

	if halfMoveClock(pos) >= 100 {
		return 0, "Draw by fifty-move rule", true
	}

	if e.reps[repKey(pos)] >= 3 {
		return 0, "Draw by threefold repetition", true
	}

	if insufficientMaterial(pos.Board()) {
		return 0, "Draw by insufficient material", true
	}

	switch pos.Status() {
	case chess.Checkmate:
		if pos.Turn() == chess.White {
			return -1, "White is checkmated", true
		}
		return 1, "Black is checkmated", true
	case chess.Stalemate:
		if pos.Turn() == chess.White {
			return 0, "White is stalemated", true
		}
		return 0, "Black is stalemated", true
	}

	return 0, "", false
}

// insufficientMaterial covers the dead positions the loop can reach:
// bare kings, a single minor piece, or one minor piece of the same kind
// per side (knight vs knight, bishop vs bishop).
func insufficientMaterial(b *chess.Board) bool {
	var knights, bishops, others, white, black int

	for sq := chess.Square(0); sq < 64; sq++ {
		pc := b.Piece(sq)
		if pc == chess.NoPiece {
			continue
		}
		if pc.Color() == chess.White {
			white++
		} else {
			black++
		}
		switch pc.Type() {
		case chess.King:
		case chess.Knight:
			knights++
		case chess.Bishop:
			bishops++
		default:
			others++
		}
	}

	if others > 0 {
		return false
	}

	minors := knights + bishops
	switch {
	case minors == 0:
		return true // K vs K
	case minors == 1:
		return true // K vs K+minor
	case minors == 2 && white == black && (knights == 2 || bishops == 2):
		return true // KN vs KN, KB vs KB
	}
	return false
}

// repKey identifies a position for repetition counting: everything in the
// FEN except the move counters.
func repKey(pos *chess.Position) string {
	fen := pos.String()
	fields := strings.SplitN(fen, " ", 5)
	if len(fields) < 4 {
		return fen
	}
	return strings.Join(fields[:4], " ")
}

// halfMoveClock reads the fifty-move counter out of the FEN.
func halfMoveClock(pos *chess.Position) int {
	fields := strings.Fields(pos.String())
	if len(fields) < 5 {
		return 0
	}
	v, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0
	}
	return v
}
