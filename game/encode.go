package game

import "github.com/notnil/chess"

// Move encoding: each source square owns 73 planes.
//
//   0..55  ray moves, 8 directions x 7 distances (N S E W NE NW SE SW)
//  56..63  knight moves
//  64..72  underpromotions, 3 directions x {knight, bishop, rook}
//
// Squares are viewed from the mover's side: Black's coordinates are
// rotated so a pawn push is always "north". Queen promotions encode as
// plain ray moves.

// rayDirs maps a plane group to (file, rank) deltas in POV coordinates.
var rayDirs = [8][2]int{
	{0, 1},   // N
	{0, -1},  // S
	{1, 0},   // E
	{-1, 0},  // W
	{1, 1},   // NE
	{-1, 1},  // NW
	{1, -1},  // SE
	{-1, -1}, // SW
}

var promoDirs = [3][2]int{
	{-1, 1}, // NW
	{0, 1},  // N
	{1, 1},  // NE
}

var promoTypes = [3]chess.PieceType{chess.Knight, chess.Bishop, chess.Rook}

// Encode maps a legal move in the current position to its action id.
func (e *Env) Encode(mv *chess.Move) int {
	src := int(mv.S1())
	dst := int(mv.S2())

	if e.position().Turn() == chess.Black {
		src = 63 - src
		dst = 63 - dst
	}

	if p := mv.Promo(); p != chess.NoPieceType && p != chess.Queen {
		df := file(dst) - file(src)
		for i, pt := range promoTypes {
			if pt == p {
				return 73*src + 64 + 3*i + (df + 1)
			}
		}
	}

	df := file(dst) - file(src)
	dr := rank(dst) - rank(src)

	if df != 0 && dr != 0 && abs(df) != abs(dr) {
		// Knight move. Order: W-NW, N-NW, E-NE, N-NE, W-SW, S-SW, E-SE, S-SE.
		ind := 0
		if dr < 0 {
			ind += 4
		}
		if df > 0 {
			ind += 2
		}
		ind += abs(dr) - 1
		return 73*src + 56 + ind
	}

	// Ray move.
	dist := max(abs(df), abs(dr))
	for i, d := range rayDirs {
		if sign(df) == d[0] && sign(dr) == d[1] {
			return 73*src + 7*i + (dist - 1)
		}
	}

	panic("game: unencodable move " + mv.String())
}

// Decode maps an action id back to (src, dst, promo) in board
// coordinates for the side to move. It does not check legality.
func (e *Env) Decode(action int) (src, dst int, promo chess.PieceType) {
	src = action / 73
	atype := action % 73

	switch {
	case atype < 56:
		d := rayDirs[atype/7]
		dist := atype%7 + 1
		dst = square(file(src)+d[0]*dist, rank(src)+d[1]*dist)
	case atype < 64:
		// Invert the knight encoding: ind = (dr<0)*4 + (df>0)*2 + |dr|-1.
		ind := atype - 56
		dr := ind%2 + 1
		df := 3 - dr
		if ind&2 == 0 {
			df = -df
		}
		if ind&4 != 0 {
			dr = -dr
		}
		dst = square(file(src)+df, rank(src)+dr)
	default:
		i := atype - 64
		d := promoDirs[i%3]
		dst = square(file(src)+d[0], rank(src)+d[1])
		promo = promoTypes[i/3]
	}

	if e.position().Turn() == chess.Black {
		src = 63 - src
		dst = 63 - dst
	}
	return src, dst, promo
}

// decodeToMove resolves an action id against the current legal moves.
// Returns nil when no legal move matches.
func (e *Env) decodeToMove(action int) *chess.Move {
	src, dst, promo := e.Decode(action)
	for _, mv := range e.position().ValidMoves() {
		if int(mv.S1()) != src || int(mv.S2()) != dst {
			continue
		}
		p := mv.Promo()
		if promo == chess.NoPieceType {
			if p == chess.NoPieceType || p == chess.Queen {
				return mv
			}
			continue
		}
		if p == promo {
			return mv
		}
	}
	return nil
}

// ActionString renders an action id as UCI text, for logs.
func (e *Env) ActionString(action int) string {
	if mv := e.decodeToMove(action); mv != nil {
		return mv.String()
	}
	src, dst, _ := e.Decode(action)
	return chess.Square(src).String() + chess.Square(dst).String() + "?"
}

func file(sq int) int { return sq % 8 }
func rank(sq int) int { return sq / 8 }

func square(f, r int) int { return r*8 + f }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
