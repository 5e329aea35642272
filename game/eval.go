package game

import "github.com/notnil/chess"

// Piece values in centipawns.
var pieceValue = [7]int{
	chess.Queen:  900,
	chess.Rook:   500,
	chess.Bishop: 330,
	chess.Knight: 320,
	chess.Pawn:   100,
}

// Heuristic is a fast material count in centipawns, positive when White
// is ahead. It feeds the optional bootstrap blend during expansion; the
// caller scales it into [-1, 1] with the configured window.
func (e *Env) Heuristic() float32 {
	board := e.position().Board()
	score := 0

	for sq := chess.Square(0); sq < 64; sq++ {
		pc := board.Piece(sq)
		if pc == chess.NoPiece {
			continue
		}
		v := pieceValue[pc.Type()]
		if pc.Color() == chess.White {
			score += v
		} else {
			score -= v
		}
	}

	return float32(score)
}
