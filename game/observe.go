package game

import "github.com/notnil/chess"

// Observe writes the position into dst, which must hold ObsSize floats.
//
// Every square carries the same 18-float header (ply counter bits,
// halfmove clock bits, castling rights from the mover's perspective)
// followed by 12 piece planes (6 own, 6 opponent). The board is rotated
// so the mover always looks "north".
func (e *Env) Observe(dst []float32) {
	pos := e.position()
	us := pos.Turn()

	for i := range dst[:ObsSize] {
		dst[i] = 0
	}

	var header [18]float32

	ply := len(e.history)
	for i := 0; i < 8; i++ {
		header[i] = float32((ply >> i) & 1)
	}

	hmc := halfMoveClock(pos)
	for i := 0; i < 6; i++ {
		header[8+i] = float32((hmc >> i) & 1)
	}

	them := chess.Black
	if us == chess.Black {
		them = chess.White
	}
	rights := pos.CastleRights()
	header[14] = boolf(rights.CanCastle(us, chess.KingSide))
	header[15] = boolf(rights.CanCastle(us, chess.QueenSide))
	header[16] = boolf(rights.CanCastle(them, chess.KingSide))
	header[17] = boolf(rights.CanCastle(them, chess.QueenSide))

	for sq := 0; sq < 64; sq++ {
		copy(dst[sq*NumFeatures:], header[:])
	}

	board := pos.Board()
	for sq := chess.Square(0); sq < 64; sq++ {
		pc := board.Piece(sq)
		if pc == chess.NoPiece {
			continue
		}

		povsq := int(sq)
		if us == chess.Black {
			povsq = 63 - povsq
		}

		base := povsq*NumFeatures + 18
		if pc.Color() != us {
			base += 6
		}
		dst[base+int(pc.Type())-1] = 1
	}
}

func boolf(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
