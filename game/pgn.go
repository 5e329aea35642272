package game

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

// PGN renders the game so far as standard algebraic movetext with a
// result token and a comment naming the termination reason. The game
// must be in a terminal position.
func (e *Env) PGN() (string, error) {
	value, reason, done := e.terminal()
	if !done {
		return "", fmt.Errorf("game must be in a terminal state to write PGN")
	}

	var result string
	switch {
	case value > 0:
		result = "1-0"
	case value < 0:
		result = "0-1"
	default:
		result = "1/2-1/2"
	}

	notation := chess.AlgebraicNotation{}
	var out strings.Builder

	moveNum := 1
	for i, mv := range e.history {
		pos := e.stack[i]
		if pos.Turn() == chess.White {
			if i > 0 {
				out.WriteByte(' ')
			}
			fmt.Fprintf(&out, "%d.", moveNum)
		} else {
			moveNum++
		}
		out.WriteByte(' ')
		out.WriteString(notation.Encode(pos, mv))
	}

	if out.Len() > 0 {
		out.WriteByte(' ')
	}
	fmt.Fprintf(&out, "%s {%s}", result, reason)
	return out.String(), nil
}
