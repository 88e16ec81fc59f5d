package engine

import "github.com/tarrasch-labs/chessplay-core/internal/board"

// Search-wide score and depth bounds shared by every component of the
// negamax core (transposition table, move ordering, quiescence, workers).
const (
	Infinity  = 30000
	MateScore = 29000
	MaxPly    = 128
)

// PVTable stores the principal variation collected during the search, one
// line per ply, triangular-array style.
type PVTable struct {
	length [MaxPly]int
	moves  [MaxPly][MaxPly]board.Move
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
