package engine

import (
	"github.com/tarrasch-labs/chessplay-core/internal/board"
)

// corrHistSize is the number of pawn-structure buckets tracked per side.
const corrHistSize = 16384

// corrHistMax bounds the stored fixed-point correction (units of 1/256 cp),
// capping the applied correction at corrHistMax/256 centipawns.
const corrHistMax = 256 * 32

// CorrectionHistory tracks, per side to move and pawn structure, how far the
// static evaluation has historically been from the search's verdict, and
// applies that as a correction to future static evaluations of similar pawn
// structures. Keyed by pawn hash rather than the full position hash so the
// correction generalizes across positions sharing a pawn skeleton.
type CorrectionHistory struct {
	table [2][corrHistSize]int32 // fixed point, units of 1/256 centipawn
}

// NewCorrectionHistory creates a new correction history table.
func NewCorrectionHistory() *CorrectionHistory {
	return &CorrectionHistory{}
}

func corrHistIndex(pos *board.Position) uint64 {
	return pos.PawnKey % corrHistSize
}

// Get returns the correction, in centipawns, to add to the static
// evaluation for the side to move in this position.
func (ch *CorrectionHistory) Get(pos *board.Position) int {
	idx := corrHistIndex(pos)
	return int(ch.table[pos.SideToMove][idx]) / 256
}

// Update records one sample of (searchScore - staticEval) for the position's
// side to move and pawn structure, using an exponential moving average
// weighted by search depth: w = min(depth+1, 16),
// entry <- (entry*(256-w) + diff*256*w) / 256.
func (ch *CorrectionHistory) Update(pos *board.Position, searchScore, staticEval, depth int) {
	if depth < 1 {
		return
	}

	diff := searchScore - staticEval

	w := depth + 1
	if w > 16 {
		w = 16
	}

	idx := corrHistIndex(pos)
	entry := &ch.table[pos.SideToMove][idx]

	updated := (int64(*entry)*int64(256-w) + int64(diff)*256*int64(w)) / 256
	if updated > corrHistMax {
		updated = corrHistMax
	} else if updated < -corrHistMax {
		updated = -corrHistMax
	}

	*entry = int32(updated)
}

// Clear resets all correction values.
func (ch *CorrectionHistory) Clear() {
	for s := range ch.table {
		for i := range ch.table[s] {
			ch.table[s][i] = 0
		}
	}
}
