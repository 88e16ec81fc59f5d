package nnue

import "github.com/tarrasch-labs/chessplay-core/internal/board"

// FeatureIndex computes the input feature index for a piece (pt, c) at sq
// from the given perspective. The feature set is unconditioned: it does not
// depend on where the perspective's king is, only on a colour flip and
// square mirror applied when viewing the board from Black's side.
func FeatureIndex(perspective board.Color, pt board.PieceType, c board.Color, sq board.Square) int {
	colorIdx := 0
	sqIdx := int(sq)

	if perspective == board.White {
		if c == board.Black {
			colorIdx = 1
		}
	} else {
		if c == board.White {
			colorIdx = 1
		}
		sqIdx = int(sq.Mirror())
	}

	return colorIdx*NumPieceTypes*NumSquares + int(pt)*NumSquares + sqIdx
}

// GetActiveFeatures returns all active feature indices for a position from
// both perspectives, including the kings.
func GetActiveFeatures(pos *board.Position) (white, black []int) {
	white = make([]int, 0, 32)
	black = make([]int, 0, 32)

	for c := board.White; c <= board.Black; c++ {
		for pt := board.Pawn; pt <= board.King; pt++ {
			pieces := pos.Pieces[c][pt]
			for pieces != 0 {
				sq := pieces.PopLSB()
				white = append(white, FeatureIndex(board.White, pt, c, sq))
				black = append(black, FeatureIndex(board.Black, pt, c, sq))
			}
		}
	}

	return white, black
}
