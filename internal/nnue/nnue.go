// Package nnue implements a quantized efficiently-updatable neural network
// evaluator: two-perspective accumulators over an unconditioned piece/color/
// square feature set, fed through a clipped-square activation into a single
// linear output layer.
package nnue

import "github.com/tarrasch-labs/chessplay-core/internal/board"

// Feature and network dimensions.
const (
	NumPieceTypes = 6  // Pawn..King
	NumSquares    = 64
	FeatureSize   = 2 * NumPieceTypes * NumSquares // 768

	L1Size = 128

	// Quantization constants.
	QA     = 255
	QAB    = QA * 64
	CRMin  = 0
	CRMax  = 255
	Scale  = 400
)

// activate applies the clipped-square activation f(x) = clamp(x, CRMin, CRMax)^2.
func activate(x int16) int32 {
	v := int32(x)
	if v < CRMin {
		v = CRMin
	}
	if v > CRMax {
		v = CRMax
	}
	return v * v
}

// Evaluator is the NNUE evaluator used by search: a network plus the
// per-search accumulator stack that tracks it incrementally across make/unmake.
type Evaluator struct {
	net   *Network
	stack *AccumulatorStack
}

// NewEvaluator creates a new NNUE evaluator.
// If weightsFile is empty, uses random weights for testing.
func NewEvaluator(weightsFile string) (*Evaluator, error) {
	net := NewNetwork()

	if weightsFile != "" {
		if err := net.LoadWeights(weightsFile); err != nil {
			return nil, err
		}
	} else {
		net.InitRandom(12345) // For testing only
	}

	return &Evaluator{
		net:   net,
		stack: NewAccumulatorStack(),
	}, nil
}

// Evaluate returns the NNUE evaluation for the position in centipawns, from
// the side-to-move's perspective. The raw network output is clamped to <=0
// when the side to move has no mating material, and to >=0 when the
// opponent has none, since neither side can be regarded as better off than
// a draw once it cannot deliver mate.
func (e *Evaluator) Evaluate(pos *board.Position) int {
	acc := e.stack.Current()
	if !acc.Computed {
		acc.ComputeFull(pos, e.net)
	}
	result := e.net.Forward(acc, pos.SideToMove)

	if !hasMatingMaterial(pos, pos.SideToMove) && result > 0 {
		result = 0
	}
	if !hasMatingMaterial(pos, pos.SideToMove.Other()) && result < 0 {
		result = 0
	}

	return result
}

// hasMatingMaterial reports whether side has enough material to force mate
// on its own, by the conservative per-side rule: any pawn, rook, or queen,
// or >=2 bishops, or >=3 knights is sufficient; anything less is not.
func hasMatingMaterial(pos *board.Position, side board.Color) bool {
	if pos.Pieces[side][board.Pawn] != 0 ||
		pos.Pieces[side][board.Rook] != 0 ||
		pos.Pieces[side][board.Queen] != 0 {
		return true
	}
	if pos.Pieces[side][board.Bishop].PopCount() >= 2 {
		return true
	}
	if pos.Pieces[side][board.Knight].PopCount() >= 3 {
		return true
	}
	return false
}

// Push saves accumulator state (call before MakeMove).
func (e *Evaluator) Push() {
	e.stack.Push()
}

// Pop restores accumulator state (call after UnmakeMove).
func (e *Evaluator) Pop() {
	e.stack.Pop()
}

// Refresh forces a full recomputation of the accumulator.
func (e *Evaluator) Refresh(pos *board.Position) {
	e.stack.Current().ComputeFull(pos, e.net)
}

// Update applies the accumulator delta for a move that has already been
// played on pos (i.e. called after MakeMove). captured is the piece MakeMove
// reported as taken, or board.NoPiece for a non-capture.
func (e *Evaluator) Update(pos *board.Position, m board.Move, captured board.Piece) {
	acc := e.stack.Current()
	if !acc.Computed {
		acc.ComputeFull(pos, e.net)
		return
	}

	movedColor := pos.SideToMove.Other() // MakeMove already flipped SideToMove
	from, to := m.From(), m.To()
	finalPT := pos.PieceAt(to).Type()

	switch {
	case m.IsCastling():
		rookFrom, rookTo := castlingRookSquares(from, to)
		acc.CastlingUpdate(e.net, movedColor, from, to, rookFrom, rookTo)
	case m.IsEnPassant():
		var capSq board.Square
		if movedColor == board.White {
			capSq = to - 8
		} else {
			capSq = to + 8
		}
		acc.EPUpdate(e.net, movedColor, from, to, capSq)
	case m.IsPromotion():
		hasCaptured := captured != board.NoPiece
		var capturedPT board.PieceType
		if hasCaptured {
			capturedPT = captured.Type()
		}
		acc.PromotionUpdate(e.net, movedColor, from, to, finalPT, capturedPT, movedColor.Other(), hasCaptured)
	case captured != board.NoPiece:
		acc.CaptureUpdate(e.net, finalPT, movedColor, from, to, captured.Type(), movedColor.Other())
	default:
		acc.QuietUpdate(e.net, finalPT, movedColor, from, to)
	}
}

// castlingRookSquares returns the rook's from/to squares for a castling move
// given the king's from/to squares.
func castlingRookSquares(kingFrom, kingTo board.Square) (rookFrom, rookTo board.Square) {
	if kingTo > kingFrom {
		return board.NewSquare(7, kingFrom.Rank()), board.NewSquare(5, kingFrom.Rank())
	}
	return board.NewSquare(0, kingFrom.Rank()), board.NewSquare(3, kingFrom.Rank())
}

// Reset resets the accumulator stack (for new game).
func (e *Evaluator) Reset() {
	e.stack.Reset()
}
