package nnue

import "github.com/tarrasch-labs/chessplay-core/internal/board"

// Accumulator stores the accumulated hidden layer values for incremental
// updates. Each side has its own accumulator from its own perspective.
type Accumulator struct {
	White [L1Size]int16
	Black [L1Size]int16

	Computed bool
}

// AccumulatorStack manages accumulators during search, one slot per ply.
// Push snapshots the current accumulator so the incremental update helpers
// for the next ply can mutate it freely; Pop restores the snapshot taken before the
// move that is being undone.
type AccumulatorStack struct {
	stack [128]Accumulator
	top   int
}

// NewAccumulatorStack creates a new accumulator stack.
func NewAccumulatorStack() *AccumulatorStack {
	return &AccumulatorStack{}
}

// Push saves current accumulator state.
func (s *AccumulatorStack) Push() {
	if s.top < 127 {
		s.stack[s.top+1] = s.stack[s.top]
		s.top++
	}
}

// Pop restores previous accumulator state.
func (s *AccumulatorStack) Pop() {
	if s.top > 0 {
		s.top--
	}
}

// Current returns the current accumulator.
func (s *AccumulatorStack) Current() *Accumulator {
	return &s.stack[s.top]
}

// Reset resets the stack to initial state.
func (s *AccumulatorStack) Reset() {
	s.top = 0
	s.stack[0].Computed = false
}

// ComputeFull computes the accumulator from scratch for a position.
func (acc *Accumulator) ComputeFull(pos *board.Position, net *Network) {
	whiteFeatures, blackFeatures := GetActiveFeatures(pos)

	copy(acc.White[:], net.L1Bias[:])
	copy(acc.Black[:], net.L1Bias[:])

	for _, idx := range whiteFeatures {
		for i := 0; i < L1Size; i++ {
			acc.White[i] += net.L1Weights[idx][i]
		}
	}
	for _, idx := range blackFeatures {
		for i := 0; i < L1Size; i++ {
			acc.Black[i] += net.L1Weights[idx][i]
		}
	}

	acc.Computed = true
}

// applyFeature adds (sign > 0) or removes (sign < 0) the contribution of
// piece (pt, c) at sq to both perspective accumulators.
func (acc *Accumulator) applyFeature(net *Network, pt board.PieceType, c board.Color, sq board.Square, sign int) {
	wi := FeatureIndex(board.White, pt, c, sq)
	bi := FeatureIndex(board.Black, pt, c, sq)

	if sign > 0 {
		for i := 0; i < L1Size; i++ {
			acc.White[i] += net.L1Weights[wi][i]
			acc.Black[i] += net.L1Weights[bi][i]
		}
		return
	}
	for i := 0; i < L1Size; i++ {
		acc.White[i] -= net.L1Weights[wi][i]
		acc.Black[i] -= net.L1Weights[bi][i]
	}
}

// QuietUpdate moves a non-capturing, non-promoting piece from one square to
// another.
func (acc *Accumulator) QuietUpdate(net *Network, pt board.PieceType, c board.Color, from, to board.Square) {
	acc.applyFeature(net, pt, c, from, -1)
	acc.applyFeature(net, pt, c, to, 1)
}

// UndoQuietUpdate reverses QuietUpdate.
func (acc *Accumulator) UndoQuietUpdate(net *Network, pt board.PieceType, c board.Color, from, to board.Square) {
	acc.QuietUpdate(net, pt, c, to, from)
}

// CaptureUpdate moves a piece from one square to another, removing an
// enemy piece standing on the destination square.
func (acc *Accumulator) CaptureUpdate(net *Network, pt board.PieceType, c board.Color, from, to board.Square, capturedPT board.PieceType, capturedC board.Color) {
	acc.applyFeature(net, capturedPT, capturedC, to, -1)
	acc.applyFeature(net, pt, c, from, -1)
	acc.applyFeature(net, pt, c, to, 1)
}

// UndoCaptureUpdate reverses CaptureUpdate.
func (acc *Accumulator) UndoCaptureUpdate(net *Network, pt board.PieceType, c board.Color, from, to board.Square, capturedPT board.PieceType, capturedC board.Color) {
	acc.applyFeature(net, pt, c, to, -1)
	acc.applyFeature(net, pt, c, from, 1)
	acc.applyFeature(net, capturedPT, capturedC, to, 1)
}

// PromotionUpdate removes the pawn from its origin square and adds the
// promoted piece on the destination square, optionally also removing a
// captured enemy piece from the destination square.
func (acc *Accumulator) PromotionUpdate(net *Network, c board.Color, from, to board.Square, promoPT board.PieceType, capturedPT board.PieceType, capturedC board.Color, hasCaptured bool) {
	if hasCaptured {
		acc.applyFeature(net, capturedPT, capturedC, to, -1)
	}
	acc.applyFeature(net, board.Pawn, c, from, -1)
	acc.applyFeature(net, promoPT, c, to, 1)
}

// UndoPromotionUpdate reverses PromotionUpdate.
func (acc *Accumulator) UndoPromotionUpdate(net *Network, c board.Color, from, to board.Square, promoPT board.PieceType, capturedPT board.PieceType, capturedC board.Color, hasCaptured bool) {
	acc.applyFeature(net, promoPT, c, to, -1)
	acc.applyFeature(net, board.Pawn, c, from, 1)
	if hasCaptured {
		acc.applyFeature(net, capturedPT, capturedC, to, 1)
	}
}

// EPUpdate moves a pawn from one square to another and removes the enemy
// pawn taken en passant at capturedSq.
func (acc *Accumulator) EPUpdate(net *Network, c board.Color, from, to, capturedSq board.Square) {
	acc.applyFeature(net, board.Pawn, c, from, -1)
	acc.applyFeature(net, board.Pawn, c, to, 1)
	acc.applyFeature(net, board.Pawn, c.Other(), capturedSq, -1)
}

// UndoEPUpdate reverses EPUpdate.
func (acc *Accumulator) UndoEPUpdate(net *Network, c board.Color, from, to, capturedSq board.Square) {
	acc.applyFeature(net, board.Pawn, c, to, -1)
	acc.applyFeature(net, board.Pawn, c, from, 1)
	acc.applyFeature(net, board.Pawn, c.Other(), capturedSq, 1)
}

// CastlingUpdate moves the king and its rook together.
func (acc *Accumulator) CastlingUpdate(net *Network, c board.Color, kingFrom, kingTo, rookFrom, rookTo board.Square) {
	acc.applyFeature(net, board.King, c, kingFrom, -1)
	acc.applyFeature(net, board.King, c, kingTo, 1)
	acc.applyFeature(net, board.Rook, c, rookFrom, -1)
	acc.applyFeature(net, board.Rook, c, rookTo, 1)
}

// UndoCastlingUpdate reverses CastlingUpdate.
func (acc *Accumulator) UndoCastlingUpdate(net *Network, c board.Color, kingFrom, kingTo, rookFrom, rookTo board.Square) {
	acc.applyFeature(net, board.King, c, kingTo, -1)
	acc.applyFeature(net, board.King, c, kingFrom, 1)
	acc.applyFeature(net, board.Rook, c, rookTo, -1)
	acc.applyFeature(net, board.Rook, c, rookFrom, 1)
}
