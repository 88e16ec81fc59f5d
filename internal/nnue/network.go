package nnue

import "github.com/tarrasch-labs/chessplay-core/internal/board"

// Network holds the NNUE weights: a single feature-transformer layer
// followed directly by a linear output over both perspectives' activations.
type Network struct {
	L1Weights [FeatureSize][L1Size]int16
	L1Bias    [L1Size]int16

	// OutputWeights holds weights for the concatenated [stm | nstm] activations.
	OutputWeights [2 * L1Size]int16
	OutputBias    int32
}

// NewNetwork creates a network with zero weights (must load weights or init random).
func NewNetwork() *Network {
	return &Network{}
}

// Forward computes the network output given an accumulator, returning a
// centipawn score from the perspective of sideToMove.
func (n *Network) Forward(acc *Accumulator, sideToMove board.Color) int {
	var stmAcc, nstmAcc *[L1Size]int16
	if sideToMove == board.White {
		stmAcc = &acc.White
		nstmAcc = &acc.Black
	} else {
		stmAcc = &acc.Black
		nstmAcc = &acc.White
	}

	var sum int64
	for i := 0; i < L1Size; i++ {
		sum += int64(activate(stmAcc[i])) * int64(n.OutputWeights[i])
		sum += int64(activate(nstmAcc[i])) * int64(n.OutputWeights[L1Size+i])
	}

	result := sum/QA + int64(n.OutputBias)
	return int(result * Scale / QAB)
}

// InitRandom initializes weights with small random values (for testing only).
func (n *Network) InitRandom(seed int64) {
	state := uint64(seed)
	next := func() int16 {
		state = state*6364136223846793005 + 1442695040888963407
		return int16((state >> 48) & 0xFF) - 128
	}

	for i := 0; i < FeatureSize; i++ {
		for j := 0; j < L1Size; j++ {
			n.L1Weights[i][j] = next() >> 5
		}
	}

	for i := 0; i < L1Size; i++ {
		n.L1Bias[i] = next() >> 3
	}

	for i := 0; i < 2*L1Size; i++ {
		n.OutputWeights[i] = next() >> 5
	}

	n.OutputBias = int32(next()) * 100
}
