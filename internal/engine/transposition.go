package engine

import (
	"sync/atomic"

	"github.com/tarrasch-labs/chessplay-core/internal/board"
)

// TTFlag indicates the type of bound stored in the transposition table.
type TTFlag uint8

const (
	TTExact      TTFlag = iota // Exact score
	TTLowerBound               // Failed high (beta cutoff)
	TTUpperBound               // Failed low
)

// TTEntry is the decoded contents of a transposition table slot, returned by Probe.
type TTEntry struct {
	Key      uint32     // Upper 32 bits of Zobrist hash for verification
	BestMove board.Move // Best move found
	Score    int16      // Score (bounded by flag)
	Depth    int8       // Search depth
	Flag     TTFlag     // Type of bound
	Age      uint8      // Generation for replacement
}

// ttSlot is one lock-free table slot: the packed entry word, and that word
// XORed with the full Zobrist key. A torn concurrent read of the two atomic
// words (a writer overlapping a reader) is caught because keyXorData^data
// will not reproduce the probed hash, so Probe safely treats it as a miss
// instead of returning corrupted data. No mutex is needed on the hot path.
type ttSlot struct {
	keyXorData atomic.Uint64
	data       atomic.Uint64
}

// TranspositionTable is a fixed-size, power-of-two hash table shared by every
// search worker. Writes always replace; reads verify via the XOR trick above.
type TranspositionTable struct {
	slots []ttSlot
	mask  uint64
	age   atomic.Uint32

	hits   atomic.Uint64
	probes atomic.Uint64
}

// NewTranspositionTable creates a transposition table with the given size in MB.
func NewTranspositionTable(sizeMB int) *TranspositionTable {
	const slotSize = 16 // two uint64 words
	numSlots := (uint64(sizeMB) * 1024 * 1024) / slotSize
	numSlots = roundDownToPowerOf2(numSlots)
	if numSlots == 0 {
		numSlots = 1
	}

	return &TranspositionTable{
		slots: make([]ttSlot, numSlots),
		mask:  numSlots - 1,
	}
}

// roundDownToPowerOf2 rounds n down to the nearest power of 2.
func roundDownToPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

func packTTData(score int16, depth int8, flag TTFlag, move board.Move, age uint8) uint64 {
	return uint64(uint16(score)) |
		uint64(uint8(depth))<<16 |
		uint64(flag)<<24 |
		uint64(uint16(move))<<26 |
		uint64(age)<<42
}

func unpackTTData(data uint64) (score int16, depth int8, flag TTFlag, move board.Move, age uint8) {
	score = int16(uint16(data))
	depth = int8(uint8(data >> 16))
	flag = TTFlag((data >> 24) & 0x3)
	move = board.Move(uint16(data >> 26))
	age = uint8(data >> 42)
	return
}

// Probe looks up a position in the transposition table.
// Returns the entry and true if found, otherwise returns empty entry and false.
func (tt *TranspositionTable) Probe(hash uint64) (TTEntry, bool) {
	tt.probes.Add(1)

	idx := hash & tt.mask
	slot := &tt.slots[idx]

	kx := slot.keyXorData.Load()
	data := slot.data.Load()
	if kx^data != hash {
		return TTEntry{}, false
	}

	score, depth, flag, move, age := unpackTTData(data)
	if depth <= 0 && move == board.NoMove {
		return TTEntry{}, false
	}

	tt.hits.Add(1)
	return TTEntry{
		Key:      uint32(hash >> 32),
		BestMove: move,
		Score:    score,
		Depth:    depth,
		Flag:     flag,
		Age:      age,
	}, true
}

// Store saves a position in the transposition table. Always-replace: the
// newest search result for a slot wins regardless of the depth it displaces,
// which keeps the table coherent under concurrent Lazy-SMP writers without
// a lock.
func (tt *TranspositionTable) Store(hash uint64, depth int, score int, flag TTFlag, bestMove board.Move) {
	idx := hash & tt.mask
	slot := &tt.slots[idx]

	data := packTTData(int16(score), int8(depth), flag, bestMove, uint8(tt.age.Load()))
	slot.data.Store(data)
	slot.keyXorData.Store(hash ^ data)
}

// NewSearch increments the age counter for a new search.
func (tt *TranspositionTable) NewSearch() {
	tt.age.Add(1)
}

// Clear clears the transposition table.
func (tt *TranspositionTable) Clear() {
	for i := range tt.slots {
		tt.slots[i].data.Store(0)
		tt.slots[i].keyXorData.Store(0)
	}
	tt.age.Store(0)
	tt.hits.Store(0)
	tt.probes.Store(0)
}

// HashFull returns the permille (parts per thousand) of the table that is used.
func (tt *TranspositionTable) HashFull() int {
	used := 0
	sampleSize := 1000
	if uint64(sampleSize) > uint64(len(tt.slots)) {
		sampleSize = len(tt.slots)
	}

	currentAge := uint8(tt.age.Load())
	for i := 0; i < sampleSize; i++ {
		data := tt.slots[i].data.Load()
		_, depth, _, _, age := unpackTTData(data)
		if depth > 0 && age == currentAge {
			used++
		}
	}

	return (used * 1000) / sampleSize
}

// HitRate returns the cache hit rate as a percentage.
func (tt *TranspositionTable) HitRate() float64 {
	probes := tt.probes.Load()
	if probes == 0 {
		return 0
	}
	return float64(tt.hits.Load()) / float64(probes) * 100
}

// Size returns the number of slots in the table.
func (tt *TranspositionTable) Size() uint64 {
	return uint64(len(tt.slots))
}

// AdjustScoreFromTT adjusts a mate score read from the table back to the
// current search ply's frame of reference.
func AdjustScoreFromTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score - ply
	}
	if score < -MateScore+MaxPly {
		return score + ply
	}
	return score
}

// AdjustScoreToTT adjusts a mate score for storage so it is independent of
// the ply at which it was found.
func AdjustScoreToTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score + ply
	}
	if score < -MateScore+MaxPly {
		return score - ply
	}
	return score
}
