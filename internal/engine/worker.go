package engine

import (
	"math"
	"sync/atomic"

	"github.com/tarrasch-labs/chessplay-core/internal/board"
	"github.com/tarrasch-labs/chessplay-core/internal/nnue"
)

// Tunable whole-node pruning constants. The distilled spec names these
// quantities without pinning exact values; the numbers below are this
// engine's chosen working point.
const (
	rfpMargin      = 80  // reverse futility: per (depth - improving)
	razoringMargin = 256 // razoring: per adjusted depth
	nmpFactor      = 3   // null-move eligibility: s + nmpFactor*depth - nmpBase >= beta
	nmpBase        = 0

	seeQuietMargin    = -80 // SEE pruning margin per depth, quiet moves
	seeNoisyMargin    = -20 // SEE pruning margin per depth, captures
	seeQSearchMargin  = 0   // qsearch SEE floor
	singularWellBelow = 20  // singular-extension "well below threshold" gap
	maxDoubleExtensions = 12

	ttFutilityMargin = 80 // cutnode TT-futility shortcut: margin per depth above the TT entry
)

// lmrQuiet and lmrNoisy hold precomputed logarithmic late-move reductions, split by
// whether the move is quiet or noisy (captures/promotions get a gentler
// curve since they are already ordered ahead of quiets).
var lmrQuiet, lmrNoisy [64][64]int

func init() {
	for d := 1; d < 64; d++ {
		for m := 1; m < 64; m++ {
			lmrQuiet[d][m] = int(24.0 * math.Log(float64(d)) * math.Log(float64(m)) / 1024.0 * 64)
			lmrNoisy[d][m] = int(14.0 * math.Log(float64(d)) * math.Log(float64(m)) / 1024.0 * 64)
		}
	}
}

// SearchStack stores per-ply state needed by pruning decisions further down
// the tree: the static eval at this ply (for improving/opponent-worsening),
// whether the move made to reach this ply was a capture, and the number of
// double extensions granted at this ply (kept per ply slot; it is not copied
// to child plies and is not reset between searches).
type SearchStack struct {
	eval              int
	madeCapture       bool
	doubleExtensions  int
	currentMoveMarker board.Move
}

// Worker is one Lazy-SMP search thread. Every field below is private to the
// worker; only the transposition table and the stop flag are shared.
type Worker struct {
	id int

	pos     *board.Position
	orderer *MoveOrderer

	nodes uint64
	pv    PVTable

	undoStack   [MaxPly]board.UndoInfo
	searchStack [MaxPly]SearchStack

	// Per-root-move node accounting, used by iterative deepening to compute
	// the node-fraction term of the continuation multiplier.
	rootMoveNodes map[board.Move]uint64

	excludedRootMoves []board.Move

	tt          *TranspositionTable
	corrHistory *CorrectionHistory
	stopFlag    *atomic.Bool
	timeManager *TimeManager

	eval *nnue.Evaluator

	depth int

	resultCh chan<- WorkerResult
}

// WorkerResult contains the result from a worker's search at a given depth.
type WorkerResult struct {
	WorkerID int
	Depth    int
	Score    int
	Move     board.Move
	PV       []board.Move
	Nodes    uint64
}

// NewWorker creates a new search worker.
func NewWorker(id int, tt *TranspositionTable, stopFlag *atomic.Bool) *Worker {
	return &Worker{
		id:            id,
		orderer:       NewMoveOrderer(),
		tt:            tt,
		corrHistory:   NewCorrectionHistory(),
		stopFlag:      stopFlag,
		rootMoveNodes: make(map[board.Move]uint64),
	}
}

// SetEvaluator attaches the NNUE evaluator this worker will use. Each worker
// owns its own evaluator (and accumulator stack) for thread safety.
func (w *Worker) SetEvaluator(e *nnue.Evaluator) {
	w.eval = e
}

// SetTimeManager attaches the time manager used for the node-interval abort
// check during search.
func (w *Worker) SetTimeManager(tm *TimeManager) {
	w.timeManager = tm
}

// ID returns the worker's ID.
func (w *Worker) ID() int { return w.id }

// Nodes returns the number of nodes searched by this worker.
func (w *Worker) Nodes() uint64 { return w.nodes }

// Reset resets the worker for a new search.
func (w *Worker) Reset() {
	w.nodes = 0
	w.orderer.Clear()
	w.corrHistory.Clear()
}

// SetResultChannel sets the channel for sending search results.
func (w *Worker) SetResultChannel(ch chan<- WorkerResult) {
	w.resultCh = ch
}

// SetExcludedMoves sets the moves to exclude at root (for Multi-PV).
func (w *Worker) SetExcludedMoves(moves []board.Move) {
	w.excludedRootMoves = moves
}

// InitSearch initializes the worker for a new search. pos must be a
// dedicated copy for this worker: the caller is responsible for isolating
// it from every other worker's goroutine.
func (w *Worker) InitSearch(pos *board.Position) {
	w.pos = pos
	if w.eval != nil {
		w.eval.Reset()
		w.eval.Refresh(pos)
	}
}

// Pos returns the current position (for debugging/UCI "go" reporting).
func (w *Worker) Pos() *board.Position { return w.pos }

// RootMoveNodeFraction returns the fraction of this iteration's nodes spent
// searching bestMove, for the iterative-deepening continuation multiplier.
func (w *Worker) RootMoveNodeFraction(bestMove board.Move) float64 {
	var total uint64
	for _, n := range w.rootMoveNodes {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(w.rootMoveNodes[bestMove]) / float64(total)
}

// SearchDepth performs a full search at the given depth using an aspiration
// window around prevScore (or a full window when prevScore has no meaning
// yet), per the spec's iterative-deepening aspiration loop.
func (w *Worker) SearchDepth(depth, prevScore int, hasPrevScore bool) (board.Move, int) {
	w.depth = depth
	w.rootMoveNodes = make(map[board.Move]uint64)

	var alpha, beta, delta int
	if hasPrevScore {
		delta = aspirationWindow
		alpha = prevScore - delta
		beta = prevScore + delta
	} else {
		alpha = -Infinity
		beta = Infinity
	}

	var score int
	for {
		score = w.negamax(depth, 0, alpha, beta, board.NoMove, board.NoMove, false)

		if w.stopFlag.Load() {
			break
		}

		if score <= alpha {
			beta = (alpha + beta) / 2
			alpha -= delta
			if alpha < -Infinity {
				alpha = -Infinity
			}
		} else if score >= beta {
			beta += delta
			if beta > Infinity {
				beta = Infinity
			}
		} else {
			break
		}

		delta = delta * 3 / 2
		if delta <= 0 {
			delta = aspirationWindow
		}
	}

	var bestMove board.Move
	if w.pv.length[0] > 0 {
		bestMove = w.pv.moves[0][0]
	}
	if bestMove == board.NoMove && !w.stopFlag.Load() {
		moves := w.pos.GenerateLegalMoves()
		if moves.Len() > 0 {
			bestMove = moves.Get(0)
		}
	}

	if w.resultCh != nil && !w.stopFlag.Load() {
		pv := make([]board.Move, w.pv.length[0])
		copy(pv, w.pv.moves[0][:w.pv.length[0]])
		w.resultCh <- WorkerResult{
			WorkerID: w.id,
			Depth:    depth,
			Score:    score,
			Move:     bestMove,
			PV:       pv,
			Nodes:    w.nodes,
		}
	}

	return bestMove, score
}

// aspirationWindow is ASPIRATION_WINDOW from the distilled spec.
const aspirationWindow = 20

// evaluate returns the NNUE static evaluation.
func (w *Worker) evaluate() int {
	return w.eval.Evaluate(w.pos)
}

func (w *Worker) stopped() bool { return w.stopFlag.Load() }

// GetPV returns the principal variation from the last search.
func (w *Worker) GetPV() []board.Move {
	pv := make([]board.Move, w.pv.length[0])
	copy(pv, w.pv.moves[0][:w.pv.length[0]])
	return pv
}

func (w *Worker) isExcludedRootMove(move board.Move) bool {
	for _, excluded := range w.excludedRootMoves {
		if move == excluded {
			return true
		}
	}
	return false
}

// isDraw checks 50-move rule, insufficient material, and repetition.
func (w *Worker) isDraw() bool {
	if w.pos.HalfMoveClock >= 100 {
		return true
	}
	if w.pos.IsInsufficientMaterial() {
		return true
	}
	return w.pos.IsRepetition()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// negamax implements PV and non-PV search with alpha-beta pruning.
// excludedMove, when not NoMove, is skipped in the move loop (singular
// extension verification search). cutNode is true when this node is
// expected to fail high.
func (w *Worker) negamax(depth, ply int, alpha, beta int, prevMove, excludedMove board.Move, cutNode bool) int {
	pvNode := beta-alpha != 1

	if ply >= MaxPly-1 {
		return w.evaluate()
	}

	if w.nodes&4095 == 0 {
		if w.stopFlag.Load() || (w.timeManager != nil && w.timeManager.ShouldStop(w.nodes)) {
			w.stopFlag.Store(true)
			return 0
		}
	}

	w.nodes++
	w.pv.length[ply] = ply

	if ply > 0 {
		if w.isDraw() {
			return 0
		}

		// Mate distance pruning.
		if a := -MateScore + ply; alpha < a {
			alpha = a
		}
		if b := MateScore - ply - 1; beta > b {
			beta = b
		}
		if alpha >= beta {
			return alpha
		}
	}

	if depth <= 0 {
		return w.quiescence(ply, alpha, beta)
	}

	var ttMove board.Move
	singular := excludedMove != board.NoMove
	var ttEntry TTEntry
	var found bool
	if !singular {
		ttEntry, found = w.tt.Probe(w.pos.Hash)
	}
	if found {
		ttMove = ttEntry.BestMove
		ttCutoffAllowed := ply > 0 || !w.isExcludedRootMove(ttMove)

		if int(ttEntry.Depth) >= depth && ttCutoffAllowed && !pvNode {
			score := AdjustScoreFromTT(int(ttEntry.Score), ply)
			switch ttEntry.Flag {
			case TTExact:
				return score
			case TTLowerBound:
				if score >= beta {
					return score
				}
			case TTUpperBound:
				if score <= alpha {
					return score
				}
			}
		}
	}

	inCheck := w.pos.InCheck()

	if found && cutNode && !inCheck && !pvNode && ttEntry.Flag != TTUpperBound {
		de := int(ttEntry.Depth)
		margin := ttFutilityMargin * max(1, depth-de)
		if AdjustScoreFromTT(int(ttEntry.Score), ply)-margin >= beta {
			return beta
		}
	}

	rawEval := w.evaluate()
	correction := w.corrHistory.Get(w.pos)
	staticEval := clampScore(rawEval + correction)

	// Reconcile with a usable TT bound, which is often tighter/cheaper than
	// recomputing NNUE would suggest.
	if found {
		ttScore := AdjustScoreFromTT(int(ttEntry.Score), ply)
		switch ttEntry.Flag {
		case TTExact:
			staticEval = ttScore
		case TTLowerBound:
			if ttScore > staticEval {
				staticEval = ttScore
			}
		case TTUpperBound:
			if ttScore < staticEval {
				staticEval = ttScore
			}
		}
	}

	w.searchStack[ply].eval = staticEval

	improving := false
	if ply >= 2 && !inCheck {
		improving = staticEval > w.searchStack[ply-2].eval
	}

	opponentWorsening := false
	if ply >= 3 {
		opponentWorsening = w.searchStack[ply-1].eval < w.searchStack[ply-3].eval
	}

	opponentCaptured := false
	if ply >= 1 {
		opponentCaptured = w.searchStack[ply-1].madeCapture
	}

	pruningEnabled := !pvNode && !inCheck && ply > 0 && !singular

	if pruningEnabled {
		// Reverse futility pruning.
		if depth <= 6 {
			margin := rfpMargin * (depth - boolInt(improving))
			if staticEval-margin >= beta {
				return staticEval
			}
		}

		// Razoring.
		if depth <= 2 {
			adj := depth + boolInt(improving) - boolInt(opponentCaptured && !opponentWorsening)
			if staticEval+razoringMargin*adj <= alpha {
				score := w.quiescence(ply, alpha, beta)
				if score < alpha {
					return score
				}
			}
		}

		// Null-move pruning.
		if depth >= 3 && !w.pos.LastMoveNull && w.pos.HasNonPawnMaterial() &&
			staticEval+nmpFactor*depth-nmpBase >= beta {
			r := 2 + depth/4 + minInt(3, (staticEval-beta)/256) + boolInt(improving) + boolInt(opponentWorsening)
			nullDepth := depth - r
			if nullDepth < 1 {
				nullDepth = 1
			}

			nullUndo := w.pos.MakeNullMove()
			nullScore := -w.negamax(nullDepth, ply+1, -beta, -beta+1, board.NoMove, board.NoMove, !cutNode)
			w.pos.UnmakeNullMove(nullUndo)

			if w.stopFlag.Load() {
				return 0
			}
			if nullScore >= beta {
				return beta
			}
		}
	}

	// Internal iterative reduction.
	if (pvNode || cutNode) && depth >= 9 && ttMove == board.NoMove {
		depth--
	}

	moves := w.pos.GenerateLegalMoves()
	if moves.Len() == 0 {
		if inCheck {
			return -MateScore + ply
		}
		return 0
	}

	var prevMove2 board.Move
	if ply >= 2 {
		prevMove2 = w.searchStack[ply-2].currentMoveMarker
	}
	scores := w.orderer.ScoreMovesWithContinuation(w.pos, moves, ply, ttMove, prevMove, prevMove2)

	bestScore := -Infinity
	bestMove := board.NoMove
	flag := TTUpperBound
	legal := 0
	skipQuiets := false

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		move := moves.Get(i)

		if ply == 0 && w.isExcludedRootMove(move) {
			continue
		}
		if move == excludedMove {
			continue
		}

		isCapture := move.IsCapture(w.pos)
		isPromotion := move.IsPromotion()
		isQuiet := !isCapture && !isPromotion
		isKiller := move == w.orderer.killers[ply][0] || move == w.orderer.killers[ply][1]

		if skipQuiets && isQuiet && !isKiller {
			continue
		}

		// Late-move pruning.
		if ply > 0 && depth <= 4 && !inCheck && isQuiet {
			threshold := depth * depth / 2
			if improving {
				threshold = 2 + depth*depth
			}
			if legal > threshold {
				skipQuiets = true
				continue
			}
		}

		// SEE pruning.
		if legal > 0 && depth <= 7 && !inCheck {
			margin := seeNoisyMargin
			if isQuiet {
				margin = seeQuietMargin
			}
			if !SEEGreaterEqual(w.pos, move, margin*depth) {
				continue
			}
		}

		captured := capturedPiece(w.pos, move)

		newDepth := depth - 1
		if inCheck {
			newDepth++
		}

		// Singular extension (checked before making the move).
		extension := 0
		if depth >= 8 && move == ttMove && excludedMove == board.NoMove && found &&
			int(ttEntry.Depth) >= depth-3 && ttEntry.Flag != TTUpperBound {

			ttScore := AdjustScoreFromTT(int(ttEntry.Score), ply)
			threshold := ttScore - 2*depth - 20

			singularScore := w.negamax(depth/2, ply, threshold-1, threshold, prevMove, ttMove, cutNode)

			switch {
			case singularScore < threshold:
				if singularScore < threshold-singularWellBelow && !pvNode &&
					w.searchStack[ply].doubleExtensions < maxDoubleExtensions {
					extension = 2
					w.searchStack[ply].doubleExtensions++
				} else {
					extension = 1
				}
			case threshold >= beta:
				return ttScore - 2*depth
			case ttScore >= beta:
				extension = -1
			}
		}
		newDepth += extension

		w.eval.Push()
		w.undoStack[ply] = w.pos.MakeMove(move)
		legal++

		w.searchStack[ply].currentMoveMarker = move
		w.searchStack[ply+1].madeCapture = captured != board.NoPiece

		w.eval.Update(w.pos, move, captured)

		nodesBefore := w.nodes

		var score int
		if legal > 1 && depth >= 2 {
			table := &lmrQuiet
			if !isQuiet {
				table = &lmrNoisy
			}
			d := clampInt(depth, 1, 63)
			m := clampInt(legal, 1, 63)
			reduction := table[d][m] / 64

			if pvNode {
				reduction--
			}
			if ttMove != board.NoMove && ttMove.IsCapture(w.pos) {
				reduction++
			}
			if !improving {
				reduction++
			}
			if inCheck {
				reduction--
			}
			reduction -= w.orderer.GetHistoryScore(move) / 8192

			reducedDepth := newDepth - reduction
			if reducedDepth < 1 {
				reducedDepth = 1
			}

			score = -w.negamax(reducedDepth, ply+1, -alpha-1, -alpha, move, board.NoMove, true)
			if score > alpha && reducedDepth < newDepth {
				score = -w.negamax(newDepth, ply+1, -alpha-1, -alpha, move, board.NoMove, false)
			}
			if score > alpha && score < beta {
				score = -w.negamax(newDepth, ply+1, -beta, -alpha, move, board.NoMove, false)
			}
		} else if legal == 1 {
			score = -w.negamax(newDepth, ply+1, -beta, -alpha, move, board.NoMove, false)
		} else {
			score = -w.negamax(newDepth, ply+1, -alpha-1, -alpha, move, board.NoMove, !cutNode)
			if score > alpha && score < beta {
				score = -w.negamax(newDepth, ply+1, -beta, -alpha, move, board.NoMove, false)
			}
		}

		if ply == 0 {
			w.rootMoveNodes[move] += w.nodes - nodesBefore
		}

		w.pos.UnmakeMove(move, w.undoStack[ply])
		w.eval.Pop()

		if w.stopFlag.Load() {
			return 0
		}

		if score > bestScore {
			bestScore = score
			bestMove = move

			if score > alpha {
				alpha = score
				flag = TTExact

				w.pv.moves[ply][ply] = move
				for j := ply + 1; j < w.pv.length[ply+1]; j++ {
					w.pv.moves[ply][j] = w.pv.moves[ply+1][j]
				}
				w.pv.length[ply] = w.pv.length[ply+1]
			}
		}

		if score >= beta {
			if isCapture {
				capturedType := captured.Type()
				if move.IsEnPassant() {
					capturedType = board.Pawn
				}
				w.orderer.UpdateCaptureHistory(w.pos.PieceAt(move.From()), move.To(), capturedType, depth, true)
			} else {
				w.orderer.UpdateKillers(move, ply)
				w.orderer.UpdateHistory(move, depth, true)
				w.orderer.UpdateCounterMove(prevMove, move, w.pos)
				w.orderer.UpdateFollowupMove(prevMove2, move, w.pos)
				if prevMove != board.NoMove {
					prevPiece := w.pos.PieceAt(prevMove.To())
					movePiece := w.pos.PieceAt(move.From())
					w.orderer.UpdateCountermoveHistory(prevMove, move, prevPiece, movePiece, depth, true)
				}
			}

			// Malus for every quiet move ordered before the cutoff move,
			// including ones skipped by pruning without a search.
			for j := 0; j < i; j++ {
				other := moves.Get(j)
				if other == excludedMove || (ply == 0 && w.isExcludedRootMove(other)) {
					continue
				}
				if other.IsCapture(w.pos) {
					continue
				}
				w.orderer.UpdateHistory(other, depth, false)
			}

			w.tt.Store(w.pos.Hash, depth, AdjustScoreToTT(score, ply), TTLowerBound, bestMove)
			return score
		}
	}

	if legal == 0 {
		if inCheck {
			return -MateScore + ply
		}
		return 0
	}

	if flag == TTExact && !inCheck && bestMove != board.NoMove && !bestMove.IsCapture(w.pos) {
		consistent := true
		switch {
		case bestScore >= beta:
			consistent = bestScore >= staticEval
		case bestScore <= alpha:
			consistent = bestScore <= staticEval
		}
		if consistent {
			w.corrHistory.Update(w.pos, bestScore, rawEval, depth)
		}
	}

	w.tt.Store(w.pos.Hash, depth, AdjustScoreToTT(bestScore, ply), flag, bestMove)

	return bestScore
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clampScore(s int) int {
	if s > MateScore-1 {
		return MateScore - 1
	}
	if s < -(MateScore - 1) {
		return -(MateScore - 1)
	}
	return s
}

func capturedPiece(pos *board.Position, m board.Move) board.Piece {
	if m.IsEnPassant() {
		var capSq board.Square
		if pos.SideToMove == board.White {
			capSq = m.To() - 8
		} else {
			capSq = m.To() + 8
		}
		return pos.PieceAt(capSq)
	}
	return pos.PieceAt(m.To())
}

// quiescence searches captures (and, in check, all evasions) to quiet the
// position before applying the static evaluation.
func (w *Worker) quiescence(ply int, alpha, beta int) int {
	if ply >= MaxPly-1 {
		return w.evaluate()
	}

	if w.nodes&4095 == 0 && w.stopFlag.Load() {
		return 0
	}

	w.nodes++
	originalAlpha := alpha

	var ttMove board.Move
	ttEntry, ttHit := w.tt.Probe(w.pos.Hash)
	if ttHit {
		ttMove = ttEntry.BestMove
		score := AdjustScoreFromTT(int(ttEntry.Score), ply)
		switch ttEntry.Flag {
		case TTExact:
			return score
		case TTLowerBound:
			if score >= beta {
				return score
			}
		case TTUpperBound:
			if score <= alpha {
				return score
			}
		}
	}

	inCheck := w.pos.InCheck()

	var standPat, bestValue int
	var bestMove board.Move

	if inCheck {
		bestValue = -MateScore + ply
		standPat = bestValue
	} else {
		rawEval := w.evaluate()
		correction := w.corrHistory.Get(w.pos)
		standPat = clampScore(rawEval + correction)
		bestValue = standPat

		if standPat >= beta {
			w.tt.Store(w.pos.Hash, 0, AdjustScoreToTT(standPat, ply), TTLowerBound, board.NoMove)
			return beta
		}
		if standPat > alpha {
			alpha = standPat
		}
	}

	var moves *board.MoveList
	if inCheck {
		moves = w.pos.GenerateLegalMoves()
	} else {
		moves = w.pos.GenerateCaptures()
	}

	scores := w.orderer.ScoreMoves(w.pos, moves, ply, ttMove)

	neutralThreshold := seeValues[board.Knight] - seeValues[board.Bishop] - 1

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		move := moves.Get(i)

		if !inCheck && move.IsCapture(w.pos) {
			captured := capturedPiece(w.pos, move)
			captureValue := seeValues[captured.Type()]
			if move.IsPromotion() {
				captureValue += seeValues[move.Promotion()] - seeValues[board.Pawn]
			}

			if standPat+captureValue < alpha {
				if standPat+captureValue > bestValue {
					bestValue = standPat + captureValue
				}
				continue
			}

			if !SEEGreaterEqual(w.pos, move, seeQSearchMargin) {
				continue
			}
			if captureValue <= 0 && !SEEGreaterEqual(w.pos, move, neutralThreshold) {
				continue
			}
		}

		captured := capturedPiece(w.pos, move)
		w.eval.Push()
		undo := w.pos.MakeMove(move)
		w.eval.Update(w.pos, move, captured)

		score := -w.quiescence(ply+1, -beta, -alpha)

		w.pos.UnmakeMove(move, undo)
		w.eval.Pop()

		if w.stopFlag.Load() {
			return 0
		}

		if score > bestValue {
			bestValue = score
			bestMove = move

			if score > alpha {
				alpha = score
				if score >= beta {
					break
				}
			}
		}
	}

	if inCheck && bestValue == -MateScore+ply && moves.Len() == 0 {
		return -MateScore + ply
	}

	var ttFlag TTFlag
	switch {
	case bestValue >= beta:
		ttFlag = TTLowerBound
	case bestValue > originalAlpha:
		ttFlag = TTExact
	default:
		ttFlag = TTUpperBound
	}
	w.tt.Store(w.pos.Hash, 0, AdjustScoreToTT(bestValue, ply), ttFlag, bestMove)

	return bestValue
}
