package engine

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarrasch-labs/chessplay-core/internal/board"
	"github.com/tarrasch-labs/chessplay-core/internal/nnue"
)

// NumWorkers is the number of parallel search workers (matches CPU cores).
var NumWorkers = runtime.GOMAXPROCS(0)

// SearchInfo contains information about the current search.
type SearchInfo struct {
	Depth    int
	Score    int
	Nodes    uint64
	Time     time.Duration
	PV       []board.Move
	HashFull int // Permille of hash table used
}

// SearchLimits specifies constraints on the search.
type SearchLimits struct {
	Depth    int           // Maximum depth (0 = no limit)
	Nodes    uint64        // Maximum nodes (0 = no limit)
	MoveTime time.Duration // Time for this move (0 = no limit)
	Infinite bool          // Search until stopped
}

// Difficulty represents the AI difficulty level.
type Difficulty int

const (
	Easy   Difficulty = iota // depth 3, 500ms
	Medium                   // depth 7, 1s
	Hard                     // depth 40, 3s
)

// DifficultySettings maps difficulty to search limits.
var DifficultySettings = map[Difficulty]SearchLimits{
	Easy:   {Depth: 3, MoveTime: 500 * time.Millisecond},
	Medium: {Depth: 7, MoveTime: 1 * time.Second},
	Hard:   {Depth: 40, MoveTime: 3 * time.Second},
}

// Engine is the chess AI engine: a shared transposition table and one
// private Worker per Lazy-SMP thread, each with its own move-ordering
// tables, correction history, and NNUE accumulator stack.
type Engine struct {
	workers  []*Worker
	tt       *TranspositionTable
	stopFlag atomic.Bool

	difficulty Difficulty

	useNNUE         bool
	nnueLoaded      bool
	nnueWeightsPath string

	// Callbacks
	OnInfo func(SearchInfo)
}

// NewEngine creates a new chess engine with the given transposition table size in MB.
func NewEngine(ttSizeMB int) *Engine {
	tt := NewTranspositionTable(ttSizeMB)

	e := &Engine{
		tt:         tt,
		difficulty: Medium,
		workers:    make([]*Worker, NumWorkers),
	}

	for i := 0; i < NumWorkers; i++ {
		e.workers[i] = NewWorker(i, tt, &e.stopFlag)
	}

	return e
}

// SetDifficulty sets the engine difficulty.
func (e *Engine) SetDifficulty(d Difficulty) {
	e.difficulty = d
}

// LoadNNUE loads the NNUE weights file and attaches a private evaluator (and
// accumulator stack) to every worker.
func (e *Engine) LoadNNUE(weightsPath string) error {
	for _, w := range e.workers {
		ev, err := nnue.NewEvaluator(weightsPath)
		if err != nil {
			return err
		}
		w.SetEvaluator(ev)
	}
	e.useNNUE = true
	e.nnueLoaded = true
	e.nnueWeightsPath = weightsPath
	return nil
}

// UseNNUE returns whether NNUE evaluation is enabled.
func (e *Engine) UseNNUE() bool {
	return e.useNNUE
}

// HasNNUE returns whether NNUE networks are loaded.
func (e *Engine) HasNNUE() bool {
	return e.nnueLoaded
}

// Search finds the best move for the given position.
func (e *Engine) Search(pos *board.Position) board.Move {
	limits := DifficultySettings[e.difficulty]
	return e.SearchWithLimits(pos, limits)
}

// SearchWithLimits finds the best move with specific search limits, using
// Lazy SMP: every worker searches the same position independently, sharing
// only the transposition table and the stop flag.
func (e *Engine) SearchWithLimits(pos *board.Position, limits SearchLimits) board.Move {
	var uciLimits UCILimits
	if limits.MoveTime > 0 {
		uciLimits.MoveTime = limits.MoveTime
	} else {
		uciLimits.Infinite = true
	}
	uciLimits.Depth = limits.Depth
	uciLimits.Nodes = limits.Nodes

	return e.SearchWithUCILimits(pos, uciLimits, 0)
}

// SearchWithUCILimits finds the best move using UCI time controls: wtime/
// btime/winc/binc for tournament time management, or a fixed move time /
// node limit / infinite analysis mode.
func (e *Engine) SearchWithUCILimits(pos *board.Position, limits UCILimits, ply int) board.Move {
	tm := NewTimeManager()
	tm.Init(limits, pos.SideToMove, ply)

	e.stopFlag.Store(false)
	e.tt.NewSearch()

	for _, w := range e.workers {
		w.Reset()
		w.SetTimeManager(tm)
	}

	startTime := time.Now()
	var bestMove board.Move
	var bestScore int
	var bestPV []board.Move
	var bestDepth int

	maxDepth := MaxPly - 1
	if limits.Depth > 0 && limits.Depth < maxDepth {
		maxDepth = limits.Depth
	}

	resultCh := make(chan WorkerResult, NumWorkers*maxDepth)

	var wg sync.WaitGroup
	for i := 0; i < NumWorkers; i++ {
		wg.Add(1)
		go e.workerSearch(i, pos, maxDepth, tm, resultCh, &wg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(resultCh)
		close(done)
	}()

resultLoop:
	for {
		select {
		case result, ok := <-resultCh:
			if !ok {
				break resultLoop
			}

			if result.Move != board.NoMove &&
				(result.Depth > bestDepth || (result.Depth == bestDepth && result.Score > bestScore)) {
				bestMove = result.Move
				bestScore = result.Score
				bestPV = result.PV
				bestDepth = result.Depth

				if e.OnInfo != nil {
					e.OnInfo(SearchInfo{
						Depth:    bestDepth,
						Score:    bestScore,
						Nodes:    e.getTotalNodes(),
						Time:     time.Since(startTime),
						PV:       bestPV,
						HashFull: e.tt.HashFull(),
					})
				}

				if bestScore > MateScore-100 || bestScore < -MateScore+100 {
					e.stopFlag.Store(true)
					break resultLoop
				}
			}

			if tm.ShouldStop(e.getTotalNodes()) {
				e.stopFlag.Store(true)
				break resultLoop
			}

		case <-done:
			break resultLoop
		}
	}

	e.stopFlag.Store(true)
	<-done

	return bestMove
}

// workerSearch runs iterative deepening in a worker goroutine. Helper
// workers start at a staggered depth so they don't all repeat the same
// cheap shallow iterations: worker 0 starts at depth 1, workers 1-2 at
// depth 2, workers 3-5 at depth 3, workers 6+ at depth 4.
func (e *Engine) workerSearch(workerID int, pos *board.Position, maxDepth int, tm *TimeManager, resultCh chan<- WorkerResult, wg *sync.WaitGroup) {
	defer wg.Done()

	worker := e.workers[workerID]
	workerPos := pos.Copy()
	worker.InitSearch(workerPos)
	worker.SetResultChannel(resultCh)

	startDepth := 1
	switch {
	case workerID >= 6:
		startDepth = 4
	case workerID >= 3:
		startDepth = 3
	case workerID >= 1:
		startDepth = 2
	}

	var prevScore int
	var bestMove board.Move
	hasPrevScore := false

	for depth := startDepth; depth <= maxDepth; depth++ {
		if e.stopFlag.Load() {
			return
		}

		move, score := worker.SearchDepth(depth, prevScore, hasPrevScore)

		if e.stopFlag.Load() {
			return
		}

		prevScore = score
		hasPrevScore = true
		if move != board.NoMove {
			bestMove = move
		}

		if workerID == 0 && depth >= startDepth {
			fraction := worker.RootMoveNodeFraction(bestMove)
			if !tm.ShouldStartNextIteration(fraction) {
				e.stopFlag.Store(true)
				return
			}
		}
	}
}

// getTotalNodes returns the total nodes searched by all workers.
func (e *Engine) getTotalNodes() uint64 {
	var total uint64
	for _, w := range e.workers {
		total += w.Nodes()
	}
	return total
}

// Stop stops the current search.
func (e *Engine) Stop() {
	e.stopFlag.Store(true)
}

// Clear clears the transposition table and every worker's ordering/
// correction-history state.
func (e *Engine) Clear() {
	e.tt.Clear()
	for _, w := range e.workers {
		w.orderer.Clear()
		w.corrHistory.Clear()
	}
}

// Resize reallocates the transposition table to sizeMB, discarding its
// current contents. All workers share the new table.
func (e *Engine) Resize(sizeMB int) {
	tt := NewTranspositionTable(sizeMB)
	e.tt = tt
	for _, w := range e.workers {
		w.tt = tt
	}
}

// SetThreads rebuilds the worker pool to the given size, carrying over the
// loaded NNUE network (if any) to every worker so Threads can be changed
// mid-session without a fresh "setoption name EvalFile".
func (e *Engine) SetThreads(n int) {
	weightsPath := e.nnueWeightsPath

	workers := make([]*Worker, n)
	for i := 0; i < n; i++ {
		workers[i] = NewWorker(i, e.tt, &e.stopFlag)
	}
	e.workers = workers
	NumWorkers = n

	if e.nnueLoaded {
		// LoadNNUE re-reads the same weights file into every (new) worker.
		_ = e.LoadNNUE(weightsPath)
	}
}

// Perft performs a perft test (for debugging move generation).
func (e *Engine) Perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	moves := pos.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}

	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		move := moves.Get(i)
		undo := pos.MakeMove(move)
		nodes += e.Perft(pos, depth-1)
		pos.UnmakeMove(move, undo)
	}

	return nodes
}

// Evaluate returns the static NNUE evaluation of a position using worker 0's
// evaluator, reset and fully recomputed for pos (no incremental reuse).
func (e *Engine) Evaluate(pos *board.Position) int {
	if len(e.workers) == 0 || e.workers[0].eval == nil {
		return 0
	}
	w := e.workers[0]
	w.eval.Reset()
	w.eval.Refresh(pos)
	return w.eval.Evaluate(pos)
}

// ScoreToString converts a score to a human-readable string.
func ScoreToString(score int) string {
	if score > MateScore-100 {
		mateIn := (MateScore - score + 1) / 2
		return "Mate in " + itoa(mateIn)
	}
	if score < -MateScore+100 {
		mateIn := (MateScore + score + 1) / 2
		return "Mated in " + itoa(mateIn)
	}

	sign := ""
	if score < 0 {
		sign = "-"
		score = -score
	}
	pawns := score / 100
	centipawns := score % 100

	return sign + itoa(pawns) + "." + itoa(centipawns)
}

// itoa converts n to a string without importing strconv/fmt, matching the
// rest of this package's minimal-dependency string formatting.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	s := ""
	for n > 0 {
		s = string('0'+byte(n%10)) + s
		n /= 10
	}
	return s
}
