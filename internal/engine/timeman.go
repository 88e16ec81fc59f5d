package engine

import (
	"math"
	"time"

	"github.com/tarrasch-labs/chessplay-core/internal/board"
)

// MoveOverhead is the fixed buffer reserved for engine/GUI latency before
// computing the soft/hard budget.
const MoveOverhead = 50 * time.Millisecond

// UCILimits contains UCI time control parameters.
type UCILimits struct {
	Time      [2]time.Duration // wtime, btime (remaining time for each color)
	Inc       [2]time.Duration // winc, binc (increment per move)
	MovesToGo int              // moves until next time control (0 = sudden death)
	MoveTime  time.Duration    // fixed time per move (overrides other time controls)
	Depth     int              // maximum search depth
	Nodes     uint64           // maximum nodes to search
	Infinite  bool             // search until stopped
	Ponder    bool             // ponder mode
}

// TimeManager turns UCI time controls into a soft/hard search budget and
// decides, iteration by iteration, whether another depth is worth starting.
type TimeManager struct {
	softLimit time.Duration
	hardLimit time.Duration
	startTime time.Time

	fixedMoveTime bool
	infinite      bool
	maxNodes      uint64
}

// NewTimeManager creates a new time manager.
func NewTimeManager() *TimeManager {
	return &TimeManager{}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Init computes (soft, hard) from (time_left, increment, moves_to_go):
// M = moves_to_go==0 ? 20 : clamp(moves_to_go, 2, 40); avg = (time_left -
// overhead) / M; ideal = 0.7*avg + 0.5*increment; soft = min(ideal,budget);
// hard = min(2*soft, 0.6*budget). Fixed movetime bypasses the formula, and
// node-limit mode is tracked separately for the 4096-node-interval check.
func (tm *TimeManager) Init(limits UCILimits, us board.Color, ply int) {
	tm.startTime = time.Now()
	tm.maxNodes = limits.Nodes

	if limits.MoveTime > 0 {
		tm.fixedMoveTime = true
		tm.softLimit = limits.MoveTime
		tm.hardLimit = limits.MoveTime
		return
	}

	if limits.Infinite || limits.Time[us] == 0 {
		tm.infinite = true
		tm.softLimit = time.Hour
		tm.hardLimit = time.Hour
		return
	}

	budget := limits.Time[us] - MoveOverhead
	if budget < 0 {
		budget = 0
	}
	increment := limits.Inc[us]

	m := 20
	if limits.MovesToGo != 0 {
		m = clampInt(limits.MovesToGo, 2, 40)
	}

	avg := budget / time.Duration(m)
	ideal := time.Duration(float64(avg)*0.7 + float64(increment)*0.5)

	soft := ideal
	if soft > budget {
		soft = budget
	}

	hard := 2 * soft
	maxHard := budget * 6 / 10
	if hard > maxHard {
		hard = maxHard
	}

	if soft < 10*time.Millisecond {
		soft = 10 * time.Millisecond
	}
	if hard < 50*time.Millisecond {
		hard = 50 * time.Millisecond
	}

	tm.softLimit = soft
	tm.hardLimit = hard
}

// Elapsed returns the time elapsed since search started.
func (tm *TimeManager) Elapsed() time.Duration {
	return time.Since(tm.startTime)
}

// SoftLimit returns the target time for this move before the per-iteration
// continuation multiplier is applied.
func (tm *TimeManager) SoftLimit() time.Duration {
	return tm.softLimit
}

// HardLimit returns the absolute ceiling for this move.
func (tm *TimeManager) HardLimit() time.Duration {
	return tm.hardLimit
}

// ShouldStop reports whether the hard limit (or node budget) has been
// exceeded; checked on the search's 4096-node interval tick.
func (tm *TimeManager) ShouldStop(nodes uint64) bool {
	if tm.maxNodes > 0 && nodes >= tm.maxNodes {
		return true
	}
	if tm.infinite {
		return false
	}
	return tm.Elapsed() >= tm.hardLimit
}

// ShouldStartNextIteration applies the cosine continuation multiplier:
// multiplier = 2.2 * cos(1.3 * rootMoveNodeFraction), where
// rootMoveNodeFraction is the fraction of this iteration's nodes spent on
// the best root move. A stable best move (high fraction) shortens the
// remaining budget; an unstable one (low fraction) extends it. The next
// iteration starts only while now is within min(hardLimit, soft*multiplier)
// of the search start.
func (tm *TimeManager) ShouldStartNextIteration(rootMoveNodeFraction float64) bool {
	if tm.fixedMoveTime || tm.infinite {
		return tm.Elapsed() < tm.hardLimit
	}

	multiplier := 2.2 * math.Cos(1.3*rootMoveNodeFraction)
	allowed := time.Duration(float64(tm.softLimit) * multiplier)
	if allowed > tm.hardLimit {
		allowed = tm.hardLimit
	}
	if allowed < 0 {
		allowed = 0
	}

	return tm.Elapsed() < allowed
}
