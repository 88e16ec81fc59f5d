package engine

import (
	"testing"
	"time"

	"github.com/tarrasch-labs/chessplay-core/internal/board"
)

// newTestEngine returns an engine wired with randomly-initialized NNUE
// weights, sufficient for exercising search without a real network file.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := NewEngine(16)
	if err := eng.LoadNNUE(""); err != nil {
		t.Fatalf("LoadNNUE: %v", err)
	}
	return eng
}

func TestSearchBasic(t *testing.T) {
	pos := board.NewPosition()
	eng := newTestEngine(t)
	eng.SetDifficulty(Easy)

	move := eng.Search(pos)
	if move == board.NoMove {
		t.Error("Search returned NoMove for starting position")
	}
	t.Logf("Best move: %s", move.String())
}

func TestMateInOne(t *testing.T) {
	// Fool's mate position: Black to move, Qh4# is mate.
	pos, err := board.ParseFEN("rnbqkbnr/pppp1ppp/8/4p3/6P1/5P2/PPPPP2P/RNBQKBNR b KQkq - 0 2")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}

	eng := newTestEngine(t)
	move := eng.SearchWithLimits(pos, SearchLimits{Depth: 4, MoveTime: time.Second})

	if move == board.NoMove {
		t.Fatal("expected a move, got NoMove")
	}

	undo := pos.MakeMove(move)
	defer pos.UnmakeMove(move, undo)

	if !pos.InCheck() || pos.GenerateLegalMoves().Len() != 0 {
		t.Errorf("expected %s to be checkmate, it is not", move.String())
	}
}

// TestConcurrentSearchRace is a stress test for multi-threaded search.
// Run with: GOMAXPROCS=8 go test -race -run TestConcurrentSearchRace ./internal/engine -v
func TestConcurrentSearchRace(t *testing.T) {
	eng := newTestEngine(t)

	iterations := 10
	if testing.Short() {
		iterations = 3
	}

	pos := board.NewPosition()
	for i := 0; i < iterations; i++ {
		limits := SearchLimits{
			Depth:    6,
			MoveTime: 500 * time.Millisecond,
		}

		move := eng.SearchWithLimits(pos, limits)
		if move == board.NoMove {
			t.Errorf("iteration %d: search returned NoMove for starting position", i)
		}

		if i%2 == 0 {
			pos, _ = board.ParseFEN("rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2")
		} else {
			pos, _ = board.ParseFEN("rnbqkbnr/ppp1pppp/8/3p4/3P4/8/PPP1PPPP/RNBQKBNR w KQkq d6 0 2")
		}
	}
}

// TestConcurrentSearchMultiplePositions searches several distinct positions
// to flush out any state leaking between workers across searches.
func TestConcurrentSearchMultiplePositions(t *testing.T) {
	eng := newTestEngine(t)

	positions := []string{
		board.StartFEN,
		"r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3", // Italian Game
		"8/8/8/4k3/8/4K3/4P3/8 w - - 0 1",                                 // KP endgame
	}

	for i, fen := range positions {
		pos, err := board.ParseFEN(fen)
		if err != nil {
			t.Fatalf("failed to parse position %d: %v", i, err)
		}

		limits := SearchLimits{Depth: 5, MoveTime: 300 * time.Millisecond}
		move := eng.SearchWithLimits(pos, limits)
		if move == board.NoMove {
			if !pos.InCheck() || pos.GenerateLegalMoves().Len() > 0 {
				t.Errorf("position %d: search returned NoMove", i)
			}
		}
	}
}

func TestPerft(t *testing.T) {
	eng := NewEngine(1)

	tests := []struct {
		fen   string
		depth int
		nodes uint64
	}{
		{board.StartFEN, 4, 197281},
		{"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1", 3, 97862},
	}

	for _, tt := range tests {
		pos, err := board.ParseFEN(tt.fen)
		if err != nil {
			t.Fatalf("ParseFEN(%q): %v", tt.fen, err)
		}
		if got := eng.Perft(pos, tt.depth); got != tt.nodes {
			t.Errorf("Perft(%q, %d) = %d, want %d", tt.fen, tt.depth, got, tt.nodes)
		}
	}
}

func TestScoreToString(t *testing.T) {
	if s := ScoreToString(100); s != "1.0" {
		t.Errorf("ScoreToString(100) = %q, want %q", s, "1.0")
	}
	if s := ScoreToString(MateScore - 3); s == "" {
		t.Errorf("ScoreToString near mate returned empty string")
	}
}

func TestEvaluateInRange(t *testing.T) {
	eng := newTestEngine(t)

	pos := board.NewPosition()
	startEval := eng.Evaluate(pos)

	// Evaluation should be finite and not swing wildly for a balanced
	// starting position with randomly-initialized weights.
	if startEval > Infinity || startEval < -Infinity {
		t.Errorf("eval out of range: %d", startEval)
	}
}
