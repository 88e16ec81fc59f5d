package board

import "testing"

// walkLegality recursively compares IsLegal against isLegalBruteForce for
// every pseudo-legal move at every node down to the given depth.
func walkLegality(t *testing.T, p *Position, depth int) {
	t.Helper()

	pseudo := p.GeneratePseudoLegalMoves()
	for i := 0; i < pseudo.Len(); i++ {
		m := pseudo.Get(i)
		fast := p.IsLegal(m)
		brute := p.isLegalBruteForce(m)
		if fast != brute {
			t.Fatalf("IsLegal disagreement on %s in %s: fast=%v brute=%v", m, p.ToFEN(), fast, brute)
		}
	}

	if depth == 0 {
		return
	}

	legal := p.filterLegalMoves(pseudo)
	for i := 0; i < legal.Len(); i++ {
		m := legal.Get(i)
		undo := p.MakeMove(m)
		walkLegality(t, p, depth-1)
		p.UnmakeMove(m, undo)
	}
}

// TestLegalityFastPathMatchesBruteForce checks that the O(1) checkers/pinned
// fast path in IsLegal agrees with the make/unmake brute-force check across
// a range of positions, including pinned pieces, double check, and the
// en-passant horizontal x-ray edge case.
func TestLegalityFastPathMatchesBruteForce(t *testing.T) {
	fens := []string{
		StartFEN,
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq -",
		"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - -",
		"8/8/8/8/k2Pp2R/8/8/4K3 b - d3 0 1",
		"R6k/6pp/8/8/8/8/8/K7 b - - 0 1",
		"rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3",
		"8/8/1k6/3Pp3/8/8/8/4K2R w K e6 0 1",
	}

	for _, fen := range fens {
		t.Run(fen, func(t *testing.T) {
			pos, err := ParseFEN(fen)
			if err != nil {
				t.Fatalf("ParseFEN(%q): %v", fen, err)
			}
			walkLegality(t, pos, 2)
		})
	}
}
