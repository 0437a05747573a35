package uci

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestParseScore(t *testing.T) {
	cases := []struct {
		name string
		line string
		want Score
		ok   bool
	}{
		{
			name: "centipawns",
			line: "info depth 20 seldepth 28 multipv 1 score cp 34 nodes 123 nps 1000 pv e2e4 e7e5",
			want: Score{CP: 34, Depth: 20},
			ok:   true,
		},
		{
			name: "negative centipawns without multipv",
			line: "info depth 12 score cp -151 pv d8h4",
			want: Score{CP: -151, Depth: 12},
			ok:   true,
		},
		{
			name: "mate for side to move",
			line: "info depth 5 score mate 1 pv h5f7",
			want: Score{Mate: 1, IsMate: true, Depth: 5},
			ok:   true,
		},
		{
			name: "side to move is mated",
			line: "info depth 0 score mate 0",
			want: Score{Mate: 0, IsMate: true, Depth: 0},
			ok:   true,
		},
		{
			name: "bound scores are ignored",
			line: "info depth 20 score cp 40 lowerbound nodes 10 pv e2e4",
			ok:   false,
		},
		{
			name: "secondary lines are ignored",
			line: "info depth 20 multipv 2 score cp 10 pv d2d4",
			ok:   false,
		},
		{
			name: "no score",
			line: "info string NNUE evaluation using nn-xyz.nnue",
			ok:   false,
		},
		{
			name: "garbage value",
			line: "info depth 3 score cp abc",
			ok:   false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseScore(tc.line)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("score = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestBuildGoTokens(t *testing.T) {
	tokens, err := buildGoTokens(Limits{Depth: 20})
	if err != nil {
		t.Fatalf("buildGoTokens: %v", err)
	}
	if len(tokens) != 3 || tokens[0] != "go" || tokens[1] != "depth" || tokens[2] != "20" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	if _, err := buildGoTokens(Limits{}); err == nil {
		t.Fatalf("expected error for empty limits")
	}
}

func TestBuildPositionCommand(t *testing.T) {
	if got := buildPositionCommand(""); got != "position startpos\n" {
		t.Fatalf("startpos: %q", got)
	}
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	if got := buildPositionCommand(fen); got != "position fen "+fen+"\n" {
		t.Fatalf("fen: %q", got)
	}
}

func TestComputeSearchTimeoutBounds(t *testing.T) {
	if got := computeSearchTimeout(Limits{Depth: 1}); got != 6*time.Second {
		t.Fatalf("depth 1 timeout = %v", got)
	}
	if got := computeSearchTimeout(Limits{Depth: 20}); got != 30*time.Second {
		t.Fatalf("depth 20 timeout = %v", got)
	}
	if got := computeSearchTimeout(Limits{Depth: 99}); got != 60*time.Second {
		t.Fatalf("depth 99 timeout = %v", got)
	}
	if got := computeSearchTimeout(Limits{}); got != 6*time.Second {
		t.Fatalf("zero depth timeout = %v", got)
	}
}

func TestClassifyIOError(t *testing.T) {
	if err := classifyIOError(io.EOF); !errors.Is(err, ErrEngineExited) {
		t.Fatalf("EOF should map to ErrEngineExited, got %v", err)
	}
	other := errors.New("boom")
	if err := classifyIOError(other); err != other {
		t.Fatalf("unrelated errors must pass through, got %v", err)
	}
}

func TestNewPoolRequiresBinary(t *testing.T) {
	if _, err := NewPool(PoolConfig{}); err == nil {
		t.Fatalf("expected error without binary path")
	}
	if _, err := NewPool(PoolConfig{BinaryPath: "/nonexistent/stockfish", Options: Options{HashMB: 16}}); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}
