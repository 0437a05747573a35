package analysis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/park285/blunderboard/internal/chess/uci"
)

// Runs against a real engine only when STOCKFISH_PATH is set.
func TestClassifyScholarsMateWithStockfish(t *testing.T) {
	path := os.Getenv("STOCKFISH_PATH")
	if path == "" {
		t.Skip("STOCKFISH_PATH not set")
	}
	pool, err := uci.NewPool(uci.PoolConfig{BinaryPath: path, Options: uci.Options{Threads: 1, HashMB: 32}})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	engines := NewEnginePool(pool, 2*time.Minute)
	ev, err := engines.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	var runErr error
	defer func() { engines.Release(ev, runErr) }()

	tally, runErr := NewClassifier(standardProfile(t), 20).Classify(ctx, ev, scholarsMate)
	if runErr != nil {
		t.Fatalf("Classify: %v", runErr)
	}
	if tally.White.Blunders != 0 {
		t.Fatalf("white blunders = %d, want 0", tally.White.Blunders)
	}
	if tally.Black.Blunders < 1 {
		t.Fatalf("black blunders = %d, want >= 1", tally.Black.Blunders)
	}
}
