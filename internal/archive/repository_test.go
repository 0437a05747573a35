package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/park285/blunderboard/internal/analysis"
)

func TestBuildPGN(t *testing.T) {
	rec := Record{
		GameURL: "https://example.com/game/1",
		White:   "alice",
		Black:   `bo"b`,
		EndedAt: time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC),
		Moves:   []string{"e4", "e5", "Qh5", "Nc6", "Bc4", "Nf6", "Qxf7#"},
	}
	pgn := BuildPGN(rec)
	for _, want := range []string{
		`[Site "https://example.com/game/1"]`,
		`[Date "2024.03.09"]`,
		`[Black "bo'b"]`,
		"1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# *",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestNewRepositoryRequiresURL(t *testing.T) {
	if _, err := NewRepository(" "); err == nil {
		t.Fatalf("expected error for empty DATABASE_URL")
	}
	var r *Repository
	if err := r.SaveAnalysis(context.Background(), Record{}); err != nil {
		t.Fatalf("nil repository must be a no-op: %v", err)
	}
}

// TestSaveAnalysisPostgres runs against a real database when TEST_DATABASE_URL is set.
func TestSaveAnalysisPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	repo, err := NewRepository(dsn)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	rec := Record{
		BatchID: "b1", GameID: "archive-test-1", White: "alice", Black: "bob",
		EndedAt: time.Now(), Moves: []string{"e4"}, Status: StatusAnalysed,
		Tally:   analysis.GameTally{Black: analysis.Tally{Blunders: 1}},
		Profile: "standard", Depth: 20,
	}
	for i := 0; i < 2; i++ {
		if err := repo.SaveAnalysis(ctx, rec); err != nil {
			t.Fatalf("SaveAnalysis #%d: %v", i, err)
		}
	}
	var mag int
	if err := repo.db.QueryRowContext(ctx, `SELECT black_magnitude FROM analysed_games WHERE game_id=$1`, rec.GameID).Scan(&mag); err != nil {
		t.Fatalf("select: %v", err)
	}
	if mag != 3 {
		t.Fatalf("black_magnitude = %d", mag)
	}
}
