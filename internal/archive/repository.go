// Package archive keeps a Postgres trace of every game a worker finished with, including
// games skipped for illegal moves or an unavailable evaluator.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/blunderboard/internal/analysis"
)

type Status string

const (
	StatusAnalysed             Status = "analysed"
	StatusIllegalMove          Status = "illegal_move"
	StatusEvaluatorUnavailable Status = "evaluator_unavailable"
)

type Record struct {
	BatchID string
	GameID  string
	GameURL string
	White   string
	Black   string
	EndedAt time.Time
	Moves   []string

	Status  Status
	Detail  string
	Tally   analysis.GameTally
	Profile string
	Depth   int
}

const schema = `CREATE TABLE IF NOT EXISTS analysed_games (
    game_id            TEXT PRIMARY KEY,
    batch_id           TEXT NOT NULL,
    game_url           TEXT NOT NULL DEFAULT '',
    white              TEXT NOT NULL,
    black              TEXT NOT NULL,
    ended_at           TIMESTAMPTZ NOT NULL,
    status             TEXT NOT NULL,
    detail             TEXT NOT NULL DEFAULT '',
    white_inaccuracies INT NOT NULL DEFAULT 0,
    white_mistakes     INT NOT NULL DEFAULT 0,
    white_blunders     INT NOT NULL DEFAULT 0,
    white_magnitude    INT NOT NULL DEFAULT 0,
    black_inaccuracies INT NOT NULL DEFAULT 0,
    black_mistakes     INT NOT NULL DEFAULT 0,
    black_blunders     INT NOT NULL DEFAULT 0,
    black_magnitude    INT NOT NULL DEFAULT 0,
    profile            TEXT NOT NULL DEFAULT '',
    depth              INT NOT NULL DEFAULT 0,
    pgn                TEXT NOT NULL DEFAULT '',
    analysed_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveAnalysis upserts the outcome of one game; a redelivered game overwrites its row.
func (r *Repository) SaveAnalysis(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO analysed_games (
        game_id, batch_id, game_url, white, black, ended_at, status, detail,
        white_inaccuracies, white_mistakes, white_blunders, white_magnitude,
        black_inaccuracies, black_mistakes, black_blunders, black_magnitude,
        profile, depth, pgn, analysed_at
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,now()
      ) ON CONFLICT (game_id) DO UPDATE SET
        batch_id=EXCLUDED.batch_id,
        game_url=EXCLUDED.game_url,
        white=EXCLUDED.white,
        black=EXCLUDED.black,
        ended_at=EXCLUDED.ended_at,
        status=EXCLUDED.status,
        detail=EXCLUDED.detail,
        white_inaccuracies=EXCLUDED.white_inaccuracies,
        white_mistakes=EXCLUDED.white_mistakes,
        white_blunders=EXCLUDED.white_blunders,
        white_magnitude=EXCLUDED.white_magnitude,
        black_inaccuracies=EXCLUDED.black_inaccuracies,
        black_mistakes=EXCLUDED.black_mistakes,
        black_blunders=EXCLUDED.black_blunders,
        black_magnitude=EXCLUDED.black_magnitude,
        profile=EXCLUDED.profile,
        depth=EXCLUDED.depth,
        pgn=EXCLUDED.pgn,
        analysed_at=now()`

	w, b := rec.Tally.White, rec.Tally.Black
	_, err := r.db.ExecContext(ctx, q,
		rec.GameID, rec.BatchID, rec.GameURL, rec.White, rec.Black, rec.EndedAt.UTC(),
		string(rec.Status), rec.Detail,
		w.Inaccuracies, w.Mistakes, w.Blunders, analysis.Magnitude(w),
		b.Inaccuracies, b.Mistakes, b.Blunders, analysis.Magnitude(b),
		rec.Profile, rec.Depth, BuildPGN(rec),
	)
	return err
}

// BuildPGN renders the archived game as PGN with the player and link headers.
func BuildPGN(rec Record) string {
	var b strings.Builder
	date := rec.EndedAt.UTC()
	b.WriteString("[Event \"Imported game\"]\n")
	if strings.TrimSpace(rec.GameURL) != "" {
		b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(rec.GameURL)))
	}
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(rec.White)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(rec.Black)))
	b.WriteString("[Result \"*\"]\n\n")

	for i := 0; i < len(rec.Moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(rec.Moves[i])))
		if i+1 < len(rec.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.Moves[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString("*")
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
