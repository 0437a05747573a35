package stats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/park285/blunderboard/internal/analysis"
)

// ErrPlayerNotFound means the player was never registered; contributions for it are skipped.
var ErrPlayerNotFound = errors.New("player not found in stats store")

// WorstGame is the highest-magnitude game seen for a player within a period.
type WorstGame struct {
	GameURL   string         `json:"game_url"`
	Magnitude int            `json:"magnitude"`
	Stats     analysis.Tally `json:"stats"`
}

// PeriodStats holds the running totals of one year or month container.
// WorstGame is nil while the container is initialised but no game has been recorded.
type PeriodStats struct {
	TotalGames  int            `json:"total_games"`
	PlayerTotal analysis.Tally `json:"player_total"`
	WorstGame   *WorstGame     `json:"worst_game"`
}

// YearStats is a year container. Its month containers sit beside the year totals,
// keyed mNN, when rendered as JSON.
type YearStats struct {
	PeriodStats
	Months map[string]*PeriodStats `json:"-"`
}

func (y YearStats) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(y.Months)+3)
	for k, m := range y.Months {
		out[k] = m
	}
	out["total_games"] = y.TotalGames
	out["player_total"] = y.PlayerTotal
	out["worst_game"] = y.WorstGame
	return json.Marshal(out)
}

type PlayerStats struct {
	Username string                `json:"username"`
	Years    map[string]*YearStats `json:"game_stats"`
}

// Year returns the year container for p, or nil.
func (s *PlayerStats) Year(p Period) *YearStats {
	if s == nil || s.Years == nil {
		return nil
	}
	return s.Years[p.YearKey()]
}

// Month returns the month container for p, or nil.
func (s *PlayerStats) Month(p Period) *PeriodStats {
	y := s.Year(p)
	if y == nil || y.Months == nil {
		return nil
	}
	return y.Months[p.MonthKey()]
}

// Store is the per-player stats storage. Every mutation must be applied with the
// backend's native atomic primitives so concurrent workers touching one player are safe.
type Store interface {
	// PlayerExists reports whether the player has been registered.
	PlayerExists(ctx context.Context, username string) (bool, error)
	// InitPeriod creates any missing containers of p with zero values; existing values are untouched.
	InitPeriod(ctx context.Context, username string, p Period) error
	// Increment adds one game and the tally to both the year and month containers of p.
	Increment(ctx context.Context, username string, p Period, t analysis.Tally) error
	// ReplaceWorstIfGreater stores candidate at path when its magnitude is strictly greater
	// than the stored one (absent counts as -1). It reports whether it replaced.
	ReplaceWorstIfGreater(ctx context.Context, username, path string, candidate WorstGame) (bool, error)
	// Get returns the player's stats or ErrPlayerNotFound.
	Get(ctx context.Context, username string) (*PlayerStats, error)
	// RegisterPlayer admits a player; registering twice is a no-op.
	RegisterPlayer(ctx context.Context, username string) error
}
