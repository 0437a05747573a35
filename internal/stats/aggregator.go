package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/blunderboard/internal/analysis"
	"github.com/park285/blunderboard/internal/obslog"
	"go.uber.org/zap"
)

// Contribution is one player's share of one analysed game.
type Contribution struct {
	Username string
	EndTime  time.Time
	GameURL  string
	Tally    analysis.Tally
}

// Aggregator merges game contributions into per-player running stats.
//
// Apply is not idempotent on its own: callers guard it with the ledger so each
// contribution is applied at most once per successful mark.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

func (a *Aggregator) Store() Store { return a.store }

// Apply records c for its player. It returns ErrPlayerNotFound without writing
// anything when the player is not registered.
func (a *Aggregator) Apply(ctx context.Context, c Contribution) error {
	username := strings.TrimSpace(c.Username)
	if username == "" {
		return fmt.Errorf("contribution without username")
	}
	ok, err := a.store.PlayerExists(ctx, username)
	if err != nil {
		return fmt.Errorf("check player %s: %w", username, err)
	}
	if !ok {
		return ErrPlayerNotFound
	}

	p := PeriodOf(c.EndTime)
	if err := a.store.InitPeriod(ctx, username, p); err != nil {
		return fmt.Errorf("init %s %s: %w", username, p, err)
	}
	if err := a.store.Increment(ctx, username, p, c.Tally); err != nil {
		return fmt.Errorf("increment %s %s: %w", username, p, err)
	}

	candidate := WorstGame{
		GameURL:   c.GameURL,
		Magnitude: analysis.Magnitude(c.Tally),
		Stats:     c.Tally,
	}
	for _, path := range []string{p.YearPath(), p.MonthPath()} {
		replaced, err := a.store.ReplaceWorstIfGreater(ctx, username, path, candidate)
		if err != nil {
			return fmt.Errorf("worst game %s %s: %w", username, path, err)
		}
		if replaced {
			obslog.L().Debug("worst_game_update",
				zap.String("player", username),
				zap.String("period", path),
				zap.Int("magnitude", candidate.Magnitude),
				zap.String("game_url", candidate.GameURL),
			)
		}
	}
	return nil
}
