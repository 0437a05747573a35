package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrIllegalMove aborts classification of a game; the whole game contributes nothing.
var ErrIllegalMove = errors.New("illegal move")

// Judgement describes how a single ply was classified.
type Judgement struct {
	Ply      int
	Move     string
	Color    Color
	CPBefore int
	CPAfter  int
	Delta    float64
	Severity Severity
}

// Classifier replays a game and buckets each ply's win-probability swing for the mover.
type Classifier struct {
	profile Profile
	model   Model
	depth   int

	// OnPly, when set, observes every classified ply.
	OnPly func(Judgement)
}

func NewClassifier(profile Profile, depth int) *Classifier {
	if depth <= 0 {
		depth = 20
	}
	return &Classifier{profile: profile, model: profile.Model(), depth: depth}
}

func (c *Classifier) Profile() Profile { return c.profile }
func (c *Classifier) Depth() int       { return c.depth }

// Classify returns the tally of both colors, or an error wrapping ErrIllegalMove,
// ErrEvaluatorUnavailable, ErrEvaluatorTimeout or the context error.
//
// Each position is evaluated once: the score after ply i, seen from the side to
// move, is the score before ply i+1 for the next mover.
func (c *Classifier) Classify(ctx context.Context, ev Evaluator, moves []string) (GameTally, error) {
	var tally GameTally
	if len(moves) == 0 {
		return tally, nil
	}
	if r, ok := ev.(GameResetter); ok {
		if err := r.NewGame(ctx); err != nil {
			return GameTally{}, evaluatorError(ctx, err)
		}
	}

	game := nchess.NewGame()
	before, err := c.evaluate(ctx, ev, game.FEN())
	if err != nil {
		return GameTally{}, err
	}

	for i, token := range moves {
		mover := White
		if i%2 == 1 {
			mover = Black
		}
		if err := pushMove(game, token); err != nil {
			return GameTally{}, fmt.Errorf("%w: ply %d %q: %v", ErrIllegalMove, i, token, err)
		}

		after, err := c.evaluate(ctx, ev, game.FEN())
		if err != nil {
			return GameTally{}, err
		}

		cpBefore := before
		cpAfter := -after
		delta := math.Abs(c.model.WinProbability(cpAfter) - c.model.WinProbability(cpBefore))
		sev := c.profile.Classify(delta)
		tally.For(mover).Record(sev)

		if c.OnPly != nil {
			c.OnPly(Judgement{
				Ply:      i,
				Move:     token,
				Color:    mover,
				CPBefore: cpBefore,
				CPAfter:  cpAfter,
				Delta:    delta,
				Severity: sev,
			})
		}
		before = after
	}
	return tally, nil
}

func (c *Classifier) evaluate(ctx context.Context, ev Evaluator, fen string) (int, error) {
	sc, err := ev.Evaluate(ctx, fen, c.depth)
	if err != nil {
		return 0, evaluatorError(ctx, err)
	}
	return Centipawns(sc), nil
}

func evaluatorError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch {
	case errors.Is(err, ErrEvaluatorUnavailable), errors.Is(err, ErrEvaluatorTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrEvaluatorTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
}

// pushMove applies a SAN token, falling back to UCI long algebraic notation.
func pushMove(game *nchess.Game, token string) error {
	raw := strings.TrimRight(strings.TrimSpace(token), "!?")
	if raw == "" {
		return fmt.Errorf("empty move token")
	}
	sanErr := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil)
	if sanErr == nil {
		return nil
	}
	if err := game.PushNotationMove(strings.ToLower(raw), nchess.UCINotation{}, nil); err == nil {
		return nil
	}
	return sanErr
}
