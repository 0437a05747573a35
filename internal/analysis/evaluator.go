package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/blunderboard/internal/chess/uci"
)

var (
	// ErrEvaluatorUnavailable means the engine died; the current game cannot be classified.
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
	// ErrEvaluatorTimeout means a search wedged past its deadline.
	ErrEvaluatorTimeout = errors.New("evaluator timed out")
)

// Score is a position evaluation from the side to move's perspective.
type Score struct {
	CP     int
	Mate   int
	IsMate bool
}

// Evaluator scores a position (FEN) at a fixed search depth.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string, depth int) (Score, error)
}

// EvaluatorPool hands out evaluators owned by one caller until released.
// Releasing with a non-nil error discards the evaluator.
type EvaluatorPool interface {
	Acquire(ctx context.Context) (Evaluator, error)
	Release(ev Evaluator, err error)
}

// GameResetter is implemented by evaluators that keep per-game state.
type GameResetter interface {
	NewGame(ctx context.Context) error
}

// EnginePool adapts a UCI session pool.
type EnginePool struct {
	pool    *uci.Pool
	timeout time.Duration
}

func NewEnginePool(pool *uci.Pool, searchTimeout time.Duration) *EnginePool {
	return &EnginePool{pool: pool, timeout: searchTimeout}
}

func (p *EnginePool) Acquire(ctx context.Context) (Evaluator, error) {
	s, err := p.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
	return &sessionEvaluator{session: s, timeout: p.timeout}, nil
}

func (p *EnginePool) Release(ev Evaluator, err error) {
	se, ok := ev.(*sessionEvaluator)
	if !ok || se == nil {
		return
	}
	p.pool.Release(se.session, err)
}

type sessionEvaluator struct {
	session *uci.Session
	timeout time.Duration
}

func (e *sessionEvaluator) Evaluate(ctx context.Context, fen string, depth int) (Score, error) {
	sc, err := e.session.Evaluate(ctx, fen, uci.Limits{Depth: depth, Timeout: e.timeout})
	if err != nil {
		return Score{}, mapEngineError(ctx, err)
	}
	return Score{CP: sc.CP, Mate: sc.Mate, IsMate: sc.IsMate}, nil
}

func (e *sessionEvaluator) NewGame(ctx context.Context) error {
	if err := e.session.NewGame(ctx); err != nil {
		return mapEngineError(ctx, err)
	}
	return nil
}

func mapEngineError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, uci.ErrSearchTimeout):
		return fmt.Errorf("%w: %v", ErrEvaluatorTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
}
