// Package worker consumes batch messages and runs each game through classification,
// aggregation and the idempotency ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/park285/blunderboard/internal/analysis"
	"github.com/park285/blunderboard/internal/archive"
	"github.com/park285/blunderboard/internal/domain"
	"github.com/park285/blunderboard/internal/ledger"
	"github.com/park285/blunderboard/internal/obslog"
	"github.com/park285/blunderboard/internal/queue"
	"github.com/park285/blunderboard/internal/stats"
	"go.uber.org/zap"
)

// ErrEvaluatorFatal stops the worker: the evaluator timed out or kept failing across games.
var ErrEvaluatorFatal = errors.New("evaluator failing, stopping worker")

const (
	storeRetryAttempts = 4
	storeRetryDelay    = 200 * time.Millisecond
	releaseTimeout     = 10 * time.Second
)

// Archiver receives the outcome of every finished game. Failures are logged, never fatal.
type Archiver interface {
	SaveAnalysis(ctx context.Context, rec archive.Record) error
}

type Config struct {
	Name                 string
	Wait                 time.Duration
	ExitOnEmpty          bool
	ErrorBackoff         time.Duration
	MaxEvaluatorFailures int
}

type Deps struct {
	Queue      queue.Queue
	Ledger     ledger.Ledger
	Aggregator *stats.Aggregator
	Classifier *analysis.Classifier
	Evaluators analysis.EvaluatorPool
	Archive    Archiver
}

// Worker processes one message at a time and owns at most one evaluator for its lifetime.
// It is not safe for concurrent use; run one Worker per goroutine.
type Worker struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	ev       analysis.Evaluator
	failures int
}

func New(cfg Config, deps Deps) *Worker {
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
	if cfg.MaxEvaluatorFailures <= 0 {
		cfg.MaxEvaluatorFailures = 3
	}
	return &Worker{cfg: cfg, deps: deps, log: obslog.L().With(zap.String("worker", cfg.Name))}
}

// Run consumes messages until ctx is cancelled (returns nil), the queue is drained with
// ExitOnEmpty set (returns nil) or the evaluator fails fatally (returns ErrEvaluatorFatal).
// The evaluator is released on every exit path.
func (w *Worker) Run(ctx context.Context) error {
	defer w.dropEvaluator(nil)
	w.log.Info("worker_start")
	for {
		if ctx.Err() != nil {
			w.log.Info("worker_stop", zap.String("reason", "shutdown"))
			return nil
		}
		msg, err := w.deps.Queue.Receive(ctx, w.cfg.Wait)
		if errors.Is(err, queue.ErrEmpty) {
			if w.cfg.ExitOnEmpty {
				w.log.Info("worker_stop", zap.String("reason", "queue empty"))
				return nil
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Warn("queue_receive_failed", zap.Error(err))
			w.backoff(ctx)
			continue
		}

		if err := w.HandleMessage(ctx, msg); err != nil {
			switch {
			case errors.Is(err, ErrEvaluatorFatal):
				w.log.Error("worker_stop", zap.String("reason", "evaluator"), zap.Error(err))
				return err
			case ctx.Err() != nil:
			default:
				w.backoff(ctx)
			}
		}
	}
}

// HandleMessage processes one message and settles it: ack on success, release on failure
// or cancellation, dead letter when the body cannot be decoded.
func (w *Worker) HandleMessage(ctx context.Context, msg *queue.Message) error {
	log := w.log.With(zap.String("batch_id", msg.ID), zap.Int("deliveries", msg.Deliveries))
	games, err := domain.DecodeBatch(msg.Body)
	if err != nil {
		log.Error("batch_malformed", zap.Error(err))
		if dlErr := w.settle(ctx, "dead_letter", func(c context.Context) error {
			return w.deps.Queue.DeadLetter(c, msg, err.Error())
		}); dlErr != nil {
			log.Error("batch_dead_letter_failed", zap.Error(dlErr))
		}
		return nil
	}

	log.Info("batch_start", zap.Int("games", len(games)))
	start := time.Now()
	if err := w.ProcessBatch(ctx, msg, games); err != nil {
		cancelled := ctx.Err() != nil
		log.Warn("batch_release", zap.Error(err), zap.Bool("cancelled", cancelled))
		if relErr := w.settle(ctx, "release", func(c context.Context) error {
			if cancelled {
				return w.deps.Queue.Requeue(c, msg)
			}
			return w.deps.Queue.Release(c, msg)
		}); relErr != nil && !errors.Is(relErr, queue.ErrLeaseLost) {
			log.Error("batch_release_failed", zap.Error(relErr))
		}
		return err
	}

	if err := w.settle(ctx, "ack", func(c context.Context) error {
		return w.deps.Queue.Ack(c, msg)
	}); err != nil {
		log.Error("batch_ack_failed", zap.Error(err))
		return err
	}
	log.Info("batch_done", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// ProcessBatch runs every game of the batch in order. Cancellation is honoured between
// games; a cancelled game is neither aggregated nor marked.
func (w *Worker) ProcessBatch(ctx context.Context, msg *queue.Message, games []domain.GameRecord) error {
	for _, g := range games {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.processGame(ctx, msg, g); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processGame(ctx context.Context, msg *queue.Message, g domain.GameRecord) error {
	batchID := msg.ID
	log := w.log.With(zap.String("batch_id", batchID), zap.String("game_id", g.GameID))

	if err := g.Validate(); err != nil {
		log.Warn("game_invalid", zap.Error(err))
		if g.GameID == "" {
			return nil
		}
		return w.markProcessed(ctx, batchID, g.GameID)
	}

	done, err := w.deps.Ledger.AlreadyProcessed(ctx, batchID, g.GameID)
	if err != nil {
		return fmt.Errorf("ledger check %s: %w", g.GameID, err)
	}
	if done {
		log.Info("game_skip_processed")
		return nil
	}

	if err := w.deps.Queue.Extend(ctx, msg); err != nil {
		log.Warn("lease_extend_failed", zap.Error(err))
	}

	tally, err := w.classify(ctx, g)
	switch {
	case err == nil:
		w.failures = 0
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, analysis.ErrIllegalMove):
		log.Warn("game_illegal_move", zap.Error(err))
		w.saveArchive(ctx, log, batchID, g, archive.StatusIllegalMove, err.Error(), analysis.GameTally{})
		return w.markProcessed(ctx, batchID, g.GameID)
	case errors.Is(err, analysis.ErrEvaluatorTimeout):
		return fmt.Errorf("%w: game %s: %v", ErrEvaluatorFatal, g.GameID, err)
	case errors.Is(err, analysis.ErrEvaluatorUnavailable):
		w.failures++
		if w.failures >= w.cfg.MaxEvaluatorFailures {
			return fmt.Errorf("%w: %d consecutive games: %v", ErrEvaluatorFatal, w.failures, err)
		}
		log.Warn("game_evaluator_unavailable", zap.Int("consecutive_failures", w.failures), zap.Error(err))
		w.saveArchive(ctx, log, batchID, g, archive.StatusEvaluatorUnavailable, err.Error(), analysis.GameTally{})
		return w.markProcessed(ctx, batchID, g.GameID)
	default:
		return fmt.Errorf("classify %s: %w", g.GameID, err)
	}

	// Once classified, the game's writes run to completion even during shutdown:
	// stopping between the two players would double count one of them on redelivery.
	wctx := context.WithoutCancel(ctx)
	for _, side := range []struct {
		player string
		tally  analysis.Tally
	}{
		{g.White, tally.White},
		{g.Black, tally.Black},
	} {
		err := w.deps.Aggregator.Apply(wctx, stats.Contribution{
			Username: side.player,
			EndTime:  g.EndedAt(),
			GameURL:  g.GameURL,
			Tally:    side.tally,
		})
		if errors.Is(err, stats.ErrPlayerNotFound) {
			log.Info("player_not_found", zap.String("player", side.player))
			continue
		}
		if err != nil {
			return fmt.Errorf("aggregate game %s: %w", g.GameID, err)
		}
	}

	w.saveArchive(wctx, log, batchID, g, archive.StatusAnalysed, "", tally)
	if err := w.markProcessed(wctx, batchID, g.GameID); err != nil {
		return err
	}
	log.Info("game_analysed",
		zap.Int("plies", len(g.Moves)),
		zap.Int("white_magnitude", analysis.Magnitude(tally.White)),
		zap.Int("black_magnitude", analysis.Magnitude(tally.Black)),
	)
	return nil
}

// classify runs one game on the held evaluator, acquiring one first if needed.
// An evaluator that failed or was interrupted is discarded.
func (w *Worker) classify(ctx context.Context, g domain.GameRecord) (analysis.GameTally, error) {
	if w.ev == nil {
		ev, err := w.deps.Evaluators.Acquire(ctx)
		if err != nil {
			return analysis.GameTally{}, err
		}
		w.ev = ev
	}
	tally, err := w.deps.Classifier.Classify(ctx, w.ev, g.Moves)
	if err != nil && !errors.Is(err, analysis.ErrIllegalMove) {
		w.dropEvaluator(err)
	}
	return tally, err
}

func (w *Worker) dropEvaluator(err error) {
	if w.ev == nil {
		return
	}
	w.deps.Evaluators.Release(w.ev, err)
	w.ev = nil
}

func (w *Worker) markProcessed(ctx context.Context, batchID, gameID string) error {
	err := retry.Do(
		func() error { return w.deps.Ledger.MarkProcessed(ctx, batchID, gameID) },
		retry.Context(ctx),
		retry.Attempts(storeRetryAttempts),
		retry.Delay(storeRetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.log.Warn("ledger_mark_retry", zap.String("batch_id", batchID), zap.String("game_id", gameID), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("mark %s processed: %w", gameID, err)
	}
	return nil
}

// settle runs a queue acknowledgement with retries on a context that survives shutdown,
// so a cancelled worker still hands its message back.
func (w *Worker) settle(ctx context.Context, op string, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return retry.Do(
		func() error { return fn(sctx) },
		retry.Context(sctx),
		retry.Attempts(storeRetryAttempts),
		retry.Delay(storeRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, queue.ErrLeaseLost) }),
		retry.OnRetry(func(n uint, err error) {
			w.log.Warn("queue_settle_retry", zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func (w *Worker) saveArchive(ctx context.Context, log *zap.Logger, batchID string, g domain.GameRecord, status archive.Status, detail string, tally analysis.GameTally) {
	if w.deps.Archive == nil {
		return
	}
	rec := archive.Record{
		BatchID: batchID,
		GameID:  g.GameID,
		GameURL: g.GameURL,
		White:   g.White,
		Black:   g.Black,
		EndedAt: g.EndedAt(),
		Moves:   g.Moves,
		Status:  status,
		Detail:  detail,
		Tally:   tally,
		Profile: w.deps.Classifier.Profile().Name,
		Depth:   w.deps.Classifier.Depth(),
	}
	if err := w.deps.Archive.SaveAnalysis(ctx, rec); err != nil {
		log.Warn("archive_save_failed", zap.Error(err))
	}
}

func (w *Worker) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.ErrorBackoff):
	}
}
