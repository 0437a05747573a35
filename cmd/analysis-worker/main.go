package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/park285/blunderboard/internal/analysis"
	"github.com/park285/blunderboard/internal/archive"
	"github.com/park285/blunderboard/internal/chess/uci"
	appcfg "github.com/park285/blunderboard/internal/config"
	"github.com/park285/blunderboard/internal/health"
	"github.com/park285/blunderboard/internal/ledger"
	"github.com/park285/blunderboard/internal/obslog"
	"github.com/park285/blunderboard/internal/queue"
	"github.com/park285/blunderboard/internal/redisx"
	"github.com/park285/blunderboard/internal/stats"
	"github.com/park285/blunderboard/internal/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("analysis-worker"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obslog.L().Error("worker_exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appcfg.AppConfig) error {
	profiles, err := analysis.LoadProfiles(cfg.AnalysisProfilesDir)
	if err != nil {
		return err
	}
	profile, err := profiles.Select(cfg.AnalysisProfile)
	if err != nil {
		return err
	}

	rdb, err := redisx.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	q, err := queue.Open(cfg, rdb)
	if err != nil {
		return err
	}
	defer q.Close()

	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
	}

	engines, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.StockfishPath,
		Options:    uci.Options{Threads: cfg.EngineThreads, HashMB: cfg.EngineHashMB},
		Capacity:   cfg.WorkerCount,
	})
	if err != nil {
		return err
	}
	defer engines.Close()

	classifier := analysis.NewClassifier(profile, cfg.AnalysisDepth)
	if obslog.L().Core().Enabled(zapcore.DebugLevel) {
		classifier.OnPly = func(j analysis.Judgement) {
			obslog.L().Debug("ply_judgement",
				zap.Int("ply", j.Ply),
				zap.String("move", j.Move),
				zap.String("color", string(j.Color)),
				zap.Int("cp_before", j.CPBefore),
				zap.Int("cp_after", j.CPAfter),
				zap.Float64("delta", j.Delta),
				zap.String("severity", j.Severity.String()),
			)
		}
	}

	deps := worker.Deps{
		Queue:      q,
		Ledger:     ledger.NewRedisLedger(rdb, cfg.LedgerRetention),
		Aggregator: stats.NewAggregator(stats.NewRedisStore(rdb)),
		Classifier: classifier,
		Evaluators: analysis.NewEnginePool(engines, cfg.EvaluatorTimeout),
	}
	if repo != nil {
		deps.Archive = repo
	}

	obslog.L().Info("worker_boot",
		zap.String("profile", profile.Name),
		zap.Int("depth", classifier.Depth()),
		zap.Int("workers", cfg.WorkerCount),
		zap.String("queue_backend", cfg.QueueBackend),
		zap.Bool("archive", repo != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	// the health server stops once every worker has returned
	hctx, stopHealth := context.WithCancel(gctx)
	defer stopHealth()
	var workers sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		w := worker.New(worker.Config{
			Name:                 fmt.Sprintf("worker-%d", i),
			Wait:                 cfg.QueueWait,
			ExitOnEmpty:          cfg.WorkerExitOnEmpty,
			ErrorBackoff:         cfg.WorkerErrorBackoff,
			MaxEvaluatorFailures: cfg.EvaluatorMaxFailures,
		}, deps)
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return w.Run(gctx)
		})
	}
	go func() {
		workers.Wait()
		stopHealth()
	}()

	if cfg.HealthAddr != "" {
		checks := []health.Check{{Name: "redis", Fn: func(c context.Context) error { return rdb.Ping(c).Err() }}}
		if repo != nil {
			checks = append(checks, health.Check{Name: "postgres", Fn: repo.Ping})
		}
		srv := health.NewServer(cfg.HealthAddr, checks...)
		g.Go(func() error { return srv.Run(hctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
