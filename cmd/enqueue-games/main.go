package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	appcfg "github.com/park285/blunderboard/internal/config"
	"github.com/park285/blunderboard/internal/domain"
	"github.com/park285/blunderboard/internal/obslog"
	"github.com/park285/blunderboard/internal/queue"
	"github.com/park285/blunderboard/internal/redisx"
	"github.com/park285/blunderboard/internal/stats"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

func main() {
	var (
		file     = flag.String("file", "-", "JSON array of game records, - for stdin")
		batch    = flag.Int("batch", 0, "games per message (0 picks the size automatically)")
		register = flag.Bool("register", false, "register every player seen before enqueueing")
		dryRun   = flag.Bool("dry-run", false, "print the batch plan without publishing")
	)
	flag.Parse()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("enqueue-games"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	games, err := readGames(*file)
	if err != nil {
		log.Fatalf("read games: %v", err)
	}
	size := *batch
	if size <= 0 {
		size = queue.OptimalBatchSize(len(games))
	}
	batches := lo.Chunk(games, size)
	obslog.L().Info("enqueue_plan",
		zap.Int("games", len(games)),
		zap.Int("games_per_message", size),
		zap.Int("messages", len(batches)),
	)
	if *dryRun {
		fmt.Printf("%d games -> %d messages of up to %d games\n", len(games), len(batches), size)
		return
	}

	rdb, err := redisx.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	if *register {
		store := stats.NewRedisStore(rdb)
		players := lo.Uniq(lo.FlatMap(games, func(g domain.GameRecord, _ int) []string {
			return []string{strings.TrimSpace(g.White), strings.TrimSpace(g.Black)}
		}))
		players = lo.Compact(players)
		for _, p := range players {
			if err := store.RegisterPlayer(ctx, p); err != nil {
				log.Fatalf("register %s: %v", p, err)
			}
		}
		obslog.L().Info("players_registered", zap.Int("count", len(players)))
	}

	q, err := queue.Open(cfg, rdb)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	defer q.Close()

	for i, b := range batches {
		body, err := json.Marshal(b)
		if err != nil {
			log.Fatalf("encode batch %d: %v", i, err)
		}
		id := uuid.New().String()
		if err := q.Publish(ctx, id, body); err != nil {
			log.Fatalf("publish batch %d: %v", i, err)
		}
		obslog.L().Info("batch_enqueued", zap.String("batch_id", id), zap.Int("games", len(b)))
	}
}

func readGames(path string) ([]domain.GameRecord, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	games, err := domain.DecodeBatch(raw)
	if err != nil {
		return nil, err
	}
	valid := lo.Filter(games, func(g domain.GameRecord, _ int) bool {
		if err := g.Validate(); err != nil {
			obslog.L().Warn("game_invalid", zap.Error(err))
			return false
		}
		return true
	})
	return valid, nil
}
