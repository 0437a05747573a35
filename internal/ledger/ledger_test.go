package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLedger(rdb, time.Hour), mr
}

func TestMarkThenCheck(t *testing.T) {
	rl, _ := newRedisLedger(t)
	for name, l := range map[string]Ledger{"redis": rl, "memory": NewMemoryLedger()} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			done, err := l.AlreadyProcessed(ctx, "b1", "g1")
			if err != nil || done {
				t.Fatalf("fresh batch: done=%v err=%v", done, err)
			}
			if err := l.MarkProcessed(ctx, "b1", "g1"); err != nil {
				t.Fatalf("MarkProcessed: %v", err)
			}
			if err := l.MarkProcessed(ctx, "b1", "g1"); err != nil {
				t.Fatalf("MarkProcessed twice: %v", err)
			}
			if done, _ := l.AlreadyProcessed(ctx, "b1", "g1"); !done {
				t.Fatalf("expected g1 processed")
			}
			if done, _ := l.AlreadyProcessed(ctx, "b2", "g1"); done {
				t.Fatalf("ledger must be scoped per batch")
			}
			ids, _ := l.Processed(ctx, "b1")
			if len(ids) != 1 || ids[0] != "g1" {
				t.Fatalf("processed = %v", ids)
			}
		})
	}
}

func TestRedisLedgerRetention(t *testing.T) {
	l, mr := newRedisLedger(t)
	ctx := context.Background()
	if err := l.MarkProcessed(ctx, "b1", "g1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if ttl := mr.TTL("ledger:batch:b1"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if done, _ := l.AlreadyProcessed(ctx, "b1", "g1"); done {
		t.Fatalf("expired batch must be forgotten")
	}
}

func TestRedisLedgerConcurrentMarks(t *testing.T) {
	l, _ := newRedisLedger(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.MarkProcessed(ctx, "shared", fmt.Sprintf("g%02d", i)); err != nil {
				t.Errorf("MarkProcessed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	ids, err := l.Processed(ctx, "shared")
	if err != nil {
		t.Fatalf("Processed: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 20 || ids[0] != "g00" || ids[19] != "g19" {
		t.Fatalf("lost marks: %v", ids)
	}
}
