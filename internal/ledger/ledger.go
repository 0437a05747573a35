// Package ledger records which games of a batch have been fully aggregated so a
// redelivered batch skips them.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention bounds how long a batch's processed set is kept after its last mark.
const DefaultRetention = 14 * 24 * time.Hour

type Ledger interface {
	AlreadyProcessed(ctx context.Context, batchID, gameID string) (bool, error)
	// MarkProcessed adds gameID to the batch's set, creating it if absent.
	MarkProcessed(ctx context.Context, batchID, gameID string) error
	// Processed lists the marked games of a batch in no particular order.
	Processed(ctx context.Context, batchID string) ([]string, error)
}

// RedisLedger keeps one set per batch. SADD makes concurrent marks on the same batch safe.
type RedisLedger struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisLedger(rdb *redis.Client, retention time.Duration) *RedisLedger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisLedger{rdb: rdb, retention: retention}
}

func (l *RedisLedger) key(batchID string) string { return "ledger:batch:" + strings.TrimSpace(batchID) }

func (l *RedisLedger) AlreadyProcessed(ctx context.Context, batchID, gameID string) (bool, error) {
	return l.rdb.SIsMember(ctx, l.key(batchID), gameID).Result()
}

func (l *RedisLedger) MarkProcessed(ctx context.Context, batchID, gameID string) error {
	key := l.key(batchID)
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, gameID)
		pipe.Expire(ctx, key, l.retention)
		return nil
	})
	return err
}

func (l *RedisLedger) Processed(ctx context.Context, batchID string) ([]string, error) {
	return l.rdb.SMembers(ctx, l.key(batchID)).Result()
}

type memLedger struct {
	mu      sync.RWMutex
	batches map[string]map[string]struct{}
}

func NewMemoryLedger() Ledger {
	return &memLedger{batches: make(map[string]map[string]struct{})}
}

func (m *memLedger) AlreadyProcessed(ctx context.Context, batchID, gameID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.batches[batchID][gameID]
	return ok, nil
}

func (m *memLedger) MarkProcessed(ctx context.Context, batchID, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.batches[batchID]
	if set == nil {
		set = make(map[string]struct{})
		m.batches[batchID] = set
	}
	set[gameID] = struct{}{}
	return nil
}

func (m *memLedger) Processed(ctx context.Context, batchID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.batches[batchID]))
	for id := range m.batches[batchID] {
		out = append(out, id)
	}
	return out, nil
}
