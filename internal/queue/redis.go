package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/blunderboard/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultVisibility   = 2 * time.Hour
	defaultPollInterval = 250 * time.Millisecond
)

// receiveScript pops the oldest pending id and leases it.
// KEYS: pending, inflight, deliveries, bodies, dead. ARGV: lease deadline (ms), max deliveries.
// Returns {id, body, deliveries, dead(0|1)} or nil when nothing is pending.
var receiveScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then return false end
local n = redis.call('HINCRBY', KEYS[3], id, 1)
local body = redis.call('HGET', KEYS[4], id)
if not body then
  redis.call('HDEL', KEYS[3], id)
  return {id, '', n, 2}
end
local max = tonumber(ARGV[2])
if max > 0 and n > max then
  redis.call('LPUSH', KEYS[5], id)
  return {id, '', n, 1}
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return {id, body, n, 0}
`)

// reapScript returns expired leases to the head of the pending list.
// KEYS: inflight, pending. ARGV: now (ms).
var reapScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

// releaseScript ends a lease early. A refunded release takes back the delivery it
// was counted as. KEYS: inflight, pending, deliveries. ARGV: id, refund(0|1).
var releaseScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
  if ARGV[2] == '1' and tonumber(redis.call('HGET', KEYS[3], ARGV[1]) or '0') > 0 then
    redis.call('HINCRBY', KEYS[3], ARGV[1], -1)
  end
  redis.call('RPUSH', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// extendScript moves the lease deadline of a message still in flight.
// KEYS: inflight. ARGV: deadline (ms), id.
var extendScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

type RedisConfig struct {
	Name          string
	Visibility    time.Duration
	MaxDeliveries int
	PollInterval  time.Duration
}

// RedisQueue is a reliable list-based queue. Pending ids live in a list, leased ids in
// a sorted set scored by lease deadline, bodies and delivery counters in hashes.
type RedisQueue struct {
	rdb  *redis.Client
	cfg  RedisConfig
	now  func() time.Time
	keys redisKeys
}

type redisKeys struct {
	pending, inflight, deliveries, bodies, dead string
}

func NewRedisQueue(rdb *redis.Client, cfg RedisConfig) *RedisQueue {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "analysis"
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = defaultVisibility
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	prefix := "queue:" + cfg.Name + ":"
	return &RedisQueue{
		rdb: rdb,
		cfg: cfg,
		now: time.Now,
		keys: redisKeys{
			pending:    prefix + "pending",
			inflight:   prefix + "inflight",
			deliveries: prefix + "deliveries",
			bodies:     prefix + "bodies",
			dead:       prefix + "dead",
		},
	}
}

func (q *RedisQueue) Publish(ctx context.Context, id string, body []byte) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("message id required")
	}
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.bodies, id, body)
		pipe.LPush(ctx, q.keys.pending, id)
		return nil
	})
	return err
}

func (q *RedisQueue) Receive(ctx context.Context, wait time.Duration) (*Message, error) {
	deadline := q.now().Add(wait)
	for {
		if err := q.reap(ctx); err != nil {
			return nil, err
		}
		m, err := q.pop(ctx)
		if err != nil && !errors.Is(err, ErrEmpty) {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
		if !q.now().Before(deadline) {
			return nil, ErrEmpty
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.cfg.PollInterval):
		}
	}
}

// pop leases one message. Dead-lettered or orphaned ids are consumed and skipped.
func (q *RedisQueue) pop(ctx context.Context) (*Message, error) {
	k := q.keys
	for {
		res, err := receiveScript.Run(ctx, q.rdb,
			[]string{k.pending, k.inflight, k.deliveries, k.bodies, k.dead},
			q.leaseDeadline(), q.cfg.MaxDeliveries,
		).Slice()
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, err
		}
		if len(res) != 4 {
			return nil, fmt.Errorf("unexpected receive reply: %v", res)
		}
		id, _ := res[0].(string)
		body, _ := res[1].(string)
		deliveries, _ := res[2].(int64)
		state, _ := res[3].(int64)
		switch state {
		case 1:
			obslog.L().Warn("queue_dead_letter",
				zap.String("queue", q.cfg.Name),
				zap.String("message_id", id),
				zap.Int64("deliveries", deliveries),
				zap.String("reason", "max deliveries exceeded"),
			)
			continue
		case 2:
			obslog.L().Warn("queue_orphan_id", zap.String("queue", q.cfg.Name), zap.String("message_id", id))
			continue
		}
		return &Message{ID: id, Body: []byte(body), Deliveries: int(deliveries)}, nil
	}
}

func (q *RedisQueue) reap(ctx context.Context) error {
	n, err := reapScript.Run(ctx, q.rdb, []string{q.keys.inflight, q.keys.pending}, q.now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("reap expired leases: %w", err)
	}
	if n > 0 {
		obslog.L().Info("queue_leases_expired", zap.String("queue", q.cfg.Name), zap.Int("count", n))
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, m *Message) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.keys.inflight, m.ID)
		pipe.HDel(ctx, q.keys.bodies, m.ID)
		pipe.HDel(ctx, q.keys.deliveries, m.ID)
		return nil
	})
	return err
}

func (q *RedisQueue) Release(ctx context.Context, m *Message) error {
	return q.release(ctx, m, false)
}

// Requeue releases the message without counting the interrupted delivery.
func (q *RedisQueue) Requeue(ctx context.Context, m *Message) error {
	return q.release(ctx, m, true)
}

func (q *RedisQueue) release(ctx context.Context, m *Message, refund bool) error {
	flag := "0"
	if refund {
		flag = "1"
	}
	n, err := releaseScript.Run(ctx, q.rdb,
		[]string{q.keys.inflight, q.keys.pending, q.keys.deliveries}, m.ID, flag,
	).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		// already reaped back to pending
		return ErrLeaseLost
	}
	return nil
}

func (q *RedisQueue) Extend(ctx context.Context, m *Message) error {
	n, err := extendScript.Run(ctx, q.rdb, []string{q.keys.inflight}, q.leaseDeadline(), m.ID).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// DeadLetter parks the message id on the dead list; its body is kept for inspection.
func (q *RedisQueue) DeadLetter(ctx context.Context, m *Message, reason string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.keys.inflight, m.ID)
		pipe.LPush(ctx, q.keys.dead, m.ID)
		return nil
	})
	if err == nil {
		obslog.L().Warn("queue_dead_letter",
			zap.String("queue", q.cfg.Name),
			zap.String("message_id", m.ID),
			zap.Int("deliveries", m.Deliveries),
			zap.String("reason", reason),
		)
	}
	return err
}

// DeadLetters lists dead-lettered message ids, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]string, error) {
	return q.rdb.LRange(ctx, q.keys.dead, 0, -1).Result()
}

// Depth reports the pending and in-flight message counts.
func (q *RedisQueue) Depth(ctx context.Context) (pending, inflight int64, err error) {
	cmds, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LLen(ctx, q.keys.pending)
		pipe.ZCard(ctx, q.keys.inflight)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return cmds[0].(*redis.IntCmd).Val(), cmds[1].(*redis.IntCmd).Val(), nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisQueue) Close() error { return nil }

func (q *RedisQueue) leaseDeadline() string {
	return strconv.FormatInt(q.now().Add(q.cfg.Visibility).UnixMilli(), 10)
}
