package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/blunderboard/internal/analysis"
	"github.com/redis/go-redis/v9"
)

const (
	fieldUsername     = "username"
	fieldRegisteredAt = "registered_at"

	fieldTotalGames   = "total_games"
	fieldPlayerTotal  = "player_total"
	fieldWorstGame    = "worst_game"
	fieldMagnitude    = "magnitude"
	fieldInaccuracies = "inaccuracies"
	fieldMistakes     = "mistakes"
	fieldBlunders     = "blunders"

	emptyWorstGame = "{}"
)

// replaceWorstScript swaps the worst game of a period only on a strictly greater magnitude.
// KEYS[1] player hash, ARGV[1] period path, ARGV[2] candidate magnitude, ARGV[3] candidate JSON.
var replaceWorstScript = redis.NewScript(`
local magField = ARGV[1] .. '.worst_game.magnitude'
local stored = tonumber(redis.call('HGET', KEYS[1], magField) or '-1')
local candidate = tonumber(ARGV[2])
if candidate > stored then
  redis.call('HSET', KEYS[1], magField, ARGV[2], ARGV[1] .. '.worst_game', ARGV[3])
  return 1
end
return 0
`)

// RedisStore keeps one hash per player. Nested containers are flattened into dotted
// field names such as "y2024.m03.player_total.blunders".
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (s *RedisStore) key(username string) string {
	return "playerstats:" + strings.TrimSpace(username)
}

func (s *RedisStore) PlayerExists(ctx context.Context, username string) (bool, error) {
	return s.rdb.HExists(ctx, s.key(username), fieldUsername).Result()
}

func (s *RedisStore) RegisterPlayer(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("empty username")
	}
	key := s.key(username)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldUsername, username)
		pipe.HSetNX(ctx, key, fieldRegisteredAt, s.now().UTC().Format(time.RFC3339))
		return nil
	})
	return err
}

func (s *RedisStore) InitPeriod(ctx context.Context, username string, p Period) error {
	key := s.key(username)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, path := range []string{p.YearPath(), p.MonthPath()} {
			pipe.HSetNX(ctx, key, path+"."+fieldTotalGames, 0)
			for _, f := range tallyFields {
				pipe.HSetNX(ctx, key, path+"."+fieldPlayerTotal+"."+f, 0)
			}
			pipe.HSetNX(ctx, key, path+"."+fieldWorstGame, emptyWorstGame)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Increment(ctx context.Context, username string, p Period, t analysis.Tally) error {
	key := s.key(username)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, path := range []string{p.YearPath(), p.MonthPath()} {
			pipe.HIncrBy(ctx, key, path+"."+fieldTotalGames, 1)
			pipe.HIncrBy(ctx, key, path+"."+fieldPlayerTotal+"."+fieldInaccuracies, int64(t.Inaccuracies))
			pipe.HIncrBy(ctx, key, path+"."+fieldPlayerTotal+"."+fieldMistakes, int64(t.Mistakes))
			pipe.HIncrBy(ctx, key, path+"."+fieldPlayerTotal+"."+fieldBlunders, int64(t.Blunders))
		}
		return nil
	})
	return err
}

func (s *RedisStore) ReplaceWorstIfGreater(ctx context.Context, username, path string, candidate WorstGame) (bool, error) {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return false, err
	}
	n, err := replaceWorstScript.Run(ctx, s.rdb, []string{s.key(username)}, path, candidate.Magnitude, string(raw)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, username string) (*PlayerStats, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(username)).Result()
	if err != nil {
		return nil, err
	}
	if _, ok := fields[fieldUsername]; !ok {
		return nil, ErrPlayerNotFound
	}
	return decodeFields(username, fields)
}

var tallyFields = []string{fieldInaccuracies, fieldMistakes, fieldBlunders}

func decodeFields(username string, fields map[string]string) (*PlayerStats, error) {
	out := &PlayerStats{Username: username, Years: map[string]*YearStats{}}
	for k, v := range fields {
		if k == fieldUsername || k == fieldRegisteredAt {
			continue
		}
		parts := strings.Split(k, ".")
		if len(parts) < 2 || !isYearKey(parts[0]) {
			continue
		}
		year := out.Years[parts[0]]
		if year == nil {
			year = &YearStats{Months: map[string]*PeriodStats{}}
			out.Years[parts[0]] = year
		}
		target, rest := &year.PeriodStats, parts[1:]
		if isMonthKey(parts[1]) {
			month := year.Months[parts[1]]
			if month == nil {
				month = &PeriodStats{}
				year.Months[parts[1]] = month
			}
			target, rest = month, parts[2:]
		}
		if err := setField(target, rest, v); err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
	}
	return out, nil
}

func setField(ps *PeriodStats, path []string, v string) error {
	if len(path) == 0 {
		return nil
	}
	switch path[0] {
	case fieldTotalGames:
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		ps.TotalGames = n
	case fieldPlayerTotal:
		if len(path) != 2 {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		switch path[1] {
		case fieldInaccuracies:
			ps.PlayerTotal.Inaccuracies = n
		case fieldMistakes:
			ps.PlayerTotal.Mistakes = n
		case fieldBlunders:
			ps.PlayerTotal.Blunders = n
		}
	case fieldWorstGame:
		// the magnitude field mirrors the JSON document and is only used by the script
		if len(path) != 1 || v == emptyWorstGame || v == "" {
			return nil
		}
		var wg WorstGame
		if err := json.Unmarshal([]byte(v), &wg); err != nil {
			return err
		}
		ps.WorstGame = &wg
	}
	return nil
}

func isYearKey(s string) bool {
	return len(s) > 1 && s[0] == 'y' && isDigits(s[1:])
}

func isMonthKey(s string) bool {
	return len(s) == 3 && s[0] == 'm' && isDigits(s[1:])
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
