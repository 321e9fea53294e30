package occupancy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/increment.lua
var incrementScript string

//go:embed scripts/decrement.lua
var decrementScript string

//go:embed scripts/reset.lua
var resetScript string

//go:embed scripts/unlock.lua
var unlockScript string

// DefaultKeyPrefix namespaces occupancy keys: {prefix}:{venueID}:live_count,
// {prefix}:{venueID}:entries and {prefix}:{venueID}:tier.
const DefaultKeyPrefix = "temple"

// lockPoll is how often a contended pass lock is retried.
const lockPoll = 10 * time.Millisecond

// RedisStore implements Store on Redis.  Every mutation is a single Lua
// script so the count, the inside set and the tier rank change together.
type RedisStore struct {
	rdb       *redis.Client
	prefix    string
	increment *redis.Script
	decrement *redis.Script
	reset     *redis.Script
	unlock    *redis.Script
}

// NewRedisStore returns a RedisStore.  An empty prefix selects
// DefaultKeyPrefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		rdb:       rdb,
		prefix:    prefix,
		increment: redis.NewScript(incrementScript),
		decrement: redis.NewScript(decrementScript),
		reset:     redis.NewScript(resetScript),
		unlock:    redis.NewScript(unlockScript),
	}
}

func (s *RedisStore) countKey(venueID string) string {
	return fmt.Sprintf("%s:%s:live_count", s.prefix, venueID)
}

func (s *RedisStore) entriesKey(venueID string) string {
	return fmt.Sprintf("%s:%s:entries", s.prefix, venueID)
}

func (s *RedisStore) tierKey(venueID string) string {
	return fmt.Sprintf("%s:%s:tier", s.prefix, venueID)
}

func (s *RedisStore) lockKey(token string) string {
	return fmt.Sprintf("%s:lock:pass:%s", s.prefix, token)
}

func (s *RedisStore) keys(venueID string) []string {
	return []string{s.countKey(venueID), s.entriesKey(venueID), s.tierKey(venueID)}
}

// LoadScripts preloads the Lua scripts so the first scan does not pay for
// the EVAL fallback.
func (s *RedisStore) LoadScripts(ctx context.Context) error {
	scripts := map[string]*redis.Script{
		"increment": s.increment,
		"decrement": s.decrement,
		"reset":     s.reset,
		"unlock":    s.unlock,
	}
	for name, sc := range scripts {
		if err := sc.Load(ctx, s.rdb).Err(); err != nil {
			return fmt.Errorf("load %s script: %w", name, err)
		}
	}
	return nil
}

func thresholdArgs(token string, th Thresholds) []interface{} {
	return []interface{}{
		token,
		th.Capacity,
		strconv.FormatFloat(th.Warning, 'g', -1, 64),
		strconv.FormatFloat(th.Critical, 'g', -1, 64),
	}
}

func (s *RedisStore) Increment(ctx context.Context, venueID, token string, th Thresholds) (Change, error) {
	vals, err := s.increment.Run(ctx, s.rdb, s.keys(venueID), thresholdArgs(token, th)...).Int64Slice()
	if err != nil {
		return Change{}, fmt.Errorf("increment %s: %w", venueID, err)
	}
	if len(vals) != 3 {
		return Change{}, fmt.Errorf("increment %s: unexpected script result length %d", venueID, len(vals))
	}
	return Change{Count: vals[0], Rank: int(vals[1]), Escalated: vals[2] == 1}, nil
}

func (s *RedisStore) Decrement(ctx context.Context, venueID, token string, th Thresholds) (Change, error) {
	vals, err := s.decrement.Run(ctx, s.rdb, s.keys(venueID), thresholdArgs(token, th)...).Int64Slice()
	if err != nil {
		return Change{}, fmt.Errorf("decrement %s: %w", venueID, err)
	}
	if len(vals) != 4 {
		return Change{}, fmt.Errorf("decrement %s: unexpected script result length %d", venueID, len(vals))
	}
	return Change{Count: vals[0], Rank: int(vals[1]), Escalated: vals[2] == 1, Clamped: vals[3] == 1}, nil
}

func (s *RedisStore) Count(ctx context.Context, venueID string) (int64, error) {
	v, err := s.rdb.Get(ctx, s.countKey(venueID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get count %s: %w", venueID, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse count %s: %w", venueID, err)
	}
	return n, nil
}

func (s *RedisStore) Inside(ctx context.Context, venueID string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.entriesKey(venueID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list inside %s: %w", venueID, err)
	}
	return members, nil
}

func (s *RedisStore) Seed(ctx context.Context, venueID string, count int64) (bool, error) {
	if count < 0 {
		count = 0
	}
	ok, err := s.rdb.SetNX(ctx, s.countKey(venueID), count, 0).Result()
	if err != nil {
		return false, fmt.Errorf("seed %s: %w", venueID, err)
	}
	return ok, nil
}

func (s *RedisStore) Reset(ctx context.Context, venueID string) error {
	if err := s.reset.Run(ctx, s.rdb, s.keys(venueID)).Err(); err != nil {
		return fmt.Errorf("reset %s: %w", venueID, err)
	}
	return nil
}

// Lock takes {prefix}:lock:pass:{token} with SET NX PX and polls until it
// is free.  Release only deletes the key while this caller still owns it.
func (s *RedisStore) Lock(ctx context.Context, token string, ttl time.Duration) (func(), error) {
	key, owner := s.lockKey(token), uuid.NewString()
	for {
		ok, err := s.rdb.SetNX(ctx, key, owner, ttl).Result()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				err = cerr
			}
			return nil, fmt.Errorf("lock pass %s: %w", token, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock pass %s: %w", token, ctx.Err())
		case <-time.After(lockPoll):
		}
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = s.unlock.Run(rctx, s.rdb, []string{key}, owner).Err()
	}, nil
}

var _ Store = (*RedisStore)(nil)
