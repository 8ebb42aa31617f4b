package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "lbot:"
	gameClaimTTL = 6 * time.Hour
	missRating   = "none"
)

// OpenRedis parses a redis:// URL and checks the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisStore shares session bookkeeping between bot replicas. instance
// identifies this process in game claims.
type RedisStore struct {
	rdb      *redis.Client
	instance string
}

func NewRedisStore(rdb *redis.Client, instance string) *RedisStore {
	return &RedisStore{rdb: rdb, instance: instance}
}

func (s *RedisStore) Instance() string { return s.instance }

func (s *RedisStore) keyGame(id string) string { return keyPrefix + "game:" + strings.TrimSpace(id) }
func (s *RedisStore) keyResults() string       { return keyPrefix + "results" }
func (s *RedisStore) keyPending(user string) string {
	return keyPrefix + "pending:" + strings.ToLower(strings.TrimSpace(user))
}
func (s *RedisStore) keyRating(user, perf string) string {
	return keyPrefix + "rating:" + strings.ToLower(strings.TrimSpace(user)) + ":" + perf
}

// ClaimGame sets the game key if absent. A key already held by this
// instance counts as claimed.
func (s *RedisStore) ClaimGame(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keyGame(id), s.instance, gameClaimTTL).Result()
	if err != nil || ok {
		return ok, err
	}
	owner, err := s.rdb.Get(ctx, s.keyGame(id)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == s.instance, nil
}

// ReleaseGame drops the claim if this instance still owns it.
func (s *RedisStore) ReleaseGame(ctx context.Context, id string) error {
	owner, err := s.rdb.Get(ctx, s.keyGame(id)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != s.instance {
		return nil
	}
	return s.rdb.Del(ctx, s.keyGame(id)).Err()
}

func (s *RedisStore) IncrResult(ctx context.Context, outcome string) error {
	return s.rdb.HIncrBy(ctx, s.keyResults(), outcome, 1).Err()
}

// Results returns the shared tallies keyed by outcome.
func (s *RedisStore) Results(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.keyResults()).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

func (s *RedisStore) MarkPending(ctx context.Context, user string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.keyPending(user), s.instance, ttl).Err()
}

func (s *RedisStore) ClearPending(ctx context.Context, user string) error {
	return s.rdb.Del(ctx, s.keyPending(user)).Err()
}

func (s *RedisStore) HasPending(ctx context.Context, user string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.keyPending(user)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveRating stores a rating lookup; known=false records a miss.
func (s *RedisStore) SaveRating(ctx context.Context, user, perf string, rating int, known bool, ttl time.Duration) error {
	v := missRating
	if known {
		v = strconv.Itoa(rating)
	}
	return s.rdb.Set(ctx, s.keyRating(user, perf), v, ttl).Err()
}

// LoadRating reports found=false when nothing is cached.
func (s *RedisStore) LoadRating(ctx context.Context, user, perf string) (rating int, known, found bool, err error) {
	v, err := s.rdb.Get(ctx, s.keyRating(user, perf)).Result()
	if err == redis.Nil {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	if v == missRating {
		return 0, false, true, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, false, nil
	}
	return n, true, true, nil
}
