package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tutor:"

// redisAPI is the subset of *redis.Client used by RedisStore.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient accepts either a redis:// URL or a bare host:port address.
func NewRedisClient(url string) *redis.Client {
	url = strings.TrimSpace(url)
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	return redis.NewClient(opt)
}

// RedisStore shares session mappings across instances; SETNX provides the
// put-if-absent guarantee and the key TTL provides expiry.
type RedisStore struct {
	rdb redisAPI
	ttl time.Duration
}

func NewRedisStore(rdb redisAPI, ttl time.Duration) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionKey(sessionID)
}

func redisThreadKey(threadID string) string {
	return redisKeyPrefix + threadKey(threadID)
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (string, error) {
	v, err := s.rdb.Get(ctx, redisKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("repository: redis get: %w", err)
	}
	return v, nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, sessionID, threadID string) (string, bool, error) {
	ok, err := s.rdb.SetNX(ctx, redisKey(sessionID), threadID, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("repository: redis setnx: %w", err)
	}
	if ok {
		if err := s.rdb.Set(ctx, redisThreadKey(threadID), sessionID, s.ttl).Err(); err != nil {
			return "", false, fmt.Errorf("repository: redis set reverse entry: %w", err)
		}
		return threadID, true, nil
	}
	existing, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", false, fmt.Errorf("repository: redis read winner: %w", err)
	}
	return existing, false, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rdb.Del(ctx, redisKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("repository: redis del: %w", err)
	}
	return n > 0, nil
}

// DeleteByThread follows the reverse entry written by PutIfAbsent. The session
// key is only removed while it still points at threadID.
func (s *RedisStore) DeleteByThread(ctx context.Context, threadID string) (string, error) {
	rkey := redisThreadKey(threadID)
	sessionID, err := s.rdb.Get(ctx, rkey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("repository: redis get reverse entry: %w", err)
	}
	if err := s.rdb.Del(ctx, rkey).Err(); err != nil {
		return "", fmt.Errorf("repository: redis del reverse entry: %w", err)
	}

	current, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) || (err == nil && current != threadID) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if _, err := s.Delete(ctx, sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}
