package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces limiter keys.
const DefaultRedisPrefix = "governor:ratelimit"

// RedisStore shares windows between processes through Redis. Each window is a
// key whose TTL is the time left until reset. Requires Redis 7 for PEXPIRE NX.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(identifier string) string {
	return s.prefix + ":" + identifier
}

// Hit implements EntryStore. INCR, PEXPIRE NX and PTTL run in one MULTI/EXEC
// so the first hit of a window always sets the expiry.
func (s *RedisStore) Hit(ctx context.Context, identifier string, window time.Duration, now time.Time) (Entry, error) {
	key := s.key(identifier)
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Do(ctx, "pexpire", key, window.Milliseconds(), "nx")
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("redis rate limit hit failed: %w", err)
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		// Key without expiry or already gone; treat the window as fresh.
		remaining = window
	}
	return Entry{Count: int(incr.Val()), ResetAt: now.Add(remaining)}, nil
}
