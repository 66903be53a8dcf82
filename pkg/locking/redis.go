// Package locking provides the per-message mutual exclusion used to stop
// concurrent duplicate processing of the same logical message. Contention is
// a normal outcome, not an error: a consumer that fails to take the lock
// simply abstains and lets the broker redeliver.
package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const lockKeyPrefix = "lock:mq:"

// releaseScript deletes the lock only if the caller still holds it, so a slow
// consumer whose TTL expired cannot release a lock taken by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig holds the configuration for the Redis lock client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// LockTTL bounds how long a crashed holder can block redeliveries.
	LockTTL time.Duration
}

// RedisLock is a distributed lock keyed by message id, backed by Redis SETNX
// with a per-acquisition token.
type RedisLock struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLock creates and connects a new RedisLock. It pings the Redis
// server to ensure connectivity before returning.
func NewRedisLock(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisLock, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for message lock: %w", err)
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	logger.Info().Str("redis_address", cfg.Addr).Dur("lock_ttl", ttl).Msg("Successfully connected to Redis for message locking.")

	return &RedisLock{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisLock").Logger(),
		ttl:         ttl,
		tokens:      make(map[string]string),
	}, nil
}

// TryLock attempts to take the lock for key. It returns (false, nil) when
// another holder already has it.
func (l *RedisLock) TryLock(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()
	acquired, err := l.redisClient.SetNX(ctx, lockKeyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx for lock %s: %w", key, err)
	}
	if !acquired {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// Unlock releases the lock for key if this instance still holds it.
func (l *RedisLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("lock %s is not held by this instance", key)
	}

	released, err := releaseScript.Run(ctx, l.redisClient, []string{lockKeyPrefix + key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release for lock %s: %w", key, err)
	}
	if released == 0 {
		l.logger.Warn().Str("key", key).Msg("Lock expired before release; another holder may have taken it.")
	}
	return nil
}

// Close closes the Redis client connection.
func (l *RedisLock) Close() error {
	if l.redisClient != nil {
		return l.redisClient.Close()
	}
	return nil
}
