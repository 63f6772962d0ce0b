package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig is the subset of client options the API sets. Zero values
// fall back to go-redis defaults, except PingTimeout (2s).
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	PingTimeout time.Duration
}

// OpenRedis builds a client and fails unless the server answers PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// KEYS[1] slot counter, ARGV[1] limit, ARGV[2] ttl in ms. Every successful
// acquire refreshes the ttl so a crashed holder's slots expire.
var slotAcquire = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var slotRelease = redis.NewScript(`
if redis.call('DECR', KEYS[1]) <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// AcquireConcurrencyCap atomically takes one of limit slots under key.
// It reports false when all slots are taken.
func AcquireConcurrencyCap(ctx context.Context, rdb redis.Scripter, key string, limit int, ttl time.Duration) (bool, error) {
	switch {
	case rdb == nil:
		return false, errors.New("redis client is nil")
	case key == "":
		return false, errors.New("key is required")
	case limit <= 0:
		return false, errors.New("limit must be > 0")
	case ttl <= 0:
		return false, errors.New("ttl must be > 0")
	}
	n, err := slotAcquire.Run(ctx, rdb, []string{key}, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseConcurrencyCap returns a slot taken by AcquireConcurrencyCap.
func ReleaseConcurrencyCap(ctx context.Context, rdb redis.Scripter, key string) error {
	if rdb == nil || key == "" {
		return errors.New("redis client and key are required")
	}
	return slotRelease.Run(ctx, rdb, []string{key}).Err()
}

// ConcurrencyLimiter caps concurrently held slots per id (an organization for
// dispatch jobs) under a fixed key prefix.
type ConcurrencyLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	ttl    time.Duration
}

func NewConcurrencyLimiter(rdb redis.Scripter, prefix string, limit int, ttl time.Duration) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{rdb: rdb, prefix: prefix, limit: limit, ttl: ttl}
}

func (l *ConcurrencyLimiter) key(id string) string { return l.prefix + ":" + id }

// Acquire takes one slot for id. It returns false when id is already at the limit.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, id string) (bool, error) {
	return AcquireConcurrencyCap(ctx, l.rdb, l.key(id), l.limit, l.ttl)
}

func (l *ConcurrencyLimiter) Release(ctx context.Context, id string) error {
	return ReleaseConcurrencyCap(ctx, l.rdb, l.key(id))
}
