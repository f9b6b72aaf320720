package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/circuitbreaker"
)

// Redis backs the cache with a shared Redis instance. Calls go through
// the "redis" circuit breaker so a cache outage degrades to misses
// instead of stalling research.
type Redis struct {
	cli    *redis.Client
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

// NewRedis connects and pings the server once so misconfiguration is
// caught at startup.
func NewRedis(addr string, registry *circuitbreaker.Registry, logger *zap.Logger) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{cli: cli, cb: registry.Get("redis"), logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	err := r.cb.Execute(ctx, func() error {
		b, err := r.cli.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		val = b
		return nil
	})
	if err != nil {
		r.logger.Debug("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return val, val != nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	err := r.cb.Execute(ctx, func() error {
		return r.cli.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		r.logger.Debug("cache set failed", zap.String("key", key), zap.Error(err))
	}
}
