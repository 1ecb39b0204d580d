package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/streambot/backend/config"
)

// redisRateLimiter shares a fixed-window counter per IP across replicas.
type redisRateLimiter struct {
	client redis.Cmdable
	cfg    *rateLimiterConfig
	prefix string
	now    func() time.Time
}

func newRedisRateLimiter(client redis.Cmdable, cfg *rateLimiterConfig) *redisRateLimiter {
	return &redisRateLimiter{
		client: client,
		cfg:    cfg,
		prefix: "streambot:ratelimit:",
		now:    time.Now,
	}
}

func (rl *redisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !rl.cfg.enabled {
		return true, nil
	}
	bucket := rl.now().UnixNano() / rl.cfg.window.Nanoseconds()
	k := fmt.Sprintf("%s%s:%d", rl.prefix, key, bucket)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, rl.cfg.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(rl.cfg.requestsPerIP), nil
}

// newRedisClient connects to REDIS_ADDR and verifies the connection.
func newRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}
