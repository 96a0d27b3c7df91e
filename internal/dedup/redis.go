package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "statusbot:seen:"

// RedisConfig holds connection settings for NewRedisGuard.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisGuard shares seen ids between replicas. SET NX gives the atomic
// check-and-mark; the key TTL is the retention window.
type RedisGuard struct {
	client *redis.Client
	window time.Duration
}

// NewRedisGuard connects to Redis and verifies the connection.
func NewRedisGuard(ctx context.Context, cfg RedisConfig, window time.Duration) (*RedisGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisGuardWithClient(client, window), nil
}

// NewRedisGuardWithClient wraps an existing client.
func NewRedisGuardWithClient(client *redis.Client, window time.Duration) *RedisGuard {
	return &RedisGuard{client: client, window: window}
}

func (g *RedisGuard) ShouldProcess(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, redisKeyPrefix+id, time.Now().UTC().Format(time.RFC3339), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("marking event %s: %w", id, err)
	}
	return ok, nil
}

func (g *RedisGuard) Forget(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := g.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("releasing event %s: %w", id, err)
	}
	return nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
