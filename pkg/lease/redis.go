package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] = lease key, ARGV[1] = token, ARGV[2] = ttl in ms
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// KEYS[1] = lease key, ARGV[1] = token
var dropScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend implements Backend on a single Redis instance.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects using a redis:// URL.
func NewRedisBackend(url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lease: parse redis url: %w", err)
	}
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error { return b.client.Close() }

func (b *RedisBackend) Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease error: %w", err)
	}
	return ok, nil
}

func (b *RedisBackend) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, b.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lease error: %w", err)
	}
	return n == 1, nil
}

func (b *RedisBackend) Drop(ctx context.Context, key, token string) error {
	if err := dropScript.Run(ctx, b.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis lease error: %w", err)
	}
	return nil
}
