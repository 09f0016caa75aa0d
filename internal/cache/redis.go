// Package cache wraps the Redis connection shared by the stream mirror and
// the read-side response cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a cached value is absent or expired.
var ErrMiss = errors.New("cache miss")

// RedisCache handles caching and fast state storage.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis connection and verifies it with a ping.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Client returns the underlying Redis client.
func (rc *RedisCache) Client() *redis.Client {
	return rc.client
}

// HealthCheck pings Redis to verify the connection.
func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// SetJSON stores a JSON-encoded value with a TTL.
func (rc *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	return rc.client.Set(ctx, key, data, ttl).Err()
}

// GetJSON loads a JSON-encoded value into out. Returns ErrMiss when absent.
func (rc *RedisCache) GetJSON(ctx context.Context, key string, out interface{}) error {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Delete removes keys. Missing keys are not errors.
func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return rc.client.Del(ctx, keys...).Err()
}
