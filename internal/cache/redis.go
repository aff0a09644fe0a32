package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fieldroute/internal/opt"
)

const keyPrefix = "routecache:"

// Redis is a RouteCache shared between API instances. Expiry is delegated to
// Redis via SET EX.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis parses url and returns a cache using it.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisClient(redis.NewClient(o), ttl), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func (c *Redis) Get(ctx context.Context, key string) (opt.Route, bool, error) {
	b, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return opt.Route{}, false, nil
	}
	if err != nil {
		return opt.Route{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var r opt.Route
	if err := json.Unmarshal(b, &r); err != nil {
		return opt.Route{}, false, fmt.Errorf("decode cached route: %w", err)
	}
	return r, true, nil
}

func (c *Redis) Put(ctx context.Context, key string, r opt.Route) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Redis) Clear(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan route cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Ping checks connectivity.
func (c *Redis) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }
