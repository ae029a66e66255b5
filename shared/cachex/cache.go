// Package cachex is a thin JSON cache over redis. A nil client is safe to
// call; operations report the client as uninitialized.
package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"predictive-maintenance-engine/shared/config"
)

var errNotInitialized = errors.New("redis client not initialized")

type Client struct {
	redis *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	return &Client{
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
	}, nil
}

func (c *Client) ready() bool {
	return c != nil && c.redis != nil
}

func (c *Client) Ping(ctx context.Context) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if !c.ready() {
		return nil
	}
	return c.redis.Close()
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.ready() {
		return errNotInitialized
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, b, ttl).Err()
}

// GetJSON loads key into dest. The bool reports a cache hit; a miss is not an
// error.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !c.ready() {
		return false, errNotInitialized
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.redis.Del(ctx, key).Err()
}

// Client exposes the underlying redis client for callers that need raw
// commands, such as the distributed lock.
func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}
