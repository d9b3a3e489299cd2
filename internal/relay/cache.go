package relay

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// FrameCache keeps the last frame of each order across relay restarts.
// Frame returns nil without error when nothing is cached. Forget drops the
// frame of a finished order.
type FrameCache interface {
	SetFrame(ctx context.Context, orderID string, frame []byte) error
	Frame(ctx context.Context, orderID string) ([]byte, error)
	Forget(ctx context.Context, orderID string) error
}

type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{rdb: redis.NewClient(opt), ttl: ttl, prefix: "ridertrack:frame:"}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) SetFrame(ctx context.Context, orderID string, frame []byte) error {
	return c.rdb.Set(ctx, c.prefix+orderID, frame, c.ttl).Err()
}

func (c *RedisCache) Frame(ctx context.Context, orderID string) ([]byte, error) {
	d, err := c.rdb.Get(ctx, c.prefix+orderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return d, err
}

func (c *RedisCache) Forget(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, c.prefix+orderID).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
