package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"threescale-authorizer/internal/domain"
)

// RedisCache stores token entries as plain Redis strings.
type RedisCache struct {
	rdb       redis.Cmdable
	prefix    string
	ttl       time.Duration
	opTimeout time.Duration
}

// Option customises a RedisCache.
type Option func(*RedisCache)

// WithPrefix namespaces every key. The default is no prefix so entries written by
// other deployments of the authorizer remain readable.
func WithPrefix(prefix string) Option {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithTTL expires entries after ttl. Zero keeps them until deleted.
func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) { c.ttl = ttl }
}

// WithOpTimeout bounds each Redis round trip.
func WithOpTimeout(d time.Duration) Option {
	return func(c *RedisCache) { c.opTimeout = d }
}

func NewRedisCache(rdb redis.Cmdable, opts ...Option) *RedisCache {
	c := &RedisCache{rdb: rdb, opTimeout: time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(token string) string {
	return c.prefix + token
}

func (c *RedisCache) Get(ctx context.Context, token string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	value, err := c.rdb.Get(ctx, c.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &domain.CacheError{Op: "get", Err: err}
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, token, value string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, c.key(token), value, c.ttl).Err(); err != nil {
		return &domain.CacheError{Op: "set", Err: err}
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.rdb.Del(ctx, c.key(token)).Err(); err != nil {
		return &domain.CacheError{Op: "delete", Err: err}
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
