package opskeys

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"threescale-authorizer/internal/infra/logging"
)

// Source lists keys managed outside the configuration file.
type Source interface {
	LoadKeys(ctx context.Context) ([]string, error)
}

// RedisSource reads keys from a Redis set, so operators can rotate them with
// SADD/SREM without a restart.
type RedisSource struct {
	rdb redis.Cmdable
	key string
}

func NewRedisSource(rdb redis.Cmdable, key string) *RedisSource {
	return &RedisSource{rdb: rdb, key: key}
}

func (s *RedisSource) LoadKeys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load ops keys from %s: %w", s.key, err)
	}
	return keys, nil
}

// Reloader refreshes a Store from the static keys plus an optional Source.
type Reloader struct {
	static   []string
	source   Source
	store    *Store
	interval time.Duration
}

func NewReloader(static []string, source Source, store *Store, interval time.Duration) *Reloader {
	trimmed := make([]string, 0, len(static))
	for _, k := range static {
		if k = strings.TrimSpace(k); k != "" {
			trimmed = append(trimmed, k)
		}
	}
	return &Reloader{static: trimmed, source: source, store: store, interval: interval}
}

// LoadOnce replaces the store contents. On a source error the store is left untouched.
func (r *Reloader) LoadOnce(ctx context.Context) error {
	keys := append([]string(nil), r.static...)
	if r.source != nil {
		more, err := r.source.LoadKeys(ctx)
		if err != nil {
			return err
		}
		keys = append(keys, more...)
	}
	r.store.Replace(keys)
	return nil
}

// Start reloads every interval until ctx is done. A nil source makes reloading pointless.
func (r *Reloader) Start(ctx context.Context) {
	if r.source == nil || r.interval <= 0 {
		return
	}
	t := time.NewTicker(r.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := r.LoadOnce(ctx); err != nil {
					logging.Error("Ops key reload failed", "error", err)
				}
			}
		}
	}()
}
