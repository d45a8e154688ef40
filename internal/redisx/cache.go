package redisx

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache backs reconcile.Cache with Redis. Redis is an accelerator only:
// failures are logged and reported as misses.
type Cache struct {
	Redis *redis.Client
	Scope string // dedup namespace, usually the service name
	Log   zerolog.Logger
}

func (c *Cache) SeenNotification(ctx context.Context, key string) bool {
	ok, err := Exists(ctx, c.Redis, fmt.Sprintf(KeyDedup, c.Scope, key))
	if err != nil {
		c.Log.Warn().Err(err).Msg("redis dedup lookup")
		return false
	}
	return ok
}

func (c *Cache) MarkNotification(ctx context.Context, key string) {
	if err := c.Redis.Set(ctx, fmt.Sprintf(KeyDedup, c.Scope, key), "1", TTLDedup).Err(); err != nil {
		c.Log.Warn().Err(err).Msg("redis dedup mark")
	}
}

func (c *Cache) CachedStatus(ctx context.Context, ref string) (reconcile.State, bool) {
	s, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrderStatus, ref)).Result()
	if err != nil {
		if err != redis.Nil {
			c.Log.Warn().Err(err).Msg("redis status lookup")
		}
		return "", false
	}
	switch st := reconcile.State(s); st {
	case reconcile.StateApproved, reconcile.StateReleased:
		return st, true
	}
	return "", false
}

// CacheStatus stores terminal states only; pending must always be re-read.
func (c *Cache) CacheStatus(ctx context.Context, ref string, st reconcile.State) {
	if st != reconcile.StateApproved && st != reconcile.StateReleased {
		return
	}
	if err := c.Redis.Set(ctx, fmt.Sprintf(KeyOrderStatus, ref), string(st), TTLStatusCache).Err(); err != nil {
		c.Log.Warn().Err(err).Msg("redis status store")
	}
}
