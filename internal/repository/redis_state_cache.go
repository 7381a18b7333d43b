package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RegimePulse/internal/domain/models"
	"RegimePulse/internal/domain/repository"
	pkgcache "RegimePulse/pkg/cache"
)

// ErrStateNotCached is returned when no live state exists for the pair.
var ErrStateNotCached = errors.New("regime state not cached")

// RedisStateCache implements StateCache on the shared cache service. Entries
// expire with the model TTL, so a hit is current by construction.
type RedisStateCache struct {
	cache pkgcache.Service
}

func NewRedisStateCache(cache pkgcache.Service) repository.StateCache {
	return &RedisStateCache{cache: cache}
}

func stateKey(symbol string, tf models.Timeframe) string {
	return pkgcache.GenerateKeyWithParams("regime", symbol, string(tf))
}

func (c *RedisStateCache) SetLatest(ctx context.Context, o *models.HMMOutput, ttl time.Duration) error {
	if err := c.cache.Set(ctx, stateKey(o.Symbol, o.Timeframe), o, ttl); err != nil {
		return fmt.Errorf("cache state: %w", err)
	}
	return nil
}

func (c *RedisStateCache) GetLatest(ctx context.Context, symbol string, tf models.Timeframe) (*models.HMMOutput, error) {
	var o models.HMMOutput
	err := c.cache.Get(ctx, stateKey(symbol, tf), &o)
	if err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, ErrStateNotCached
		}
		return nil, fmt.Errorf("get cached state: %w", err)
	}
	return &o, nil
}
