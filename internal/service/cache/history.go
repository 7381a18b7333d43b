package cache

import (
	"fmt"
	"sync"
	"time"

	"RegimePulse/internal/domain/models"
)

type histEntry struct {
	rows []*models.HMMOutput
	exp  time.Time
}

// HistoryCache keeps recent history query results in memory so repeated
// dashboard polls do not hit ClickHouse.
type HistoryCache struct {
	mu sync.RWMutex
	m  map[string]histEntry
}

func NewHistoryCache() *HistoryCache {
	return &HistoryCache{m: make(map[string]histEntry)}
}

// Key builds a stable cache key for one history query.
func Key(symbol string, tf models.Timeframe, from, to time.Time, limit int) string {
	return fmt.Sprintf("%s|%s|%d|%d|%d", symbol, tf, from.Unix(), to.Unix(), limit)
}

func (c *HistoryCache) Get(key string) ([]*models.HMMOutput, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.rows, true
}

func (c *HistoryCache) Set(key string, rows []*models.HMMOutput, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.m[key] = histEntry{rows: rows, exp: time.Now().Add(ttl)}
	c.mu.Unlock()
}
