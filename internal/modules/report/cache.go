// README: Redis cache for operational summaries (JSON values with TTL).
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "pharmadispatch:report:summary:"

// Cache is safe to use with a nil client; every lookup then misses.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(p Period, pharmacyID string) string {
	if pharmacyID == "" {
		pharmacyID = "*"
	}
	return fmt.Sprintf("%s%s:%s:%s", cacheKeyPrefix, p.Kind, p.Label, pharmacyID)
}

func (c *Cache) Get(ctx context.Context, key string) (*Summary, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var s Summary
	if err := json.Unmarshal(val, &s); err != nil {
		c.logger.Warn("report cache entry unreadable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &s, true
}

func (c *Cache) Set(ctx context.Context, key string, s *Summary) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		c.logger.Warn("report cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Debug("report cached", zap.String("key", key), zap.Int("rows", len(s.Rows)))
}
