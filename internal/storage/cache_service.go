package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yield-scanner/internal/service"
	"github.com/yield-scanner/internal/types"
)

// CacheService provides JSON caching on top of Redis. Yield summaries are
// derived data keyed by (user, side, window); a short TTL keeps "now"
// reasonably fresh without recomputing on every request.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeySummary is for computed portfolio summaries
	CacheKeySummary CacheKeyType = "summary"
	// CacheKeyPrices is for asset price history responses
	CacheKeyPrices CacheKeyType = "prices"
)

// GenerateCacheKey generates a cache key for a given type and parameters.
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	normalized := make([]string, len(params))
	for i, param := range params {
		normalized[i] = strings.ToLower(param)
	}
	parts := append([]string{string(keyType)}, normalized...)
	return strings.Join(parts, ":")
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it into dest. Returns
// false on a cache miss.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate deletes keys matching a pattern.
func (c *CacheService) Invalidate(ctx context.Context, pattern string) error {
	keys, err := c.redis.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to list keys for invalidation: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidateUser drops every cached summary for a user. Called by the
// indexer webhook so new ledger events become visible immediately.
func (c *CacheService) InvalidateUser(ctx context.Context, userID string) error {
	return c.Invalidate(ctx, c.GenerateCacheKey(CacheKeySummary, userID)+":*")
}

func (c *CacheService) summaryKey(userID string, side types.PositionSide, windowDays int) string {
	return c.GenerateCacheKey(CacheKeySummary, userID, string(side), fmt.Sprintf("%d", windowDays))
}

// GetPortfolioSummary implements service.SummaryCache. A miss is (nil, nil).
func (c *CacheService) GetPortfolioSummary(ctx context.Context, userID string, side types.PositionSide, windowDays int) (*service.PortfolioSummary, error) {
	var summary service.PortfolioSummary
	found, err := c.Get(ctx, c.summaryKey(userID, side, windowDays), &summary)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &summary, nil
}

// SetPortfolioSummary implements service.SummaryCache.
func (c *CacheService) SetPortfolioSummary(ctx context.Context, userID string, side types.PositionSide, windowDays int, summary *service.PortfolioSummary) error {
	return c.Set(ctx, c.summaryKey(userID, side, windowDays), summary)
}
