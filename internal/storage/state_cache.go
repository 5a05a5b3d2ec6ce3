package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateCache provides cache-aside storage for derived portfolio state and
// market prices. Everything in it is recomputable; a cold cache is a
// performance problem, never a correctness one.
type StateCache struct {
	redis    *RedisCache
	stateTTL time.Duration
	priceTTL time.Duration
}

// NewStateCache creates a new state cache
func NewStateCache(redis *RedisCache, stateTTL, priceTTL time.Duration) *StateCache {
	return &StateCache{
		redis:    redis,
		stateTTL: stateTTL,
		priceTTL: priceTTL,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyState is for derived portfolio state
	CacheKeyState CacheKeyType = "state"
	// CacheKeyPrice is for market quotes
	CacheKeyPrice CacheKeyType = "price"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *StateCache) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := append([]string{string(keyType)}, params...)
	return strings.Join(parts, ":")
}

// StateKey generates the cache key for a portfolio's derived state
// Format: state:<portfolio-id>
func (c *StateCache) StateKey(portfolioID string) string {
	return c.GenerateCacheKey(CacheKeyState, portfolioID)
}

// PriceKey generates the cache key for a symbol quote
// Format: price:<symbol>
func (c *StateCache) PriceKey(symbol string) string {
	return c.GenerateCacheKey(CacheKeyPrice, strings.ToUpper(symbol))
}

// SetState caches a portfolio's derived state
func (c *StateCache) SetState(ctx context.Context, portfolioID string, state interface{}) error {
	return c.set(ctx, c.StateKey(portfolioID), state, c.stateTTL)
}

// GetState retrieves a cached portfolio state into dest, reporting a hit
func (c *StateCache) GetState(ctx context.Context, portfolioID string, dest interface{}) (bool, error) {
	return c.get(ctx, c.StateKey(portfolioID), dest)
}

// InvalidateState removes a portfolio's cached state. Called after every
// trade execution and snapshot write.
func (c *StateCache) InvalidateState(ctx context.Context, portfolioID string) error {
	return c.redis.Del(ctx, c.StateKey(portfolioID))
}

// SetPrice caches a market quote for a symbol
func (c *StateCache) SetPrice(ctx context.Context, symbol string, price interface{}) error {
	return c.set(ctx, c.PriceKey(symbol), price, c.priceTTL)
}

// GetPrice retrieves a cached quote into dest, reporting a hit
func (c *StateCache) GetPrice(ctx context.Context, symbol string, dest interface{}) (bool, error) {
	return c.get(ctx, c.PriceKey(symbol), dest)
}

func (c *StateCache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redis.Set(ctx, key, data, ttl)
}

func (c *StateCache) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		// Key not found is not an error, just a cache miss
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
