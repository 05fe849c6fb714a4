package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Monthlyaway/short-rules/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	// OwnerRulesPrefix is the prefix for per-owner listing keys in Redis.
	// One entry per owner; a shared key would leak listings between owners.
	OwnerRulesPrefix = "owner:rules:"
	// DefaultTTL is the fallback TTL when none is configured
	DefaultTTL = 5 * time.Minute
)

// ListingCache caches an owner's rules sorted by expire date
type ListingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewListingCache creates a listing cache on a new Redis connection
func NewListingCache(addr, password string, db, poolSize int, ttl time.Duration) (*ListingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewListingCacheWithClient(client, ttl), nil
}

// NewListingCacheWithClient wraps an existing Redis client
func NewListingCacheWithClient(client *redis.Client, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ListingCache{client: client, ttl: ttl}
}

// Get retrieves the cached listing for an owner. The second return
// value reports whether the entry was present.
func (c *ListingCache) Get(ctx context.Context, ownerID uint) ([]model.RuleSummary, bool, error) {
	key := ownerKey(ownerID)
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get from Redis: %w", err)
	}

	var rules []model.RuleSummary
	if err := json.Unmarshal([]byte(val), &rules); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached listing: %w", err)
	}
	return rules, true, nil
}

// Set stores the listing for an owner with the configured TTL
func (c *ListingCache) Set(ctx context.Context, ownerID uint, rules []model.RuleSummary) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode listing: %w", err)
	}
	if err := c.client.Set(ctx, ownerKey(ownerID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}
	return nil
}

// Invalidate drops the cached listing for an owner
func (c *ListingCache) Invalidate(ctx context.Context, ownerID uint) error {
	if err := c.client.Del(ctx, ownerKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// InvalidateMany drops the cached listings for several owners at once
func (c *ListingCache) InvalidateMany(ctx context.Context, ownerIDs []uint) error {
	if len(ownerIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ownerIDs))
	for _, id := range ownerIDs {
		keys = append(keys, ownerKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// TTL returns the configured entry lifetime
func (c *ListingCache) TTL() time.Duration {
	return c.ttl
}

// Close closes the Redis connection
func (c *ListingCache) Close() error {
	return c.client.Close()
}

// GetClient returns the underlying Redis client
func (c *ListingCache) GetClient() *redis.Client {
	return c.client
}

func ownerKey(ownerID uint) string {
	return fmt.Sprintf("%s%d", OwnerRulesPrefix, ownerID)
}
