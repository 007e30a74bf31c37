package specs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rigscout/internal/listing"
)

// Cache stores ComponentSets keyed by listing dedup key.
type Cache interface {
	Get(ctx context.Context, key string) (ComponentSet, bool, error)
	Set(ctx context.Context, key string, cs ComponentSet) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]ComponentSet
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]ComponentSet)}
}

// Get returns the cached set for key.
func (c *MemoryCache) Get(_ context.Context, key string) (ComponentSet, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cs, ok := c.entries[key]
	return cs, ok, nil
}

// Set stores cs under key.
func (c *MemoryCache) Set(_ context.Context, key string, cs ComponentSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cs
	return nil
}

// Len reports the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares ComponentSets across scanner processes.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// ConnectRedis accepts either a redis:// URL or a bare host:port.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedisCache wraps client. Entries expire after ttl; zero keeps them forever.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "rigscout:specs:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached set for key.
func (c *RedisCache) Get(ctx context.Context, key string) (ComponentSet, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ComponentSet{}, false, nil
	}
	if err != nil {
		return ComponentSet{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var cs ComponentSet
	if err := json.Unmarshal(raw, &cs); err != nil {
		return ComponentSet{}, false, fmt.Errorf("decode cached specs %s: %w", key, err)
	}
	return cs, true, nil
}

// Set stores cs under key.
func (c *RedisCache) Set(ctx context.Context, key string, cs ComponentSet) error {
	raw, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encode specs: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedNormalizer consults a Cache before normalising. Cache failures are logged
// and fall back to a fresh parse.
type CachedNormalizer struct {
	normalizer *Normalizer
	cache      Cache
	logger     zerolog.Logger
}

// NewCachedNormalizer wires a Normalizer to cache.
func NewCachedNormalizer(n *Normalizer, cache Cache, logger zerolog.Logger) *CachedNormalizer {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &CachedNormalizer{
		normalizer: n,
		cache:      cache,
		logger:     logger.With().Str("component", "spec_normalizer").Logger(),
	}
}

// Normalize returns the ComponentSet for d, reusing a cached result when present.
func (c *CachedNormalizer) Normalize(ctx context.Context, d listing.Draft) ComponentSet {
	key := d.Key()
	cs, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("listing", key).Msg("spec cache read failed")
	}
	if ok {
		return cs
	}

	cs = c.normalizer.NormalizeDraft(d)
	if err := c.cache.Set(ctx, key, cs); err != nil {
		c.logger.Warn().Err(err).Str("listing", key).Msg("spec cache write failed")
	}
	return cs
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
