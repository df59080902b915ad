package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/config"
)

const listingKeyPrefix = "gdelt:listing"

// ListingCache stores the archive links harvested from a directory-listing page.
type ListingCache interface {
	GetLinks(ctx context.Context, indexURL, suffix string) ([]string, bool, error)
	SetLinks(ctx context.Context, indexURL, suffix string, links []string) error
	InvalidateAll(ctx context.Context) error
	Close() error
}

type redisListingCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopListingCache struct{}

// NewListingCache connects to Redis when caching is enabled and returns a
// no-op cache otherwise.
func NewListingCache(cfg config.CacheConfig) (ListingCache, error) {
	if !cfg.Enabled {
		return &noopListingCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	return NewRedisListingCache(client, ttl), nil
}

// NewRedisListingCache wraps an existing client.
func NewRedisListingCache(client *redis.Client, ttl time.Duration) ListingCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &redisListingCache{client: client, ttl: ttl}
}

func NewNoopListingCache() ListingCache {
	return &noopListingCache{}
}

type listingEntry struct {
	Links     []string  `json:"links"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (c *redisListingCache) GetLinks(ctx context.Context, indexURL, suffix string) ([]string, bool, error) {
	payload, err := c.client.Get(ctx, buildListingKey(indexURL, suffix)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var entry listingEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, false, fmt.Errorf("decode listing cache: %w", err)
	}

	return entry.Links, true, nil
}

func (c *redisListingCache) SetLinks(ctx context.Context, indexURL, suffix string, links []string) error {
	payload, err := json.Marshal(listingEntry{Links: links, FetchedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode listing cache: %w", err)
	}

	if err := c.client.Set(ctx, buildListingKey(indexURL, suffix), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

func (c *redisListingCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, listingKeyPrefix, scanBatchSize)
}

func (c *redisListingCache) Close() error {
	return c.client.Close()
}

func (n *noopListingCache) GetLinks(ctx context.Context, indexURL, suffix string) ([]string, bool, error) {
	return nil, false, nil
}

func (n *noopListingCache) SetLinks(ctx context.Context, indexURL, suffix string, links []string) error {
	return nil
}

func (n *noopListingCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func (n *noopListingCache) Close() error {
	return nil
}

func buildListingKey(indexURL, suffix string) string {
	hash := sha1.Sum([]byte(indexURL + "|" + suffix))
	return fmt.Sprintf("%s:%s", listingKeyPrefix, hex.EncodeToString(hash[:]))
}
