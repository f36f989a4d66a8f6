// cache.go

package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
)

// pageKeyPrefix namespaces the cached leaderboard pages in Redis.
const pageKeyPrefix = "leaderboard:page:"

// Cache is the fast read path for leaderboard pages.
type Cache interface {
	GetPage(ctx context.Context, limit, offset int) ([]models.LeaderboardEntry, bool)
	SetPage(ctx context.Context, limit, offset int, entries []models.LeaderboardEntry, ttl time.Duration)
	InvalidateAll(ctx context.Context) error
}

// RedisCache stores pages as JSON strings with a TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates the Redis-backed page cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// pageKey builds the cache key for one (limit, offset) page.
func pageKey(limit, offset int) string {
	return fmt.Sprintf("%s%d:%d", pageKeyPrefix, limit, offset)
}

// GetPage returns a cached page. Any Redis failure reads as a miss.
func (c *RedisCache) GetPage(ctx context.Context, limit, offset int) ([]models.LeaderboardEntry, bool) {
	data, err := c.client.Get(ctx, pageKey(limit, offset)).Result()
	if err != nil {
		return nil, false
	}

	var entries []models.LeaderboardEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, false
	}
	return entries, true
}

// SetPage stores a page, best effort.
func (c *RedisCache) SetPage(ctx context.Context, limit, offset int, entries []models.LeaderboardEntry, ttl time.Duration) {
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	c.client.Set(ctx, pageKey(limit, offset), data, ttl)
}

// InvalidateAll drops every cached page. Any rating change can reorder
// interior ranks, so per-player invalidation is not enough.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, pageKeyPrefix+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// MemoryCache is an in-process page cache used when Redis is absent.
type MemoryCache struct {
	entries map[string]memoryEntry
	mutex   sync.RWMutex
}

type memoryEntry struct {
	data      []models.LeaderboardEntry
	expiresAt time.Time
}

// NewMemoryCache creates the in-process page cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// GetPage returns a cached page if it has not expired.
func (c *MemoryCache) GetPage(_ context.Context, limit, offset int) ([]models.LeaderboardEntry, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.entries[pageKey(limit, offset)]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

// SetPage stores a page.
func (c *MemoryCache) SetPage(_ context.Context, limit, offset int, entries []models.LeaderboardEntry, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[pageKey(limit, offset)] = memoryEntry{data: entries, expiresAt: time.Now().Add(ttl)}
}

// InvalidateAll drops every cached page.
func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}
