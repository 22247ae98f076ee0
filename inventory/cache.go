package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ItemCache is a Redis-backed cache for item snapshots. Entries may be
// invalidated at any time; readers always fall back to the store.
type ItemCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewItemCache connects to Redis and verifies the connection.
func NewItemCache(addr string, ttl time.Duration) (*ItemCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &ItemCache{client: client, ttl: ttl}, nil
}

func (c *ItemCache) Close() error {
	return c.client.Close()
}

func itemKey(id string) string {
	return "item:" + id
}

// Get returns the cached item, or nil on a miss.
func (c *ItemCache) Get(ctx context.Context, id string) (*Item, error) {
	data, err := c.client.Get(ctx, itemKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshal cached item: %w", err)
	}
	return &item, nil
}

// Set stores an item snapshot with the cache TTL.
func (c *ItemCache) Set(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	if err := c.client.Set(ctx, itemKey(item.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshots for the given item ids.
func (c *ItemCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = itemKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
