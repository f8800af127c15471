package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"meridian/pkg/domain"
	"meridian/pkg/platform/sentinel"
)

// RedisCache is the externalized Cache for deployments where multiple
// instances serve queries from one shared projection. Keys are hash fields
// under one tenant-scoped hash, so GetAllValues is a single HVALS and Write
// stays an atomic per-key replace.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a redis-backed projection cache. The prefix
// namespaces categories so two projections can share one redis database.
func NewRedisCache(client *redis.Client, keyPrefix string) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if keyPrefix == "" {
		return nil, fmt.Errorf("key prefix is required")
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}, nil
}

func (c *RedisCache) tenantKey(tenant domain.Tenant) string {
	return c.keyPrefix + ":" + tenant.String()
}

func (c *RedisCache) GetOne(ctx context.Context, tenant domain.Tenant, key string) (json.RawMessage, error) {
	value, err := c.client.HGet(ctx, c.tenantKey(tenant), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hget %s/%s: %w", tenant, key, err)
	}
	return json.RawMessage(value), nil
}

// GetMany returns the values for the keys that exist; missing keys are
// skipped, not errors.
func (c *RedisCache) GetMany(ctx context.Context, tenant domain.Tenant, keys []string) ([]json.RawMessage, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := c.client.HMGet(ctx, c.tenantKey(tenant), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget %s: %w", tenant, err)
	}
	values := make([]json.RawMessage, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			values = append(values, json.RawMessage(s))
		}
	}
	return values, nil
}

func (c *RedisCache) GetAllValues(ctx context.Context, tenant domain.Tenant) ([]json.RawMessage, error) {
	raw, err := c.client.HVals(ctx, c.tenantKey(tenant)).Result()
	if err != nil {
		return nil, fmt.Errorf("hvals %s: %w", tenant, err)
	}
	values := make([]json.RawMessage, 0, len(raw))
	for _, v := range raw {
		values = append(values, json.RawMessage(v))
	}
	return values, nil
}

func (c *RedisCache) Write(ctx context.Context, tenant domain.Tenant, key string, value json.RawMessage) error {
	if err := c.client.HSet(ctx, c.tenantKey(tenant), key, string(value)).Err(); err != nil {
		return fmt.Errorf("hset %s/%s: %w", tenant, key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, tenant domain.Tenant, key string) error {
	if err := c.client.HDel(ctx, c.tenantKey(tenant), key).Err(); err != nil {
		return fmt.Errorf("hdel %s/%s: %w", tenant, key, err)
	}
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, tenant domain.Tenant, key string) (bool, error) {
	n, err := c.client.HExists(ctx, c.tenantKey(tenant), key).Result()
	if err != nil {
		return false, fmt.Errorf("hexists %s/%s: %w", tenant, key, err)
	}
	return n, nil
}

// Clear drops a tenant's whole partition. Used by rebuilds; the projection
// is a cache, discarding it is always safe.
func (c *RedisCache) Clear(ctx context.Context, tenant domain.Tenant) error {
	return c.client.Del(ctx, c.tenantKey(tenant)).Err()
}
