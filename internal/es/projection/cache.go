// Package projection maintains the queryable read-model for one aggregate
// category: a tenant-partitioned latest-state cache fed by the category
// stream, never authoritative, safe to discard and rebuild at any time.
package projection

import (
	"context"
	"encoding/json"
	"sync"

	"meridian/pkg/domain"
	"meridian/pkg/platform/sentinel"
)

// Cache is the keyed latest-state storage behind a projection store. The
// in-process implementation backs unit tests and single-node deployments;
// the redis implementation shares the projection across instances.
type Cache interface {
	GetOne(ctx context.Context, tenant domain.Tenant, key string) (json.RawMessage, error)
	GetMany(ctx context.Context, tenant domain.Tenant, keys []string) ([]json.RawMessage, error)
	GetAllValues(ctx context.Context, tenant domain.Tenant) ([]json.RawMessage, error)
	Write(ctx context.Context, tenant domain.Tenant, key string, value json.RawMessage) error
	Delete(ctx context.Context, tenant domain.Tenant, key string) error
	Exists(ctx context.Context, tenant domain.Tenant, key string) (bool, error)
}

// MemoryCache is the in-process Cache: a map of tenant partitions mutated by
// the single subscription writer and read by concurrent query callers. Each
// write replaces the whole value for a key, never read-modify-write.
type MemoryCache struct {
	mu      sync.RWMutex
	tenants map[domain.Tenant]map[string]json.RawMessage
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tenants: make(map[domain.Tenant]map[string]json.RawMessage)}
}

func (c *MemoryCache) GetOne(_ context.Context, tenant domain.Tenant, key string) (json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.tenants[tenant][key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return value, nil
}

// GetMany returns the values for the keys that exist; missing keys are
// skipped, not errors.
func (c *MemoryCache) GetMany(_ context.Context, tenant domain.Tenant, keys []string) ([]json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	partition := c.tenants[tenant]
	values := make([]json.RawMessage, 0, len(keys))
	for _, key := range keys {
		if value, ok := partition[key]; ok {
			values = append(values, value)
		}
	}
	return values, nil
}

func (c *MemoryCache) GetAllValues(_ context.Context, tenant domain.Tenant) ([]json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	partition := c.tenants[tenant]
	values := make([]json.RawMessage, 0, len(partition))
	for _, value := range partition {
		values = append(values, value)
	}
	return values, nil
}

func (c *MemoryCache) Write(_ context.Context, tenant domain.Tenant, key string, value json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	partition, ok := c.tenants[tenant]
	if !ok {
		partition = make(map[string]json.RawMessage)
		c.tenants[tenant] = partition
	}
	partition[key] = value
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, tenant domain.Tenant, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenants[tenant], key)
	return nil
}

func (c *MemoryCache) Exists(_ context.Context, tenant domain.Tenant, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tenants[tenant][key]
	return ok, nil
}
