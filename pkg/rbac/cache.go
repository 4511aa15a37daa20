package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned by a PermissionCache when the key is absent
var ErrCacheMiss = errors.New("cache miss")

// PermissionCache stores grant lookups keyed by matrix cell
type PermissionCache interface {
	Get(ctx context.Context, key GrantKey) ([]RolePermission, error)
	Set(ctx context.Context, key GrantKey, perms []RolePermission) error
	Invalidate(ctx context.Context, key GrantKey) error
	Purge(ctx context.Context) error
	Type() string
}

// LRUCache is an in-process PermissionCache with per-entry TTL
type LRUCache struct {
	cache *lru.LRU[GrantKey, []RolePermission]
}

// NewLRUCache creates an LRU cache holding at most size entries
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size < 10 {
		size = 10
	}
	return &LRUCache{cache: lru.NewLRU[GrantKey, []RolePermission](size, nil, ttl)}
}

func (c *LRUCache) Get(ctx context.Context, key GrantKey) ([]RolePermission, error) {
	perms, ok := c.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return clonePermissions(perms), nil
}

func (c *LRUCache) Set(ctx context.Context, key GrantKey, perms []RolePermission) error {
	c.cache.Add(key, clonePermissions(perms))
	return nil
}

func (c *LRUCache) Invalidate(ctx context.Context, key GrantKey) error {
	c.cache.Remove(key)
	return nil
}

func (c *LRUCache) Purge(ctx context.Context) error {
	c.cache.Purge()
	return nil
}

func (c *LRUCache) Type() string { return "lru" }

// Len returns the number of cached entries
func (c *LRUCache) Len() int { return c.cache.Len() }

// RedisKeyPrefix prefixes every key written by RedisCache
const RedisKeyPrefix = "pinaka:rbac:grant:"

// RedisCache is a PermissionCache shared across instances through Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) key(key GrantKey) string {
	return RedisKeyPrefix + key.String()
}

func (c *RedisCache) Get(ctx context.Context, key GrantKey) ([]RolePermission, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var perms []RolePermission
	if err := json.Unmarshal(data, &perms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached grants: %w", err)
	}
	return perms, nil
}

func (c *RedisCache) Set(ctx context.Context, key GrantKey, perms []RolePermission) error {
	if perms == nil {
		perms = []RolePermission{}
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, key GrantKey) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Purge removes every key under RedisKeyPrefix
func (c *RedisCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan redis keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to purge redis keys: %w", err)
	}
	return nil
}

func (c *RedisCache) Type() string { return "redis" }

// CachedStore is a read-through MatrixStore. Cache failures fall back to
// the wrapped store and are only logged.
type CachedStore struct {
	MatrixStore
	cache   PermissionCache
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewCachedStore wraps store with cache
func NewCachedStore(store MatrixStore, cache PermissionCache, logger logrus.FieldLogger, metrics *observability.Metrics) *CachedStore {
	return &CachedStore{
		MatrixStore: store,
		cache:       cache,
		logger:      observability.OrNop(logger),
		metrics:     metrics,
	}
}

// FindGrants serves from cache and populates it on miss
func (s *CachedStore) FindGrants(ctx context.Context, key GrantKey) ([]RolePermission, error) {
	perms, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		s.metrics.RecordCacheHit(s.cache.Type())
		return perms, nil
	case errors.Is(err, ErrCacheMiss):
		s.metrics.RecordCacheMiss(s.cache.Type())
	default:
		s.cacheError("get", key, err)
	}

	perms, err = s.MatrixStore.FindGrants(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, perms); err != nil {
		s.cacheError("set", key, err)
	}
	return perms, nil
}

// UpsertPermission writes through and invalidates the cell
func (s *CachedStore) UpsertPermission(ctx context.Context, role RoleName, category Category, resource string, action Action, conditions Conditions) (*RolePermission, error) {
	perm, err := s.MatrixStore.UpsertPermission(ctx, role, category, resource, action, conditions)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, perm.Key()); err != nil {
		s.cacheError("invalidate", perm.Key(), err)
	}
	return perm, nil
}

// Purge drops every cached entry
func (s *CachedStore) Purge(ctx context.Context) error {
	if err := s.cache.Purge(ctx); err != nil {
		s.metrics.RecordCacheError(s.cache.Type(), "purge")
		return fmt.Errorf("failed to purge permission cache: %w", err)
	}
	return nil
}

func (s *CachedStore) cacheError(op string, key GrantKey, err error) {
	s.metrics.RecordCacheError(s.cache.Type(), op)
	s.logger.WithFields(logrus.Fields{
		"cache": s.cache.Type(),
		"op":    op,
		"key":   key.String(),
	}).WithError(err).Warn("permission cache failure")
}

func clonePermissions(perms []RolePermission) []RolePermission {
	if perms == nil {
		return nil
	}
	out := make([]RolePermission, len(perms))
	for i := range perms {
		out[i] = *clonePermission(&perms[i])
	}
	return out
}
