package scopes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore provides a Redis-based caching layer in front of another Store.
// Document and group-listing reads are cached with a TTL and invalidated on
// mutation; version vector reads always pass through, since they are the
// staleness signal for everything downstream.
type RedisStore struct {
	inner Store
	redis *redis.Client
	ttl   map[string]time.Duration
}

// NewRedisStore creates a Redis cache layer over the given store
func NewRedisStore(inner Store, redisAddr string, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
		DB:       0, // use default DB
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisStoreWithClient(inner, client), nil
}

// Client exposes the underlying Redis client for health checks
func (s *RedisStore) Client() *redis.Client {
	return s.redis
}

func newRedisStoreWithClient(inner Store, client *redis.Client) *RedisStore {
	return &RedisStore{
		inner: inner,
		redis: client,
		ttl: map[string]time.Duration{
			"document": 15 * time.Minute,
			"group":    5 * time.Minute,
			"list":     5 * time.Minute,
		},
	}
}

// Get retrieves a document, trying Redis before the backing store
func (s *RedisStore) Get(ctx context.Context, name string) (*ScopeDocument, error) {
	cacheKey := fmt.Sprintf("scope:doc:%s", name)

	cached, err := s.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var doc ScopeDocument
		if err := json.Unmarshal([]byte(cached), &doc); err == nil {
			return &doc, nil
		}
	}

	doc, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(doc); err == nil {
		s.redis.Set(ctx, cacheKey, data, s.ttl["document"])
	}
	return doc, nil
}

// Put writes through to the backing store and invalidates affected keys
func (s *RedisStore) Put(ctx context.Context, doc *ScopeDocument, expectedVersion int64) (*ScopeDocument, error) {
	// The previous revision's group mappings also need invalidation when
	// the put detaches groups.
	previous, _ := s.inner.Get(ctx, doc.Name)

	stored, err := s.inner.Put(ctx, doc, expectedVersion)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, doc.Name, previous, stored)
	return stored, nil
}

// Delete removes the document from the backing store and invalidates keys
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	previous, _ := s.inner.Get(ctx, name)

	if err := s.inner.Delete(ctx, name); err != nil {
		return err
	}

	s.invalidate(ctx, name, previous, nil)
	return nil
}

// List returns all documents, trying Redis before the backing store
func (s *RedisStore) List(ctx context.Context) ([]*ScopeDocument, error) {
	cacheKey := "scope:list"

	cached, err := s.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var docs []*ScopeDocument
		if err := json.Unmarshal([]byte(cached), &docs); err == nil {
			return docs, nil
		}
	}

	docs, err := s.inner.List(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(docs); err == nil {
		s.redis.Set(ctx, cacheKey, data, s.ttl["list"])
	}
	return docs, nil
}

// ListByGroup returns group-mapped documents, trying Redis first
func (s *RedisStore) ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error) {
	cacheKey := fmt.Sprintf("scope:group:%s", group)

	cached, err := s.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var docs []*ScopeDocument
		if err := json.Unmarshal([]byte(cached), &docs); err == nil {
			return docs, nil
		}
	}

	docs, err := s.inner.ListByGroup(ctx, group)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(docs); err == nil {
		s.redis.Set(ctx, cacheKey, data, s.ttl["group"])
	}
	return docs, nil
}

// VersionVector always reads through to the backing store
func (s *RedisStore) VersionVector(ctx context.Context) (VersionVector, error) {
	return s.inner.VersionVector(ctx)
}

// Close closes the Redis connection and the backing store
func (s *RedisStore) Close() error {
	if err := s.redis.Close(); err != nil {
		s.inner.Close()
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return s.inner.Close()
}

// invalidate drops the document key, the list key, and the group listing
// keys of both the previous and the new revision
func (s *RedisStore) invalidate(ctx context.Context, name string, previous, updated *ScopeDocument) {
	keys := []string{
		fmt.Sprintf("scope:doc:%s", name),
		"scope:list",
	}
	groups := make(map[string]struct{})
	if previous != nil {
		for _, g := range previous.GroupMappings {
			groups[g] = struct{}{}
		}
	}
	if updated != nil {
		for _, g := range updated.GroupMappings {
			groups[g] = struct{}{}
		}
	}
	for g := range groups {
		keys = append(keys, fmt.Sprintf("scope:group:%s", g))
	}
	s.redis.Del(ctx, keys...)
}
