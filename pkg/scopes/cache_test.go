package scopes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingStore counts ListByGroup calls so tests can observe recomputes
type countingStore struct {
	Store
	listCalls atomic.Int64
	fail      atomic.Bool
}

func (s *countingStore) ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error) {
	if s.fail.Load() {
		return nil, &StoreUnavailableError{Err: errors.New("connection refused")}
	}
	s.listCalls.Add(1)
	return s.Store.ListByGroup(ctx, group)
}

func (s *countingStore) VersionVector(ctx context.Context) (VersionVector, error) {
	if s.fail.Load() {
		return nil, &StoreUnavailableError{Err: errors.New("connection refused")}
	}
	return s.Store.VersionVector(ctx)
}

func newTestCache(t *testing.T, store Store) *PermissionCache {
	t.Helper()
	cache, err := NewPermissionCache(NewResolver(store), store, 16, time.Minute)
	if err != nil {
		t.Fatalf("NewPermissionCache() error = %v", err)
	}
	return cache
}

func TestCacheHitAndMiss(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	mustPut(t, inner, testDoc("developers", "eng"))
	store := &countingStore{Store: inner}
	cache := newTestCache(t, store)

	set1, err := cache.GetOrCompute(ctx, "alice@example.com", []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}
	set2, err := cache.GetOrCompute(ctx, "alice@example.com", []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}
	if set1 != set2 {
		t.Error("second call should return the cached set")
	}
	if calls := store.listCalls.Load(); calls != 1 {
		t.Errorf("store list calls = %v, want 1", calls)
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Recomputes != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss / 1 recompute", stats)
	}
}

func TestCacheGroupOrderInsensitive(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	mustPut(t, inner, testDoc("developers", "eng"))
	store := &countingStore{Store: inner}
	cache := newTestCache(t, store)

	if _, err := cache.GetOrCompute(ctx, "alice", []string{"eng", "platform"}); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetOrCompute(ctx, "alice", []string{"platform", "eng"}); err != nil {
		t.Fatal(err)
	}

	if stats := cache.Stats(); stats.Recomputes != 1 {
		t.Errorf("recomputes = %v, want 1 (group order must not change the key)", stats.Recomputes)
	}
}

func TestCacheInvalidatedByVersionBump(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	doc := mustPut(t, inner, testDoc("developers", "eng"))
	store := &countingStore{Store: inner}
	cache := newTestCache(t, store)

	set, err := cache.GetOrCompute(ctx, "alice", []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}
	if !set.AllowsServerCall("github", "tools/call", "create_issue") {
		t.Fatal("setup: expected initial grant")
	}

	// Mutating the document advances the vector; the cached set no longer
	// covers and must be recomputed on the next read.
	updated := testDoc("developers", "eng")
	updated.ServerAccess = nil
	if _, err := inner.Put(ctx, updated, doc.Version); err != nil {
		t.Fatal(err)
	}

	set, err = cache.GetOrCompute(ctx, "alice", []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}
	if set.AllowsServerCall("github", "tools/call", "create_issue") {
		t.Error("stale grant served after version bump")
	}
	if stats := cache.Stats(); stats.Recomputes != 2 {
		t.Errorf("recomputes = %v, want 2", stats.Recomputes)
	}
}

func TestCacheInvalidatedByDelete(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	mustPut(t, inner, testDoc("developers", "eng"))
	cache := newTestCache(t, inner)

	set, err := cache.GetOrCompute(ctx, "alice", []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}
	if set.Empty() {
		t.Fatal("setup: expected non-empty set")
	}

	if err := inner.Delete(ctx, "developers"); err != nil {
		t.Fatal(err)
	}

	set, err = cache.GetOrCompute(ctx, "alice", []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}
	if !set.Empty() {
		t.Error("deleted document still contributing grants")
	}
}

func TestCacheSingleFlight(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	mustPut(t, inner, testDoc("developers", "eng"))
	store := &countingStore{Store: inner}
	cache := newTestCache(t, store)

	const callers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := cache.GetOrCompute(ctx, "alice", []string{"eng"}); err != nil {
				t.Error(err)
			}
		}()
	}
	close(start)
	wg.Wait()

	// Concurrent misses for the same key collapse into few resolves; far
	// fewer than one per caller.
	if calls := store.listCalls.Load(); calls >= callers/2 {
		t.Errorf("store list calls = %v for %v concurrent callers", calls, callers)
	}
}

func TestCacheDegradedServing(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	mustPut(t, inner, testDoc("developers", "eng"))
	store := &countingStore{Store: inner}
	cache := newTestCache(t, store)

	// Warm the last-known-good entry.
	warm, err := cache.GetOrCompute(ctx, "alice", []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}
	if warm.Degraded {
		t.Fatal("setup: warm set should not be degraded")
	}

	store.fail.Store(true)

	set, err := cache.GetOrCompute(ctx, "alice", []string{"eng"})
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v, want degraded set", err)
	}
	if !set.Degraded {
		t.Error("set served during outage should be flagged Degraded")
	}
	if !set.AllowsServerCall("github", "tools/call", "create_issue") {
		t.Error("degraded set lost its grants")
	}

	// No last-known-good for a never-seen key: the failure surfaces.
	_, err = cache.GetOrCompute(ctx, "stranger", []string{"eng"})
	if !IsStoreUnavailable(err) {
		t.Errorf("error = %v, want StoreUnavailableError", err)
	}

	// Store recovers; fresh sets lose the degraded flag.
	store.fail.Store(false)
	cache.Purge()
	set, err = cache.GetOrCompute(ctx, "alice", []string{"eng"})
	if err != nil {
		t.Fatal(err)
	}
	if set.Degraded {
		t.Error("set after recovery should not be degraded")
	}
}

func TestCachePurgeKeepsLastGood(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	mustPut(t, inner, testDoc("developers", "eng"))
	store := &countingStore{Store: inner}
	cache := newTestCache(t, store)

	if _, err := cache.GetOrCompute(ctx, "alice", []string{"eng"}); err != nil {
		t.Fatal(err)
	}

	cache.Purge()
	store.fail.Store(true)

	set, err := cache.GetOrCompute(ctx, "alice", []string{"eng"})
	if err != nil {
		t.Fatalf("GetOrCompute() after purge during outage error = %v", err)
	}
	if !set.Degraded {
		t.Error("expected degraded last-known-good after purge")
	}
}
