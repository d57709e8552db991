package scopes

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := NewMemoryStore()
	store := newRedisStoreWithClient(inner, client)
	return store, inner, mr
}

func TestRedisStoreGetCaches(t *testing.T) {
	ctx := context.Background()
	store, inner, mr := newTestRedisStore(t)
	mustPut(t, inner, testDoc("developers", "eng"))

	doc, err := store.Get(ctx, "developers")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.Name != "developers" {
		t.Errorf("Name = %v, want developers", doc.Name)
	}
	if !mr.Exists("scope:doc:developers") {
		t.Error("document not cached in redis after read")
	}

	// Second read is served from redis even if the backing store changes
	// underneath; the TTL and invalidation bound the staleness.
	if err := inner.Delete(ctx, "developers"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "developers"); err != nil {
		t.Errorf("Get() from cache error = %v", err)
	}
}

func TestRedisStorePutInvalidates(t *testing.T) {
	ctx := context.Background()
	store, _, mr := newTestRedisStore(t)

	stored, err := store.Put(ctx, testDoc("developers", "eng"), 0)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Warm document, list, and group keys.
	if _, err := store.Get(ctx, "developers"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ListByGroup(ctx, "eng"); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"scope:doc:developers", "scope:list", "scope:group:eng"} {
		if !mr.Exists(key) {
			t.Fatalf("setup: key %s not warmed", key)
		}
	}

	// Remapping the document to a different group invalidates both the old
	// and the new group listings.
	remapped := testDoc("developers", "platform")
	if _, err := store.Put(ctx, remapped, stored.Version); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	for _, key := range []string{"scope:doc:developers", "scope:list", "scope:group:eng"} {
		if mr.Exists(key) {
			t.Errorf("key %s not invalidated by put", key)
		}
	}

	docs, err := store.ListByGroup(ctx, "platform")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("ListByGroup(platform) = %d docs, want 1", len(docs))
	}
}

func TestRedisStoreDeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	store, _, mr := newTestRedisStore(t)

	if _, err := store.Put(ctx, testDoc("developers", "eng"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ListByGroup(ctx, "eng"); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, "developers"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mr.Exists("scope:group:eng") {
		t.Error("group listing not invalidated by delete")
	}
	if _, err := store.Get(ctx, "developers"); !IsNotFound(err) {
		t.Errorf("Get() after delete error = %v, want NotFoundError", err)
	}
}

func TestRedisStoreVersionVectorPassesThrough(t *testing.T) {
	ctx := context.Background()
	store, inner, _ := newTestRedisStore(t)

	if _, err := store.Put(ctx, testDoc("developers", "eng"), 0); err != nil {
		t.Fatal(err)
	}

	// Mutate the backing store directly; the vector must reflect it
	// immediately since it is the staleness signal for everything else.
	doc, _ := inner.Get(ctx, "developers")
	if _, err := inner.Put(ctx, testDoc("developers", "eng"), doc.Version); err != nil {
		t.Fatal(err)
	}

	vector, err := store.VersionVector(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if vector["developers"] != 2 {
		t.Errorf("vector = %v, want uncached value 2", vector["developers"])
	}
}
