package scopes

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the durable keyed storage for scope documents. Every successful
// mutation increments the document's version and advances the global version
// vector entry for its name. Reads return immutable snapshots.
type Store interface {
	// Get retrieves a document snapshot by name
	Get(ctx context.Context, name string) (*ScopeDocument, error)

	// Put creates or replaces a document. expectedVersion must be 0 for a
	// create and the current version for an update; a mismatch fails with
	// ConflictError. Returns the stored snapshot carrying the new version.
	Put(ctx context.Context, doc *ScopeDocument, expectedVersion int64) (*ScopeDocument, error)

	// Delete removes a document; fails with NotFoundError if absent. The
	// version vector entry for the name advances so dependent cached
	// permission sets go stale.
	Delete(ctx context.Context, name string) error

	// List returns snapshots of every stored document
	List(ctx context.Context) ([]*ScopeDocument, error)

	// ListByGroup returns snapshots of every document whose group_mappings
	// include the given group name
	ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error)

	// VersionVector returns the current global version vector
	VersionVector(ctx context.Context) (VersionVector, error)

	// Close releases store resources
	Close() error
}

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and small
// single-node deployments, and serves as the hot index in front of the SQL
// store so decisions never touch durable storage.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*ScopeDocument
	vector VersionVector
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*ScopeDocument),
		vector: make(VersionVector),
	}
}

// Get retrieves a document snapshot by name
func (s *MemoryStore) Get(ctx context.Context, name string) (*ScopeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return doc.Clone(), nil
}

// Put creates or replaces a document under optimistic concurrency
func (s *MemoryStore) Put(ctx context.Context, doc *ScopeDocument, expectedVersion int64) (*ScopeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.docs[doc.Name]
	if exists {
		if expectedVersion != existing.Version {
			return nil, &ConflictError{Name: doc.Name, Expected: expectedVersion, Actual: existing.Version}
		}
	} else if expectedVersion != 0 {
		return nil, &NotFoundError{Name: doc.Name}
	}

	stored := doc.Clone()
	// Version numbering continues across delete/recreate so stale cache
	// entries can never match a recreated document.
	stored.Version = s.vector[doc.Name] + 1
	now := time.Now().UTC()
	if exists {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.docs[doc.Name] = stored
	s.vector[doc.Name] = stored.Version
	return stored.Clone(), nil
}

// Delete removes a document and advances its version vector entry
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[name]; !ok {
		return &NotFoundError{Name: name}
	}
	delete(s.docs, name)
	s.vector[name]++
	return nil
}

// List returns snapshots of every stored document, sorted by name
func (s *MemoryStore) List(ctx context.Context) ([]*ScopeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ScopeDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListByGroup returns snapshots of documents mapped from the given group
func (s *MemoryStore) ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ScopeDocument
	for _, doc := range s.docs {
		if doc.MapsGroup(group) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// VersionVector returns a copy of the current global version vector
func (s *MemoryStore) VersionVector(ctx context.Context) (VersionVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vector.Clone(), nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// Replace swaps the entire document set atomically, preserving version
// continuity for names that survive. Used by the index refresher and the
// file-backed store on reload.
func (s *MemoryStore) Replace(docs []*ScopeDocument, vector VersionVector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[string]*ScopeDocument, len(docs))
	for _, doc := range docs {
		s.docs[doc.Name] = doc.Clone()
	}
	s.vector = vector.Clone()
}
