package scopes

import (
	"context"
	"time"

	"github.com/mcpgate/mcpgate/pkg/observability"
)

// InstrumentedStore decorates a Store with Prometheus operation metrics.
// The backend label identifies the configured store type.
type InstrumentedStore struct {
	inner   Store
	backend string
	metrics *observability.Metrics
}

// NewInstrumentedStore wraps the store with operation instrumentation
func NewInstrumentedStore(inner Store, backend string, metrics *observability.Metrics) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, backend: backend, metrics: metrics}
}

func (s *InstrumentedStore) observe(operation string, start time.Time, err error) {
	s.metrics.RecordStoreOperation(operation, s.backend, err, time.Since(start))
}

// Get retrieves a document snapshot by name
func (s *InstrumentedStore) Get(ctx context.Context, name string) (*ScopeDocument, error) {
	start := time.Now()
	doc, err := s.inner.Get(ctx, name)
	s.observe("get", start, err)
	return doc, err
}

// Put creates or replaces a document
func (s *InstrumentedStore) Put(ctx context.Context, doc *ScopeDocument, expectedVersion int64) (*ScopeDocument, error) {
	start := time.Now()
	stored, err := s.inner.Put(ctx, doc, expectedVersion)
	s.observe("put", start, err)
	return stored, err
}

// Delete removes a document
func (s *InstrumentedStore) Delete(ctx context.Context, name string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, name)
	s.observe("delete", start, err)
	return err
}

// List returns snapshots of every stored document
func (s *InstrumentedStore) List(ctx context.Context) ([]*ScopeDocument, error) {
	start := time.Now()
	docs, err := s.inner.List(ctx)
	s.observe("list", start, err)
	return docs, err
}

// ListByGroup returns snapshots of every document mapping the group
func (s *InstrumentedStore) ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error) {
	start := time.Now()
	docs, err := s.inner.ListByGroup(ctx, group)
	s.observe("list_by_group", start, err)
	return docs, err
}

// VersionVector returns the current global version vector
func (s *InstrumentedStore) VersionVector(ctx context.Context) (VersionVector, error) {
	start := time.Now()
	vector, err := s.inner.VersionVector(ctx)
	s.observe("version_vector", start, err)
	return vector, err
}

// Close releases the underlying store's resources
func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
