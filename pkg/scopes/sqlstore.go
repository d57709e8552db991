package scopes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLStore persists scope documents through database/sql. Documents are
// stored as normalized JSON with a version column; group mappings are
// broken out into a join table so ListByGroup stays an indexed query.
// PostgreSQL backs production; SQLite backs tests.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store on an open database handle and applies
// schema migrations
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := Migrate(context.Background(), db); err != nil {
		return nil, fmt.Errorf("failed to migrate scope schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Get retrieves a document snapshot by name
func (s *SQLStore) Get(ctx context.Context, name string) (*ScopeDocument, error) {
	query := `
		SELECT document, version, created_at, updated_at
		FROM scope_documents
		WHERE name = $1
	`

	var raw string
	var version int64
	var createdAt, updatedAt time.Time

	err := s.db.QueryRowContext(ctx, query, name).Scan(&raw, &version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Name: name}
	}
	if err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to get scope document: %w", err)}
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	doc.Version = version
	doc.CreatedAt = createdAt
	doc.UpdatedAt = updatedAt
	return doc, nil
}

// Put creates or replaces a document under optimistic concurrency
func (s *SQLStore) Put(ctx context.Context, doc *ScopeDocument, expectedVersion int64) (*ScopeDocument, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	var currentVersion int64
	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM scope_documents WHERE name = $1`, doc.Name).Scan(&currentVersion)
	switch {
	case err == nil:
		exists = true
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	default:
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to read current version: %w", err)}
	}

	if exists {
		if expectedVersion != currentVersion {
			return nil, &ConflictError{Name: doc.Name, Expected: expectedVersion, Actual: currentVersion}
		}
	} else if expectedVersion != 0 {
		return nil, &NotFoundError{Name: doc.Name}
	}

	// The vector entry survives deletion, so numbering continues across
	// delete/recreate and stale cache entries can never match.
	var vectorVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM scope_versions WHERE name = $1`, doc.Name).Scan(&vectorVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to read version vector: %w", err)}
	}

	stored := doc.Clone()
	stored.Version = vectorVersion + 1
	now := time.Now().UTC()
	stored.UpdatedAt = now
	if exists {
		err = tx.QueryRowContext(ctx,
			`SELECT created_at FROM scope_documents WHERE name = $1`, doc.Name).Scan(&stored.CreatedAt)
		if err != nil {
			return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to read created_at: %w", err)}
		}
	} else {
		stored.CreatedAt = now
	}

	raw, err := encodeDocument(stored)
	if err != nil {
		return nil, err
	}

	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE scope_documents
			SET document = $1, version = $2, updated_at = $3
			WHERE name = $4 AND version = $5
		`, raw, stored.Version, stored.UpdatedAt, doc.Name, currentVersion)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scope_documents (name, document, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, doc.Name, raw, stored.Version, stored.CreatedAt, stored.UpdatedAt)
	}
	if err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to write scope document: %w", err)}
	}

	if err := upsertVector(ctx, tx, doc.Name, stored.Version); err != nil {
		return nil, err
	}
	if err := replaceGroupMappings(ctx, tx, stored); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to commit scope document: %w", err)}
	}
	return stored, nil
}

// Delete removes a document and advances its version vector entry
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM scope_documents WHERE name = $1`, name)
	if err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to delete scope document: %w", err)}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to read delete result: %w", err)}
	}
	if affected == 0 {
		return &NotFoundError{Name: name}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scope_group_mappings WHERE scope_name = $1`, name); err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to delete group mappings: %w", err)}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE scope_versions SET version = version + 1 WHERE name = $1`, name); err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to advance version vector: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to commit delete: %w", err)}
	}
	return nil
}

// List returns snapshots of every stored document, sorted by name
func (s *SQLStore) List(ctx context.Context) ([]*ScopeDocument, error) {
	query := `
		SELECT document, version, created_at, updated_at
		FROM scope_documents
		ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to list scope documents: %w", err)}
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ListByGroup returns snapshots of documents mapped from the given group
func (s *SQLStore) ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error) {
	query := `
		SELECT d.document, d.version, d.created_at, d.updated_at
		FROM scope_documents d
		JOIN scope_group_mappings m ON m.scope_name = d.name
		WHERE m.group_name = $1
		ORDER BY d.name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, group)
	if err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to list scope documents by group: %w", err)}
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// VersionVector returns the current global version vector
func (s *SQLStore) VersionVector(ctx context.Context) (VersionVector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, version FROM scope_versions`)
	if err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to read version vector: %w", err)}
	}
	defer rows.Close()

	vector := make(VersionVector)
	for rows.Next() {
		var name string
		var version int64
		if err := rows.Scan(&name, &version); err != nil {
			return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to scan version vector: %w", err)}
		}
		vector[name] = version
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to read version vector: %w", err)}
	}
	return vector, nil
}

// Close closes the underlying database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func upsertVector(ctx context.Context, tx *sql.Tx, name string, version int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE scope_versions SET version = $1 WHERE name = $2`, version, name)
	if err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to update version vector: %w", err)}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to read vector update result: %w", err)}
	}
	if affected == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scope_versions (name, version) VALUES ($1, $2)`, name, version); err != nil {
			return &StoreUnavailableError{Err: fmt.Errorf("failed to insert version vector entry: %w", err)}
		}
	}
	return nil
}

func replaceGroupMappings(ctx context.Context, tx *sql.Tx, doc *ScopeDocument) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scope_group_mappings WHERE scope_name = $1`, doc.Name); err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to clear group mappings: %w", err)}
	}
	for _, group := range doc.GroupMappings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scope_group_mappings (scope_name, group_name) VALUES ($1, $2)`,
			doc.Name, group); err != nil {
			return &StoreUnavailableError{Err: fmt.Errorf("failed to insert group mapping: %w", err)}
		}
	}
	return nil
}

func scanDocuments(rows *sql.Rows) ([]*ScopeDocument, error) {
	var docs []*ScopeDocument
	for rows.Next() {
		var raw string
		var version int64
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&raw, &version, &createdAt, &updatedAt); err != nil {
			return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to scan scope document: %w", err)}
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		doc.Version = version
		doc.CreatedAt = createdAt
		doc.UpdatedAt = updatedAt
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to read scope documents: %w", err)}
	}
	return docs, nil
}

func encodeDocument(doc *ScopeDocument) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scope document: %w", err)
	}
	return string(raw), nil
}

func decodeDocument(raw string) (*ScopeDocument, error) {
	var doc ScopeDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope document: %w", err)
	}
	return &doc, nil
}

// IndexedStore fronts a durable store with an in-memory index so decision
// traffic never touches the database. Mutations write through and refresh;
// a background refresher (see Refresher) picks up changes made by other
// replicas.
type IndexedStore struct {
	inner Store
	index *MemoryStore

	refreshMu sync.Mutex
}

// NewIndexedStore creates the index and performs an initial load
func NewIndexedStore(ctx context.Context, inner Store) (*IndexedStore, error) {
	s := &IndexedStore{
		inner: inner,
		index: NewMemoryStore(),
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to load scope index: %w", err)
	}
	return s, nil
}

// Refresh reloads the entire index from the durable store
func (s *IndexedStore) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	docs, err := s.inner.List(ctx)
	if err != nil {
		return err
	}
	vector, err := s.inner.VersionVector(ctx)
	if err != nil {
		return err
	}
	s.index.Replace(docs, vector)
	return nil
}

// Get serves from the in-memory index
func (s *IndexedStore) Get(ctx context.Context, name string) (*ScopeDocument, error) {
	return s.index.Get(ctx, name)
}

// Put writes through to the durable store and refreshes the index
func (s *IndexedStore) Put(ctx context.Context, doc *ScopeDocument, expectedVersion int64) (*ScopeDocument, error) {
	stored, err := s.inner.Put(ctx, doc, expectedVersion)
	if err != nil {
		return nil, err
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete writes through to the durable store and refreshes the index
func (s *IndexedStore) Delete(ctx context.Context, name string) error {
	if err := s.inner.Delete(ctx, name); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// List serves from the in-memory index
func (s *IndexedStore) List(ctx context.Context) ([]*ScopeDocument, error) {
	return s.index.List(ctx)
}

// ListByGroup serves from the in-memory index
func (s *IndexedStore) ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error) {
	return s.index.ListByGroup(ctx, group)
}

// VersionVector serves from the in-memory index
func (s *IndexedStore) VersionVector(ctx context.Context) (VersionVector, error) {
	return s.index.VersionVector(ctx)
}

// Close closes the durable store
func (s *IndexedStore) Close() error {
	return s.inner.Close()
}
