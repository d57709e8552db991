package scopes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpgate/mcpgate/pkg/observability"
)

// FileStore keeps scope documents as JSON/YAML files in a directory,
// suitable for small deployments that manage policy through version control.
// It watches the directory with fsnotify and rebuilds its in-memory index
// when files change; the version vector lives in memory and advances on
// every observed change, so cached permission sets invalidate as usual.
type FileStore struct {
	dir       string
	validator *Validator
	logger    *observability.Logger

	index   *MemoryStore
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore loads all documents from dir and starts watching for changes
func NewFileStore(dir string, logger *observability.Logger) (*FileStore, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &FileStore{
		dir:       dir,
		validator: NewValidator(),
		logger:    logger.WithField("component", "filestore"),
		index:     NewMemoryStore(),
		done:      make(chan struct{}),
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch scope directory: %w", err)
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

// reload reparses every scope file and swaps the index. Version continuity
// comes from comparing each parsed document against the current index entry:
// unchanged documents keep their version, changed or new ones advance it,
// and vanished names advance their vector entry without a document.
func (s *FileStore) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to read scope directory: %w", err)}
	}

	ctx := context.Background()
	current, _ := s.index.List(ctx)
	vector, _ := s.index.VersionVector(ctx)
	byName := make(map[string]*ScopeDocument, len(current))
	for _, doc := range current {
		byName[doc.Name] = doc
	}

	next := make([]*ScopeDocument, 0, len(entries))
	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		doc, err := s.parseFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.WithError(err).WithField("file", entry.Name()).Warn("skipping invalid scope file")
			continue
		}
		if _, dup := seen[doc.Name]; dup {
			s.logger.WithField("scope", doc.Name).Warn("duplicate scope name in directory, keeping first")
			continue
		}
		seen[doc.Name] = struct{}{}

		if prev, ok := byName[doc.Name]; ok && documentsEqual(prev, doc) {
			doc.Version = prev.Version
			doc.CreatedAt = prev.CreatedAt
			doc.UpdatedAt = prev.UpdatedAt
		} else {
			doc.Version = vector[doc.Name] + 1
			vector[doc.Name] = doc.Version
			now := time.Now().UTC()
			if ok {
				doc.CreatedAt = prev.CreatedAt
			} else {
				doc.CreatedAt = now
			}
			doc.UpdatedAt = now
		}
		next = append(next, doc)
	}

	// Names no longer on disk advance their vector entry so dependent
	// cached sets go stale.
	for name := range byName {
		if _, ok := seen[name]; !ok {
			vector[name]++
		}
	}

	s.index.Replace(next, vector)
	return nil
}

func (s *FileStore) parseFile(path string) (*ScopeDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope file: %w", err)
	}

	var doc *ScopeDocument
	var result *ValidationResult
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		doc, result = s.validator.ParseAndValidate(raw)
	case ".yaml", ".yml":
		doc, result = s.validator.ParseAndValidateYAML(raw)
	default:
		return nil, fmt.Errorf("unsupported scope file extension: %s", filepath.Ext(path))
	}
	if !result.Valid {
		return nil, fmt.Errorf("scope file failed validation: %v", result.Errors[0])
	}
	return doc, nil
}

func (s *FileStore) watch() {
	// Editors write files in bursts; coalesce events before reloading.
	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("scope directory watch error")
		case <-timerC:
			timerC = nil
			if err := s.reload(); err != nil {
				s.logger.WithError(err).Error("failed to reload scope directory")
			} else {
				s.logger.Info("scope directory reloaded")
			}
		}
	}
}

// Get retrieves a document snapshot by name
func (s *FileStore) Get(ctx context.Context, name string) (*ScopeDocument, error) {
	return s.index.Get(ctx, name)
}

// Put creates or replaces a document and persists it as a JSON file
func (s *FileStore) Put(ctx context.Context, doc *ScopeDocument, expectedVersion int64) (*ScopeDocument, error) {
	stored, err := s.index.Put(ctx, doc, expectedVersion)
	if err != nil {
		return nil, err
	}

	raw, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scope document: %w", err)
	}
	path := filepath.Join(s.dir, fileNameFor(stored.Name))
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return nil, &StoreUnavailableError{Err: fmt.Errorf("failed to write scope file: %w", err)}
	}
	return stored, nil
}

// Delete removes a document and its backing file
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := s.index.Delete(ctx, name); err != nil {
		return err
	}
	path := filepath.Join(s.dir, fileNameFor(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StoreUnavailableError{Err: fmt.Errorf("failed to remove scope file: %w", err)}
	}
	return nil
}

// List returns snapshots of every stored document
func (s *FileStore) List(ctx context.Context) ([]*ScopeDocument, error) {
	return s.index.List(ctx)
}

// ListByGroup returns snapshots of documents mapped from the given group
func (s *FileStore) ListByGroup(ctx context.Context, group string) ([]*ScopeDocument, error) {
	return s.index.ListByGroup(ctx, group)
}

// VersionVector returns the current global version vector
func (s *FileStore) VersionVector(ctx context.Context) (VersionVector, error) {
	return s.index.VersionVector(ctx)
}

// Close stops the directory watcher
func (s *FileStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// fileNameFor maps a scope name to an on-disk file name; scope names may
// contain slashes, which are not valid in file names
func fileNameFor(name string) string {
	return strings.ReplaceAll(name, "/", "__") + ".json"
}

// documentsEqual compares the policy content of two documents, ignoring
// version and timestamp metadata
func documentsEqual(a, b *ScopeDocument) bool {
	ca, cb := a.Clone(), b.Clone()
	ca.Version, cb.Version = 0, 0
	ca.CreatedAt, cb.CreatedAt = time.Time{}, time.Time{}
	ca.UpdatedAt, cb.UpdatedAt = time.Time{}, time.Time{}
	ra, err := json.Marshal(ca)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(cb)
	if err != nil {
		return false
	}
	return string(ra) == string(rb)
}
