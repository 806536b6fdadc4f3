// Package chromemdb backs the document store with chromem-go, an embedded
// pure-Go vector database persisted to a local directory.
package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-rag/internal/store"
)

// Store implements store.Store on top of a chromem collection. Documents
// and queries always carry embeddings computed upstream, so the collection
// is created without an embedding func.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection

	name          string
	path          string
	inMemory      bool
	compress      bool
	encryptionKey string
	logger        zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store before it is opened.
type Option func(*Store)

// WithInMemory keeps the database in memory instead of persisting to disk.
func WithInMemory() Option {
	return func(s *Store) { s.inMemory = true }
}

// WithCompression gzips persisted collection files and snapshots.
func WithCompression(on bool) Option {
	return func(s *Store) { s.compress = on }
}

// WithEncryptionKey encrypts snapshots written by Export. The key must be
// 32 bytes long.
func WithEncryptionKey(key string) Option {
	return func(s *Store) { s.encryptionKey = key }
}

// WithLogger replaces the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens the collection at path, creating both when missing. A fresh
// path reads as an empty store.
func Open(path, collection string, opts ...Option) (*Store, error) {
	s := &Store{
		name:   collection,
		path:   path,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.inMemory {
		s.db = chromem.NewDB()
	} else {
		s.db, err = chromem.NewPersistentDB(path, s.compress)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", store.ErrUnavailable, path, err)
		}
	}

	s.collection, err = s.db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", store.ErrUnavailable, collection, err)
	}

	s.logger.Debug().
		Str("path", path).
		Str("collection", collection).
		Int("documents", s.collection.Count()).
		Msg("document store opened")
	return s, nil
}

// Append stores the batch and returns how many documents were written.
// Documents without an id get a positional one.
func (s *Store) Append(ctx context.Context, docs []store.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	docs = store.EnsureIDs(docs)

	batch := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		batch = append(batch, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: d.Embedding,
		})
	}
	if err := s.collection.AddDocuments(ctx, batch, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("add %d documents: %w", len(batch), err)
	}

	s.logger.Debug().Int("count", len(batch)).Str("collection", s.name).Msg("documents appended")
	return len(batch), nil
}

// Search returns up to limit nearest documents, closest first. chromem
// reports cosine similarity on normalized vectors, so the distance is
// 1 - similarity.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]store.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	// chromem rejects queries asking for more results than stored documents.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", s.name, err)
	}

	out := make([]store.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, store.SearchResult{
			Document: store.Document{
				ID:        r.ID,
				Content:   r.Content,
				Metadata:  r.Metadata,
				Embedding: r.Embedding,
			},
			Distance: 1 - r.Similarity,
		})
	}
	return out, nil
}

// Count reports the number of stored documents.
func (s *Store) Count(_ context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Reset drops and recreates the collection.
func (s *Store) Reset(_ context.Context) error {
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("delete collection %s: %w", s.name, err)
	}
	col, err := s.db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("recreate collection %s: %w", s.name, err)
	}
	s.collection = col
	s.logger.Debug().Str("collection", s.name).Msg("collection reset")
	return nil
}

// Close is a no-op; chromem persists on every write.
func (s *Store) Close() error { return nil }

// Export writes a snapshot of the collection to path, encrypted when an
// encryption key is configured. An empty path derives one next to the
// database directory.
func (s *Store) Export(path string) error {
	if path == "" {
		path = filepath.Join(s.path, s.name+".chromem")
	}
	if err := s.db.ExportToFile(path, s.compress, s.encryptionKey, s.name); err != nil {
		return fmt.Errorf("export to %s: %w", path, err)
	}
	s.logger.Info().Str("path", path).Str("collection", s.name).Msg("snapshot exported")
	return nil
}

// Import loads a snapshot written by Export into this store. The snapshot
// must have been written with the same encryption key.
func (s *Store) Import(path string) error {
	if err := s.db.ImportFromFile(path, s.encryptionKey); err != nil {
		return fmt.Errorf("import from %s: %w", path, err)
	}
	// The import rebuilds collection state inside the DB; refresh the handle.
	col, err := s.db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("collection %s after import: %w", s.name, err)
	}
	s.collection = col
	s.logger.Info().Str("path", path).Str("collection", s.name).Int("documents", col.Count()).Msg("snapshot imported")
	return nil
}
