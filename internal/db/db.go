// Package db backs the document store with Postgres and the pgvector
// extension, for deployments that keep the knowledge base in a managed
// database (Supabase and friends) instead of on local disk.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"voice-rag/internal/config"
	"voice-rag/internal/store"
)

// Document is the row model for one stored knowledge chunk.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID        int64             `bun:"id,pk,autoincrement"`
	DocID     string            `bun:"doc_id,notnull,unique"`
	Content   string            `bun:"content,notnull"`
	Metadata  map[string]string `bun:"metadata,type:jsonb"`
	Embedding pgvector.Vector   `bun:"embedding,notnull"`
	Distance  float64           `bun:"distance,scanonly"`
}

// Store implements store.Store on a Postgres table with a vector column.
// Distances use the cosine operator so results line up with the embedded
// backend.
type Store struct {
	db     *bun.DB
	table  string
	dim    int
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store before it is opened.
type Option func(*Store)

// WithLogger replaces the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open connects to the database at cfg.DSN and prepares the vector table,
// creating the extension, table and index when missing. dim is the width
// of the embedding column.
func Open(ctx context.Context, cfg *config.StoreConfig, dim int, opts ...Option) (*Store, error) {
	s := &Store{
		table:  cfg.Table,
		dim:    dim,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.db = connect(cfg.DSN, cfg.Debug)
	if err := s.db.PingContext(ctx); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("%w: ping: %v", store.ErrUnavailable, err)
	}
	if err := s.init(ctx); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", store.ErrUnavailable, err)
	}

	s.logger.Debug().Str("table", s.table).Int("dimension", dim).Msg("document store opened")
	return s, nil
}

func connect(dsn string, debug bool) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(debug),
		bundebug.FromEnv("BUNDEBUG"),
	))
	return db
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS ? (id BIGSERIAL PRIMARY KEY, doc_id VARCHAR UNIQUE NOT NULL, content TEXT NOT NULL, metadata JSONB NOT NULL DEFAULT '{}', embedding VECTOR(?) NOT NULL)",
		bun.Ident(s.table), bun.Safe(strconv.Itoa(s.dim)))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	// hnsw needs pgvector >= 0.5; searching works without the index
	_, err = s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS ? ON ? USING hnsw (embedding vector_cosine_ops)",
		bun.Ident(s.table+"_embedding_idx"), bun.Ident(s.table))
	if err != nil {
		s.logger.Warn().Err(err).Str("table", s.table).Msg("hnsw index unavailable, continuing without")
	}
	return nil
}

// Append upserts the batch keyed by doc_id and returns how many documents
// were written. Documents without an id get a positional one.
func (s *Store) Append(ctx context.Context, docs []store.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	docs = store.EnsureIDs(docs)

	rows := make([]Document, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, Document{
			DocID:     d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: pgvector.NewVector(d.Embedding),
		})
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		On("CONFLICT (doc_id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("metadata = EXCLUDED.metadata").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert %d documents: %w", len(rows), err)
	}

	s.logger.Debug().Int("count", len(rows)).Str("table", s.table).Msg("documents appended")
	return len(rows), nil
}

// Search returns up to limit nearest documents by cosine distance,
// closest first.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]store.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(embedding)

	var rows []Document
	err := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Column("doc_id", "content", "metadata").
		ColumnExpr("embedding <=> ? AS distance", vec).
		OrderExpr("embedding <=> ?", vec).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("query table %s: %w", s.table, err)
	}

	out := make([]store.SearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.SearchResult{
			Document: store.Document{
				ID:       r.DocID,
				Content:  r.Content,
				Metadata: r.Metadata,
			},
			Distance: float32(r.Distance),
		})
	}
	return out, nil
}

// Count reports the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	count, err := s.db.NewSelect().
		TableExpr("? AS d", bun.Ident(s.table)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count table %s: %w", s.table, err)
	}
	return count, nil
}

// Reset empties the table, keeping schema and index in place.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE ?", bun.Ident(s.table)); err != nil {
		return fmt.Errorf("truncate table %s: %w", s.table, err)
	}
	s.logger.Debug().Str("table", s.table).Msg("table truncated")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
