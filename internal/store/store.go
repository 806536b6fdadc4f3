// Package store defines the document store contract shared by the embedded
// chromem backend and the postgres/pgvector backend.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks a store that cannot be opened or read. Callers on
// the retrieval path recover from it by behaving as if there were no hits.
var ErrUnavailable = errors.New("document store unavailable")

// Document is one stored knowledge chunk.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// SearchResult is a document returned from a similarity search together
// with the backend's raw distance. Lower distance means closer; the metric
// itself (cosine distance, L2) is backend-specific and normalized by the
// retriever.
type SearchResult struct {
	Document
	Distance float32
}

// Store is an append-oriented vector store. Opening a missing location
// succeeds and reads as empty; the serving path never updates or deletes.
type Store interface {
	// Append inserts the batch and returns the number of documents stored.
	// Documents without an id get a synthetic one, see EnsureIDs.
	Append(ctx context.Context, docs []Document) (int, error)
	// Search returns up to limit nearest documents by the backend's native
	// distance metric, closest first.
	Search(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error)
	// Count reports the total number of stored documents, 0 when the
	// store location holds nothing yet.
	Count(ctx context.Context) (int, error)
	// Reset drops all documents so an ingestion run can start clean.
	Reset(ctx context.Context) error
	Close() error
}

// EnsureIDs assigns a positional doc_{i} id to every document whose id is
// empty. Synthetic ids are unique within one batch only; callers that
// append across batches should supply their own ids.
func EnsureIDs(docs []Document) []Document {
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = fmt.Sprintf("doc_%d", i)
		}
	}
	return docs
}
