// Package retriever performs semantic search over the document store and
// renders the hits into a context block for prompt injection.
//
// Retrieval sits on the live conversation path, so it never propagates
// failures: an unreachable store or embedding provider degrades to zero
// hits with a warning, and the conversation continues without context.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-rag/internal/store"
)

const (
	// DefaultMatchCount is how many hits a search returns unless overridden.
	DefaultMatchCount = 3
	// DefaultThreshold is the minimum similarity a hit must reach.
	DefaultThreshold = 0.7
)

// formatHeader leads the rendered context block.
const formatHeader = "Relevant information about me:"

// Searcher is the slice of the document store the retriever needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]store.SearchResult, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Hit is one retrieved document with its similarity to the query.
type Hit struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float64
}

// Retriever embeds queries and searches the store, keeping hits at or
// above the similarity threshold in the store's nearest-first order.
type Retriever struct {
	searcher Searcher
	embedder QueryEmbedder
	limit    int
	minSim   float64
	logger   zerolog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMatchCount sets the default number of hits per search.
func WithMatchCount(n int) Option {
	return func(r *Retriever) { r.limit = n }
}

// WithThreshold sets the default minimum similarity.
func WithThreshold(s float64) Option {
	return func(r *Retriever) { r.minSim = s }
}

// WithLogger replaces the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// NewRetriever builds a Retriever over the given store and embedder.
func NewRetriever(searcher Searcher, embedder QueryEmbedder, opts ...Option) *Retriever {
	r := &Retriever{
		searcher: searcher,
		embedder: embedder,
		limit:    DefaultMatchCount,
		minSim:   DefaultThreshold,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SearchOption overrides retrieval parameters for a single call.
type SearchOption func(*searchParams)

type searchParams struct {
	limit  int
	minSim float64
}

// WithLimit overrides the number of hits for this search.
func WithLimit(n int) SearchOption {
	return func(p *searchParams) { p.limit = n }
}

// WithMinSimilarity overrides the similarity threshold for this search.
func WithMinSimilarity(s float64) SearchOption {
	return func(p *searchParams) { p.minSim = s }
}

// Retrieve embeds the query and returns matching documents, nearest first.
// The query is embedded as given, even when empty. Any failure returns no
// hits; the caller cannot tell an error from an empty result and is not
// meant to.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...SearchOption) []Hit {
	params := searchParams{limit: r.limit, minSim: r.minSim}
	for _, opt := range opts {
		opt(&params)
	}

	if r.searcher == nil || r.embedder == nil {
		r.logger.Warn().Msg("retriever not fully configured, continuing without context")
		return nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		r.logger.Warn().Err(err).Int("query_len", len(query)).Msg("query embedding failed, continuing without context")
		return nil
	}

	results, err := r.searcher.Search(ctx, vec, params.limit)
	if err != nil {
		r.logger.Warn().Err(err).Msg("document search failed, continuing without context")
		return nil
	}

	var hits []Hit
	for _, res := range results {
		sim := Similarity(float64(res.Distance))
		if sim < params.minSim {
			continue
		}
		hits = append(hits, Hit{
			ID:         res.ID,
			Content:    res.Content,
			Metadata:   res.Metadata,
			Similarity: sim,
		})
	}

	r.logger.Debug().
		Int("results", len(results)).
		Int("hits", len(hits)).
		Float64("min_similarity", params.minSim).
		Msg("retrieval done")
	return hits
}

// Similarity converts a raw distance into a score in (0, 1], where 0
// distance maps to 1. The mapping is monotonic, so threshold comparisons
// order the same way regardless of the store's distance metric.
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

// Format renders hits into the context block injected into prompts. No
// hits renders to the empty string.
func Format(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	parts := make([]string, 0, len(hits)+1)
	parts = append(parts, formatHeader)
	for i, h := range hits {
		parts = append(parts, fmt.Sprintf("\n[%d] %s", i+1, h.Content))
	}
	return strings.Join(parts, "\n")
}
