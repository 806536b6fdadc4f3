package retriever

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-rag/internal/chromemdb"
	"voice-rag/internal/ingest"
	"voice-rag/internal/store"
)

type fakeSearcher struct {
	results  []store.SearchResult
	err      error
	calls    int
	gotLimit int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, limit int) ([]store.SearchResult, error) {
	f.calls++
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeEmbedder struct {
	vec     []float32
	err     error
	queries []string
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func result(id string, distance float32) store.SearchResult {
	return store.SearchResult{
		Document: store.Document{ID: id, Content: "content of " + id},
		Distance: distance,
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(0))
	assert.Equal(t, 0.5, Similarity(1))
	assert.Equal(t, 0.25, Similarity(3))
	assert.Greater(t, Similarity(0.1), Similarity(0.2))
	assert.Greater(t, Similarity(100), 0.0)
}

func TestRetrieveDefaults(t *testing.T) {
	searcher := &fakeSearcher{results: []store.SearchResult{
		result("near", 0.2), // similarity 0.833
		result("far", 1.0),  // similarity 0.5
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, WithLogger(zerolog.Nop()))

	hits := r.Retrieve(context.Background(), "query")

	assert.Equal(t, DefaultMatchCount, searcher.gotLimit)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].ID)
}

func TestRetrieveThresholdInclusive(t *testing.T) {
	searcher := &fakeSearcher{results: []store.SearchResult{
		result("boundary", 1.0), // similarity exactly 0.5
		result("below", 1.5),    // similarity 0.4
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}},
		WithThreshold(0.5), WithLogger(zerolog.Nop()))

	hits := r.Retrieve(context.Background(), "query")

	require.Len(t, hits, 1)
	assert.Equal(t, "boundary", hits[0].ID)
	assert.Equal(t, 0.5, hits[0].Similarity)
}

func TestRetrievePreservesStoreOrder(t *testing.T) {
	// the store's ranking is authoritative even when distances disagree
	searcher := &fakeSearcher{results: []store.SearchResult{
		result("first", 0.8),
		result("second", 0.2),
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}},
		WithThreshold(0), WithLogger(zerolog.Nop()))

	hits := r.Retrieve(context.Background(), "query")

	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].ID)
	assert.Equal(t, "second", hits[1].ID)
}

func TestRetrieveEmptyQueryStillEmbeds(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{1}}
	r := NewRetriever(&fakeSearcher{}, embedder, WithLogger(zerolog.Nop()))

	hits := r.Retrieve(context.Background(), "")

	assert.Empty(t, hits)
	assert.Equal(t, []string{""}, embedder.queries)
}

func TestRetrieveEmbedFailureDegrades(t *testing.T) {
	searcher := &fakeSearcher{}
	r := NewRetriever(searcher, &fakeEmbedder{err: errors.New("provider down")},
		WithLogger(zerolog.Nop()))

	hits := r.Retrieve(context.Background(), "query")

	assert.Nil(t, hits)
	assert.Zero(t, searcher.calls)
}

func TestRetrieveSearchFailureDegrades(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("store down")}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, WithLogger(zerolog.Nop()))

	assert.Nil(t, r.Retrieve(context.Background(), "query"))
}

func TestRetrieveNilDependencies(t *testing.T) {
	r := NewRetriever(nil, nil, WithLogger(zerolog.Nop()))

	assert.Nil(t, r.Retrieve(context.Background(), "query"))
}

func TestRetrievePerCallOverrides(t *testing.T) {
	searcher := &fakeSearcher{results: []store.SearchResult{
		result("near", 0.2), // similarity 0.833
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, WithLogger(zerolog.Nop()))

	hits := r.Retrieve(context.Background(), "query", WithLimit(1), WithMinSimilarity(0.9))
	assert.Equal(t, 1, searcher.gotLimit)
	assert.Empty(t, hits)

	// overrides do not stick to the retriever
	hits = r.Retrieve(context.Background(), "query")
	assert.Equal(t, DefaultMatchCount, searcher.gotLimit)
	assert.Len(t, hits, 1)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "", Format(nil))
	assert.Equal(t, "", Format([]Hit{}))

	one := Format([]Hit{{Content: "foo"}})
	assert.Equal(t, "Relevant information about me:\n\n[1] foo", one)

	two := Format([]Hit{{Content: "likes sushi"}, {Content: "lives in Oslo"}})
	assert.Equal(t, "Relevant information about me:\n\n[1] likes sushi\n\n[2] lives in Oslo", two)
}

func TestFormatPure(t *testing.T) {
	hits := []Hit{{ID: "a", Content: "foo", Similarity: 0.9}}

	first := Format(hits)
	second := Format(hits)

	assert.Equal(t, first, second)
	assert.Equal(t, []Hit{{ID: "a", Content: "foo", Similarity: 0.9}}, hits)
}

// bagEmbedder is a deterministic embedder counting vocabulary words, with
// a constant tail component so no vector is ever zero.
type bagEmbedder struct {
	vocab []string
}

func (e *bagEmbedder) embed(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.vocab)+1)
	for i, w := range e.vocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	vec[len(e.vocab)] = 1
	return vec
}

func (e *bagEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *bagEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func TestRetrieveEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "notes.md"),
		"I enjoy hiking in the mountains.\n\nMy favorite food is sushi.")
	writeFile(t, filepath.Join(dir, "weather.txt"),
		"The weather report says rain tomorrow.")

	docs, err := ingest.Collect(dir, []string{"*.md", "*.txt"}, 40)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	st, err := chromemdb.Open(filepath.Join(t.TempDir(), "kb"), "documents",
		chromemdb.WithInMemory(), chromemdb.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	emb := &bagEmbedder{vocab: []string{"hiking", "mountains", "food", "sushi", "weather", "rain"}}
	n, err := ingest.Run(ctx, st, emb, docs)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	r := NewRetriever(st, emb, WithLogger(zerolog.Nop()))
	hits := r.Retrieve(ctx, "What food do I like?")

	require.Len(t, hits, 1)
	assert.Equal(t, "My favorite food is sushi.", hits[0].Content)
	assert.Equal(t, "notes.md", hits[0].Metadata["source"])
	assert.GreaterOrEqual(t, hits[0].Similarity, 0.5)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
