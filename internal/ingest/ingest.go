// Package ingest turns knowledge source files into embedded documents in
// the store. Files split into paragraph-aligned chunks, chunks embed in
// one batch, and the batch appends to the store. Unlike the serving path,
// ingestion fails loudly.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"voice-rag/internal/parser"
	"voice-rag/internal/store"
)

// DefaultMaxChunkChars caps chunk size when no budget is configured.
const DefaultMaxChunkChars = 2000

// Embedder embeds a batch of chunk texts.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Collect scans dir for files matching the glob patterns and returns
// their chunked, not yet embedded documents. Files that cannot be parsed
// are logged and skipped; empty files produce nothing.
func Collect(dir string, patterns []string, maxChars int) ([]store.Document, error) {
	var docs []store.Document
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		for _, path := range matches {
			fileDocs, err := collectFile(path, maxChars)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("skipping unreadable source file")
				continue
			}
			docs = append(docs, fileDocs...)
		}
	}
	return docs, nil
}

func collectFile(path string, maxChars int) ([]store.Document, error) {
	content, err := parser.ExtractFile(path)
	if err != nil {
		return nil, err
	}
	chunks := SplitChunks(content, maxChars)
	if len(chunks) == 0 {
		return nil, nil
	}

	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	total := strconv.Itoa(len(chunks))

	docs := make([]store.Document, 0, len(chunks))
	for i, chunk := range chunks {
		id := stem
		if len(chunks) > 1 {
			id = fmt.Sprintf("%s_%d", stem, i)
		}
		docs = append(docs, store.Document{
			ID:      id,
			Content: chunk,
			Metadata: map[string]string{
				"source":       name,
				"chunk_index":  strconv.Itoa(i),
				"total_chunks": total,
			},
		})
	}
	return docs, nil
}

// SplitChunks splits content on blank lines and packs the trimmed
// paragraphs into chunks of at most maxChars bytes, joined the way they
// were separated. A single paragraph over the budget is truncated at a
// rune boundary rather than split mid-thought.
func SplitChunks(content string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var chunks []string
	var current string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > maxChars {
			para = truncate(para, maxChars)
		}
		switch {
		case current == "":
			current = para
		case len(current)+len(para)+2 > maxChars:
			chunks = append(chunks, current)
			current = para
		default:
			current = current + "\n\n" + para
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Run embeds the documents in one batch and appends them to the store,
// returning how many were stored.
func Run(ctx context.Context, st store.Store, emb Embedder, docs []store.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vecs) != len(docs) {
		return 0, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(docs), len(vecs))
	}
	for i := range docs {
		docs[i].Embedding = vecs[i]
	}

	return st.Append(ctx, docs)
}
