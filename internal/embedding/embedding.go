package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"voice-rag/internal/config"
)

// EmbeddingError wraps a provider failure. Op is "init" when the provider
// could not be constructed and "embed" when an inference call failed or
// returned malformed output.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Embedder turns text into fixed-length vectors. EmbedDocuments results are
// aligned by position with the input. The dimension is fixed per instance
// and known before any call. No retry policy here, that belongs to callers.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Provider implements Embedder over a langchaingo embeddings client.
type Provider struct {
	impl  *embeddings.EmbedderImpl
	model string
	dim   int
}

var _ Embedder = (*Provider)(nil)

// NewProvider builds the embedder selected by cfg.Provider.
func NewProvider(cfg *config.EmbeddingConfig) (*Provider, error) {
	switch cfg.Provider {
	case "", config.ProviderOllama:
		return NewOllama(cfg)
	case config.ProviderOpenAI:
		return NewOpenAI(cfg)
	default:
		return nil, &EmbeddingError{Op: "init", Err: fmt.Errorf("unknown provider %q", cfg.Provider)}
	}
}

// NewOllama embeds through a local ollama server.
func NewOllama(cfg *config.EmbeddingConfig) (*Provider, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, &EmbeddingError{Op: "init", Err: err}
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, &EmbeddingError{Op: "init", Err: err}
	}
	return &Provider{impl: embedder, model: cfg.Model, dim: cfg.Dimension}, nil
}

// NewOpenAI embeds through any OpenAI-compatible endpoint (OpenAI,
// OpenRouter, TEI and the like).
func NewOpenAI(cfg *config.EmbeddingConfig) (*Provider, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, &EmbeddingError{Op: "init", Err: err}
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, &EmbeddingError{Op: "init", Err: err}
	}
	return &Provider{impl: embedder, model: cfg.Model, dim: cfg.Dimension}, nil
}

func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Op: "embed", Err: err}
	}
	if err := p.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, &EmbeddingError{Op: "embed", Err: err}
	}
	if len(vecs) != len(texts) {
		return nil, &EmbeddingError{Op: "embed", Err: fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(texts))}
	}
	for _, vec := range vecs {
		if err := p.checkDimension(vec); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// Dimension is the vector size every call returns.
func (p *Provider) Dimension() int { return p.dim }

// Model is the configured model identifier.
func (p *Provider) Model() string { return p.model }

func (p *Provider) checkDimension(vec []float32) error {
	if p.dim > 0 && len(vec) != p.dim {
		return &EmbeddingError{
			Op:  "embed",
			Err: fmt.Errorf("model %s returned %d dimensions, expected %d", p.model, len(vec), p.dim),
		}
	}
	return nil
}
