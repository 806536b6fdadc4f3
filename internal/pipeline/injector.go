package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-rag/internal/models"
	"voice-rag/internal/retriever"
)

// DefaultMinQueryLength is the rune count below which a transcription is
// not treated as a retrieval query.
const DefaultMinQueryLength = 10

// injectedContextTag prefixes context injected as a standalone system
// message so the model can tell it apart from the persona prompt.
const injectedContextTag = "[Retrieved Context]\n"

// Source produces retrieval hits for a query. *retriever.Retriever
// satisfies it.
type Source interface {
	Retrieve(ctx context.Context, query string, opts ...retriever.SearchOption) []retriever.Hit
}

// Strategy selects how retrieved context is merged into the message list.
type Strategy uint8

const (
	// StrategyAugmentSystem appends the context to the first system message.
	StrategyAugmentSystem Strategy = iota
	// StrategyInjectContext inserts the context as its own system message.
	StrategyInjectContext
)

func (s Strategy) String() string {
	if s == StrategyInjectContext {
		return "inject_context"
	}
	return "augment_system"
}

// ParseStrategy maps a config value to a Strategy. The empty string means
// the default augment_system.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "augment_system":
		return StrategyAugmentSystem, nil
	case "inject_context":
		return StrategyInjectContext, nil
	default:
		return StrategyAugmentSystem, fmt.Errorf("unknown merge strategy %q", s)
	}
}

// contextCache is a single-slot holder for the context block produced by
// the most recent transcription. take is destructive so each block is
// merged into at most one prompt.
type contextCache struct {
	pending bool
	block   string
}

func (c *contextCache) set(block string) {
	c.block = block
	c.pending = true
}

func (c *contextCache) clear() {
	c.block = ""
	c.pending = false
}

func (c *contextCache) take() (string, bool) {
	if !c.pending {
		return "", false
	}
	block := c.block
	c.clear()
	return block, true
}

// ContextInjector is a pipeline stage that watches downstream
// transcriptions, retrieves matching documents, and merges the rendered
// context into the next downstream messages frame.
//
// Each transcription overwrites any context still pending, so the prompt
// only ever carries context for the user's latest utterance.
type ContextInjector struct {
	source         Source
	strategy       Strategy
	minQueryLength int
	logger         zerolog.Logger

	mu    sync.Mutex
	cache contextCache
}

var _ Processor = (*ContextInjector)(nil)

// Option configures a ContextInjector.
type Option func(*ContextInjector)

// WithStrategy selects the merge strategy.
func WithStrategy(s Strategy) Option {
	return func(ci *ContextInjector) { ci.strategy = s }
}

// WithMinQueryLength sets the minimum rune count for a transcription to
// trigger retrieval. Zero disables the gate.
func WithMinQueryLength(n int) Option {
	return func(ci *ContextInjector) { ci.minQueryLength = n }
}

// WithLogger replaces the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(ci *ContextInjector) { ci.logger = logger }
}

// NewContextInjector builds an injector fed by the given retrieval source.
func NewContextInjector(source Source, opts ...Option) *ContextInjector {
	ci := &ContextInjector{
		source:         source,
		strategy:       StrategyAugmentSystem,
		minQueryLength: DefaultMinQueryLength,
		logger:         log.Logger,
	}
	for _, opt := range opts {
		opt(ci)
	}
	return ci
}

func (ci *ContextInjector) Name() string { return "context-injector" }

// ProcessFrame reacts to downstream transcription and messages frames.
// Everything else, and every upstream frame, passes through untouched.
func (ci *ContextInjector) ProcessFrame(ctx context.Context, frame Frame, dir Direction) (Frame, error) {
	if dir != Downstream {
		return frame, nil
	}
	switch f := frame.(type) {
	case *TranscriptionFrame:
		ci.handleTranscription(ctx, f)
		return frame, nil
	case *MessagesFrame:
		return ci.handleMessages(f), nil
	default:
		return frame, nil
	}
}

func (ci *ContextInjector) handleTranscription(ctx context.Context, f *TranscriptionFrame) {
	// gate on trimmed rune count, but retrieve with the text as spoken
	if utf8.RuneCountInString(strings.TrimSpace(f.Text)) < ci.minQueryLength {
		ci.logger.Debug().Int("min_query_length", ci.minQueryLength).Msg("transcription below query length, skipping retrieval")
		return
	}

	hits := ci.source.Retrieve(ctx, f.Text)
	if len(hits) == 0 {
		ci.mu.Lock()
		ci.cache.clear()
		ci.mu.Unlock()
		ci.logger.Debug().Msg("no documents matched, pending context cleared")
		return
	}

	block := retriever.Format(hits)
	ci.mu.Lock()
	ci.cache.set(block)
	ci.mu.Unlock()
	ci.logger.Debug().Int("hits", len(hits)).Msg("context pending injection")
}

func (ci *ContextInjector) handleMessages(f *MessagesFrame) Frame {
	ci.mu.Lock()
	block, ok := ci.cache.take()
	ci.mu.Unlock()
	if !ok {
		return f
	}

	var merged []models.Message
	switch ci.strategy {
	case StrategyInjectContext:
		merged = InjectContext(f.Messages, block)
	default:
		merged = AugmentSystem(f.Messages, block)
	}

	ci.logger.Debug().
		Stringer("strategy", ci.strategy).
		Int("messages", len(merged)).
		Msg("context injected")
	return &MessagesFrame{Messages: merged}
}

// AugmentSystem merges the context block into the first system message,
// or prepends a new system message when the list has none. The input
// slice is left unchanged.
func AugmentSystem(messages []models.Message, block string) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == models.RoleSystem {
			out[i].Content = out[i].Content + "\n\n" + block
			return out
		}
	}
	return append([]models.Message{{Role: models.RoleSystem, Content: block}}, out...)
}

// InjectContext inserts the context block as a tagged system message
// after the last leading system message and before the first user
// message. The input slice is left unchanged.
func InjectContext(messages []models.Message, block string) []models.Message {
	idx := 0
	for i, m := range messages {
		if m.Role == models.RoleSystem {
			idx = i + 1
		} else if m.Role == models.RoleUser {
			break
		}
	}

	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, messages[:idx]...)
	out = append(out, models.Message{Role: models.RoleSystem, Content: injectedContextTag + block})
	return append(out, messages[idx:]...)
}
