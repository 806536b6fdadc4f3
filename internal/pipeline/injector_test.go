package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-rag/internal/models"
	"voice-rag/internal/retriever"
)

type fakeSource struct {
	queue   [][]retriever.Hit
	hits    []retriever.Hit
	queries []string
}

func (f *fakeSource) Retrieve(_ context.Context, query string, _ ...retriever.SearchOption) []retriever.Hit {
	f.queries = append(f.queries, query)
	if len(f.queue) > 0 {
		h := f.queue[0]
		f.queue = f.queue[1:]
		return h
	}
	return f.hits
}

func hit(content string) retriever.Hit {
	return retriever.Hit{Content: content, Similarity: 0.9}
}

func newTestInjector(src Source, opts ...Option) *ContextInjector {
	opts = append(opts, WithLogger(zerolog.Nop()))
	return NewContextInjector(src, opts...)
}

func process(t *testing.T, ci *ContextInjector, frame Frame) Frame {
	t.Helper()
	out, err := ci.ProcessFrame(context.Background(), frame, Downstream)
	require.NoError(t, err)
	return out
}

const longQuery = "tell me about my favorite food"

func TestInjectorMergesOnNextMessagesFrame(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src)

	process(t, ci, &TranscriptionFrame{Text: longQuery})

	out := process(t, ci, &MessagesFrame{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "You are helpful."},
		{Role: models.RoleUser, Content: longQuery},
	}})

	merged, ok := out.(*MessagesFrame)
	require.True(t, ok)
	require.Len(t, merged.Messages, 2)
	assert.Equal(t,
		"You are helpful.\n\nRelevant information about me:\n\n[1] likes sushi",
		merged.Messages[0].Content)
	assert.Equal(t, longQuery, merged.Messages[1].Content)
}

func TestInjectorTranscriptForwardedUnmodified(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src)

	frame := &TranscriptionFrame{Text: longQuery, UserID: "u1"}
	out := process(t, ci, frame)

	assert.Same(t, frame, out)
	assert.Equal(t, longQuery, frame.Text)
}

func TestInjectorRetrievesWithRawText(t *testing.T) {
	src := &fakeSource{}
	ci := newTestInjector(src)

	raw := "  " + longQuery + "  "
	process(t, ci, &TranscriptionFrame{Text: raw})

	require.Len(t, src.queries, 1)
	assert.Equal(t, raw, src.queries[0])
}

func TestInjectorShortQuerySkipsRetrieval(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src)

	process(t, ci, &TranscriptionFrame{Text: "hi"})

	assert.Empty(t, src.queries)
	out := process(t, ci, &MessagesFrame{Messages: []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}})
	frame, ok := out.(*MessagesFrame)
	require.True(t, ok)
	require.Len(t, frame.Messages, 1)
}

func TestInjectorShortQueryLeavesPendingContext(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src)

	process(t, ci, &TranscriptionFrame{Text: longQuery})
	process(t, ci, &TranscriptionFrame{Text: "ok"})

	out := process(t, ci, &MessagesFrame{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "You are helpful."},
	}})
	merged, ok := out.(*MessagesFrame)
	require.True(t, ok)
	assert.Contains(t, merged.Messages[0].Content, "[1] likes sushi")
	assert.Len(t, src.queries, 1)
}

func TestInjectorWhitespaceOnlyQueryGated(t *testing.T) {
	src := &fakeSource{}
	ci := newTestInjector(src)

	process(t, ci, &TranscriptionFrame{Text: "                    "})

	assert.Empty(t, src.queries)
}

func TestInjectorLastQueryWins(t *testing.T) {
	src := &fakeSource{queue: [][]retriever.Hit{
		{hit("likes sushi")},
		{hit("lives in Oslo")},
	}}
	ci := newTestInjector(src)

	process(t, ci, &TranscriptionFrame{Text: "tell me about my favorite food"})
	process(t, ci, &TranscriptionFrame{Text: "tell me about where I live now"})

	out := process(t, ci, &MessagesFrame{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
	}})
	merged := out.(*MessagesFrame)
	assert.Contains(t, merged.Messages[0].Content, "lives in Oslo")
	assert.NotContains(t, merged.Messages[0].Content, "likes sushi")
}

func TestInjectorMergesExactlyOnce(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src)

	process(t, ci, &TranscriptionFrame{Text: longQuery})

	first := process(t, ci, &MessagesFrame{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
	}})
	assert.Contains(t, first.(*MessagesFrame).Messages[0].Content, "likes sushi")

	// the cache was consumed, the second prompt passes through as is
	second := &MessagesFrame{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
	}}
	out := process(t, ci, second)
	assert.Same(t, second, out)
	assert.Equal(t, "persona", second.Messages[0].Content)
}

func TestInjectorZeroHitsClearsPending(t *testing.T) {
	src := &fakeSource{queue: [][]retriever.Hit{
		{hit("likes sushi")},
		nil,
	}}
	ci := newTestInjector(src)

	process(t, ci, &TranscriptionFrame{Text: "tell me about my favorite food"})
	process(t, ci, &TranscriptionFrame{Text: "something entirely unrelated"})

	frame := &MessagesFrame{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
	}}
	out := process(t, ci, frame)
	assert.Same(t, frame, out)
}

func TestInjectorUpstreamPassThrough(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src)

	frame := &TranscriptionFrame{Text: longQuery}
	out, err := ci.ProcessFrame(context.Background(), frame, Upstream)
	require.NoError(t, err)

	assert.Same(t, frame, out)
	assert.Empty(t, src.queries)
}

func TestInjectorIgnoresInterimAndUnknownFrames(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src)

	interim := &InterimTranscriptionFrame{Text: longQuery}
	out := process(t, ci, interim)
	assert.Same(t, interim, out)
	assert.Empty(t, src.queries)

	start := StartFrame{}
	out = process(t, ci, start)
	assert.Equal(t, start, out)
}

func TestInjectorInputMessagesNotMutated(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src)

	process(t, ci, &TranscriptionFrame{Text: longQuery})

	original := []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: longQuery},
	}
	process(t, ci, &MessagesFrame{Messages: original})

	assert.Equal(t, "persona", original[0].Content)
	assert.Len(t, original, 2)
}

func TestInjectorMinQueryLengthZeroDisablesGate(t *testing.T) {
	src := &fakeSource{}
	ci := newTestInjector(src, WithMinQueryLength(0))

	process(t, ci, &TranscriptionFrame{Text: ""})

	assert.Equal(t, []string{""}, src.queries)
}

func TestInjectorCountsRunesNotBytes(t *testing.T) {
	src := &fakeSource{}
	ci := newTestInjector(src, WithMinQueryLength(8))

	// five runes, fifteen bytes
	process(t, ci, &TranscriptionFrame{Text: "こんにちは"})

	assert.Empty(t, src.queries)
}

func TestAugmentSystemNoSystemMessage(t *testing.T) {
	out := AugmentSystem([]models.Message{
		{Role: models.RoleUser, Content: "hello"},
	}, "ctx block")

	require.Len(t, out, 2)
	assert.Equal(t, models.Message{Role: models.RoleSystem, Content: "ctx block"}, out[0])
	assert.Equal(t, models.RoleUser, out[1].Role)
}

func TestAugmentSystemFirstSystemOnly(t *testing.T) {
	out := AugmentSystem([]models.Message{
		{Role: models.RoleSystem, Content: "first"},
		{Role: models.RoleSystem, Content: "second"},
	}, "ctx block")

	assert.Equal(t, "first\n\nctx block", out[0].Content)
	assert.Equal(t, "second", out[1].Content)
}

func TestInjectContextPlacement(t *testing.T) {
	tests := []struct {
		name     string
		messages []models.Message
		wantIdx  int
	}{
		{
			name:     "empty list",
			messages: nil,
			wantIdx:  0,
		},
		{
			name: "user first",
			messages: []models.Message{
				{Role: models.RoleUser, Content: "hi"},
			},
			wantIdx: 0,
		},
		{
			name: "after leading systems",
			messages: []models.Message{
				{Role: models.RoleSystem, Content: "a"},
				{Role: models.RoleSystem, Content: "b"},
				{Role: models.RoleUser, Content: "hi"},
			},
			wantIdx: 2,
		},
		{
			name: "system after assistant still counts",
			messages: []models.Message{
				{Role: models.RoleAssistant, Content: "a"},
				{Role: models.RoleSystem, Content: "b"},
				{Role: models.RoleUser, Content: "hi"},
			},
			wantIdx: 2,
		},
		{
			name: "no user message",
			messages: []models.Message{
				{Role: models.RoleSystem, Content: "a"},
				{Role: models.RoleAssistant, Content: "b"},
			},
			wantIdx: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := InjectContext(tt.messages, "ctx block")

			require.Len(t, out, len(tt.messages)+1)
			assert.Equal(t, models.RoleSystem, out[tt.wantIdx].Role)
			assert.Equal(t, "[Retrieved Context]\nctx block", out[tt.wantIdx].Content)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAugmentSystem, s)

	s, err = ParseStrategy("augment_system")
	require.NoError(t, err)
	assert.Equal(t, StrategyAugmentSystem, s)

	s, err = ParseStrategy("inject_context")
	require.NoError(t, err)
	assert.Equal(t, StrategyInjectContext, s)

	_, err = ParseStrategy("mystery")
	assert.Error(t, err)
}

func TestInjectorInjectContextStrategy(t *testing.T) {
	src := &fakeSource{hits: []retriever.Hit{hit("likes sushi")}}
	ci := newTestInjector(src, WithStrategy(StrategyInjectContext))

	process(t, ci, &TranscriptionFrame{Text: longQuery})

	out := process(t, ci, &MessagesFrame{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: longQuery},
	}})
	merged := out.(*MessagesFrame)
	require.Len(t, merged.Messages, 3)
	assert.Equal(t, "persona", merged.Messages[0].Content)
	assert.Equal(t,
		"[Retrieved Context]\nRelevant information about me:\n\n[1] likes sushi",
		merged.Messages[1].Content)
	assert.Equal(t, models.RoleUser, merged.Messages[2].Role)
}
