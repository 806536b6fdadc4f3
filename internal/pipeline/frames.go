// Package pipeline moves typed frames through an ordered chain of
// processors, the way a voice agent shuttles transcriptions and prompt
// messages between transport and model services.
package pipeline

import (
	"time"

	"voice-rag/internal/models"
)

// Frame is any unit of data traveling through the pipeline. Processors
// pass frames they do not recognize through untouched.
type Frame any

// Direction tells a processor which way a frame is traveling.
type Direction int

const (
	// Downstream frames travel from transport toward the model.
	Downstream Direction = iota
	// Upstream frames travel from the model back toward transport.
	Upstream
)

func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// StartFrame opens a session.
type StartFrame struct{}

// EndFrame closes a session.
type EndFrame struct{}

// TranscriptionFrame carries a final utterance from speech recognition.
type TranscriptionFrame struct {
	Text      string
	UserID    string
	Timestamp time.Time
}

// InterimTranscriptionFrame carries a provisional utterance that is still
// subject to revision.
type InterimTranscriptionFrame struct {
	Text      string
	UserID    string
	Timestamp time.Time
}

// MessagesFrame carries the conversation history on its way to the model.
type MessagesFrame struct {
	Messages []models.Message
}
