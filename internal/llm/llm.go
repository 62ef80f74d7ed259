package llm

import (
	"context"

	"studybuddy/internal/domain"
)

// Message is a single turn sent to a model.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Delta is one increment of a streamed completion. A Delta with Err set is
// the last one sent; the channel is closed afterwards either way.
type Delta struct {
	Content string
	Err     error
}

// Generator produces chat completions.
type Generator interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (string, error)
	// Stream returns a channel of content increments. Cancelling ctx stops the
	// stream and closes the channel.
	Stream(ctx context.Context, messages []Message) (<-chan Delta, error)
}

// KnownProviders maps OpenAI-compatible provider presets to their base URLs.
var KnownProviders = map[string]string{
	"openai": "https://api.openai.com/v1",
	"groq":   "https://api.groq.com/openai/v1",
	"ollama": "http://localhost:11434/v1",
}
