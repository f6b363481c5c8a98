// Package llm provides the chat clients behind the reasoning step. Each
// provider converts the provider-neutral [Message] and tool schemas to
// its own wire format and back.
package llm

import (
	"context"
	"errors"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools are OpenAI-style function definitions.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// ErrMalformedOutput marks a provider response that could not be turned
// into a message, such as tool-call arguments that are not valid JSON.
var ErrMalformedOutput = errors.New("malformed model output")
