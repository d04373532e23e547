// Package llm connects engram to language model providers. It holds the
// provider clients (Anthropic, OpenAI, Ollama), the embedders backing the
// similarity index, the extraction and judge prompts with their response
// parsers, and the extraction and generation collaborators used by the engine.
package llm

import (
	"context"

	"github.com/scrypster/engram/pkg/types"
)

// TextGenerator is the interface for single-prompt LLM completion.
// Extraction and conflict judging use this style.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// ChatGenerator produces the assistant reply for a multi-turn dialogue.
// history alternates user and assistant messages and may be empty.
type ChatGenerator interface {
	Chat(ctx context.Context, system string, history []types.Message, message string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
