package llm

import (
	"context"
	"fmt"

	"github.com/scrypster/engram/pkg/types"
)

// Responder generates assistant replies with a ChatGenerator. Failures are
// returned as text tagged with types.GenerationErrorPrefix.
type Responder struct {
	chat ChatGenerator
}

// NewResponder creates a Responder over chat.
func NewResponder(chat ChatGenerator) *Responder {
	return &Responder{chat: chat}
}

// Generate returns the reply to message, or an error-tagged string.
func (r *Responder) Generate(ctx context.Context, system, message string, history []types.Message) string {
	reply, err := r.chat.Chat(ctx, system, history, message)
	if err != nil {
		return fmt.Sprintf("%s: %v]", types.GenerationErrorPrefix, err)
	}
	if reply == "" {
		return types.GenerationErrorPrefix + ": empty response]"
	}
	return reply
}
