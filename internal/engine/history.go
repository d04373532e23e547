package engine

import "github.com/scrypster/engram/pkg/types"

// AppendHistory appends a completed exchange and then truncates to the most
// recent window messages, rounded down to whole pairs. Oldest messages go
// first; survivors keep their order.
func AppendHistory(history []types.Message, user, assistant string, window int) []types.Message {
	out := make([]types.Message, 0, len(history)+2)
	out = append(out, history...)
	out = append(out,
		types.Message{Role: types.RoleUser, Content: user},
		types.Message{Role: types.RoleAssistant, Content: assistant},
	)

	window -= window % 2
	if len(out) > window {
		out = append([]types.Message(nil), out[len(out)-window:]...)
	}
	return out
}

// SanitizeHistory prepares history for a generation call. Exchanges whose
// response was a generation error are dropped together with their user
// message, and any message that breaks user/assistant alternation is
// discarded, so the result alternates strictly and ends on an assistant turn.
func SanitizeHistory(history []types.Message) []types.Message {
	out := make([]types.Message, 0, len(history))
	for i := 0; i < len(history); i++ {
		if history[i].Role != types.RoleUser {
			continue
		}
		if i+1 >= len(history) || history[i+1].Role != types.RoleAssistant {
			continue
		}
		reply := history[i+1]
		i++
		if types.IsErrorTagged(reply.Content) {
			continue
		}
		out = append(out, history[i-1], reply)
	}
	return out
}
