package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/engram/pkg/types"
)

// MemoryResponse is a single memory extracted by the model.
type MemoryResponse struct {
	Type       string  `json:"type"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResponse is the complete extraction response.
type ExtractionResponse struct {
	Memories []MemoryResponse `json:"memories"`
}

// JudgeVerdict is the parsed conflict judge response.
type JudgeVerdict struct {
	Operation types.Operation
	TargetID  string
	Reason    string
}

type judgeResponse struct {
	Operation string `json:"operation"`
	TargetID  string `json:"target_id"`
	Reason    string `json:"reason"`
}

// extractJSON extracts the first complete JSON object from text that may
// carry markdown fences or prose around it.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text
}

// ParseExtractionResponse parses the extraction JSON into candidate memories
// for turn. Items with an unknown type, an empty key or an empty value are
// skipped rather than failing the batch; only malformed JSON is an error.
func ParseExtractionResponse(raw string, turn int) ([]*types.Memory, error) {
	var resp ExtractionResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	out := make([]*types.Memory, 0, len(resp.Memories))
	for _, item := range resp.Memories {
		kind, err := types.ParseKind(item.Type)
		if err != nil {
			continue
		}
		if types.NormalizeKey(item.Key) == "" || strings.TrimSpace(item.Value) == "" {
			continue
		}
		out = append(out, types.NewMemory(kind, item.Key, item.Value, turn, item.Confidence))
	}
	return out, nil
}

// ParseJudgeResponse parses the conflict judge JSON. An unknown operation is
// an error.
func ParseJudgeResponse(raw string) (*JudgeVerdict, error) {
	var resp judgeResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse judge JSON: %w", err)
	}

	op, err := types.ParseOperation(resp.Operation)
	if err != nil {
		return nil, fmt.Errorf("invalid judge operation: %w", err)
	}

	target := strings.TrimSpace(resp.TargetID)
	if strings.EqualFold(target, "null") {
		target = ""
	}

	reason := strings.TrimSpace(resp.Reason)
	if reason == "" {
		reason = "no reason given"
	}

	return &JudgeVerdict{Operation: op, TargetID: target, Reason: reason}, nil
}
