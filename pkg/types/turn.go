package types

import (
	"strings"
	"time"
)

// GenerationErrorPrefix marks a response produced by a failed generation call.
// Such responses are shown to the user but never replayed as dialogue.
const GenerationErrorPrefix = "[generation error"

// IsErrorTagged reports whether a response was produced by a failed call.
func IsErrorTagged(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), GenerationErrorPrefix)
}

// Message is one entry of the rolling dialogue history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Decision is the curator's verdict for one candidate memory.
type Decision struct {
	Operation Operation `json:"operation"`
	Candidate *Memory   `json:"candidate"`
	TargetID  string    `json:"target_id,omitempty"`
	Reason    string    `json:"reason"`
}

// Extraction is the output of the extraction collaborator.
type Extraction struct {
	Candidates  []*Memory `json:"candidates"`
	FilteredIn  []*Memory `json:"filtered_in"`
	FilteredOut []*Memory `json:"filtered_out"`
}

// Retrieval is the context assembled for a single turn.
type Retrieval struct {
	Memories       []*Memory `json:"memories"`
	PromptBlock    string    `json:"prompt_block"`
	TotalTokens    int       `json:"total_tokens"`
	SemanticHits   int       `json:"semantic_hits"`
	StructuralHits int       `json:"structural_hits"`
}

// OperationCounts tallies curator decisions by operation.
type OperationCounts map[Operation]int

// NewOperationCounts returns counts with every operation present at zero.
func NewOperationCounts() OperationCounts {
	counts := make(OperationCounts, len(AllOperations))
	for _, op := range AllOperations {
		counts[op] = 0
	}
	return counts
}

// Tally counts the operations of the given decisions.
func Tally(decisions []Decision) OperationCounts {
	counts := NewOperationCounts()
	for _, d := range decisions {
		counts[d.Operation]++
	}
	return counts
}

// BackgroundOutcome is what a turn's background curation produced.
type BackgroundOutcome struct {
	Extracted     int             `json:"extracted"`
	MemoriesAdded []*Memory       `json:"memories_added"`
	Evicted       []string        `json:"evicted"`
	CuratorOps    OperationCounts `json:"curator_ops"`
}

// TurnResult reports everything that happened during one turn.
type TurnResult struct {
	Turn          int             `json:"turn"`
	UserMessage   string          `json:"user_message"`
	Response      string          `json:"response"`
	MemoriesUsed  []*Memory       `json:"memories_used"`
	MemoriesAdded []*Memory       `json:"memories_added"`
	Evicted       []string        `json:"evicted"`
	PromptBlock   string          `json:"prompt_block"`
	Latency       time.Duration   `json:"latency"`
	Extracted     int             `json:"extracted"`
	CuratorOps    OperationCounts `json:"curator_ops"`

	// Pending is set while the background curation has not been merged.
	Pending bool `json:"pending"`
	// Late is set when the background curation finished after the turn returned.
	Late bool `json:"late"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Merge folds a background outcome into the turn result.
func (r *TurnResult) Merge(out BackgroundOutcome, now time.Time) {
	r.Extracted = out.Extracted
	r.MemoriesAdded = out.MemoriesAdded
	r.Evicted = out.Evicted
	r.CuratorOps = out.CuratorOps
	r.Pending = false
	r.CompletedAt = &now
}
