package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/scrypster/engram/internal/storage/tiered"
	"github.com/scrypster/engram/pkg/types"
)

// Relevance weights: relevance = heat*heatRelevanceWeight + recency*recencyRelevanceWeight.
const (
	heatRelevanceWeight    = 0.6
	recencyRelevanceWeight = 0.4
	recencyDecayPerTurn    = 0.01

	// tokenOverhead is added to each memory's word count to account for
	// formatting in the prompt block.
	tokenOverhead = 3
)

// alwaysInject kinds are surfaced every turn regardless of similarity.
var alwaysInject = []types.Kind{types.KindConstraint, types.KindCommitment}

var sectionHeaders = map[types.Kind]string{
	types.KindConstraint: "CONSTRAINTS",
	types.KindCommitment: "COMMITMENTS",
	types.KindPreference: "PREFERENCES",
	types.KindFact:       "FACTS",
	types.KindEntity:     "ENTITIES",
}

// memoryInstruction follows the memory block in the system prompt.
const memoryInstruction = "Use the memory context above to inform your response naturally. " +
	"Do NOT mention that you have a memory system or that you are recalling stored facts. " +
	"Apply memories implicitly, adapting your response as if you simply know these things."

// Retriever assembles the memory context for a turn.
//
// Semantic hits for the query are merged with every constraint and
// commitment, ranked by relevance, and accepted greedily until the token
// budget would be exceeded. Every accepted memory is marked recalled.
type Retriever struct {
	store  *tiered.Store
	cfg    Config
	logger *slog.Logger
}

// NewRetriever creates a retriever over store.
func NewRetriever(store *tiered.Store, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, cfg: cfg, logger: logger}
}

// Retrieve builds the memory context for query on turn. Callers must hold the
// engine's writer lock, since surfacing memories boosts their heat.
func (r *Retriever) Retrieve(ctx context.Context, query string, turn int) (*types.Retrieval, error) {
	hits, err := r.store.SemanticSearch(ctx, query, r.cfg.TopKSemantic, r.cfg.RelevanceThreshold)
	if err != nil {
		return nil, fmt.Errorf("retrieval search failed: %w", err)
	}

	seen := make(map[string]bool)
	var merged []*types.Memory
	for _, h := range hits {
		seen[h.Memory.ID] = true
		merged = append(merged, h.Memory)
	}
	semantic := len(merged)

	for _, kind := range alwaysInject {
		for _, m := range r.store.GetByKind(kind) {
			if !seen[m.ID] && m.Status != types.StatusEvicted {
				seen[m.ID] = true
				merged = append(merged, m)
			}
		}
	}
	structural := len(merged) - semantic

	sort.SliceStable(merged, func(i, j int) bool {
		return Relevance(merged[i], turn) > Relevance(merged[j], turn)
	})

	var (
		accepted []*types.Memory
		total    int
	)
	for _, m := range merged {
		cost := EstimateTokens(m)
		if total+cost > r.cfg.TokenBudget {
			break
		}
		total += cost
		accepted = append(accepted, m)
	}

	for i, m := range accepted {
		if err := r.store.MarkRecalled(ctx, m.ID, turn); err != nil {
			return nil, fmt.Errorf("failed to mark %s recalled: %w", m.ID, err)
		}
		if fresh, ok := r.store.Get(m.ID); ok {
			accepted[i] = fresh
		}
	}

	r.logger.Debug("retrieved memories",
		"turn", turn, "semantic", semantic, "structural", structural,
		"accepted", len(accepted), "tokens", total)

	return &types.Retrieval{
		Memories:       accepted,
		PromptBlock:    FormatMemoryBlock(accepted),
		TotalTokens:    total,
		SemanticHits:   semantic,
		StructuralHits: structural,
	}, nil
}

// Relevance scores m for ranking on turn. Recency decays smoothly with the
// number of turns since the memory was last recalled and never reaches zero.
func Relevance(m *types.Memory, turn int) float64 {
	distance := turn - m.LastRecalledTurn
	if distance < 0 {
		distance = 0
	}
	recency := 1 / (1 + recencyDecayPerTurn*float64(distance))
	return m.Heat*heatRelevanceWeight + recency*recencyRelevanceWeight
}

// EstimateTokens approximates the prompt cost of m: the word count of its
// prompt fragment plus a fixed overhead.
func EstimateTokens(m *types.Memory) int {
	return len(strings.Fields(m.PromptFragment())) + tokenOverhead
}

// FormatMemoryBlock renders memories grouped by kind in fixed priority order
// (constraints first), independent of their rank. No memories yields "".
func FormatMemoryBlock(memories []*types.Memory) string {
	if len(memories) == 0 {
		return ""
	}

	byKind := make(map[types.Kind][]*types.Memory)
	for _, m := range memories {
		byKind[m.Kind] = append(byKind[m.Kind], m)
	}

	var b strings.Builder
	b.WriteString("<memory_context>\n")
	for _, kind := range types.AllKinds {
		group := byKind[kind]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  [%s]\n", sectionHeaders[kind])
		for _, m := range group {
			fmt.Fprintf(&b, "    %s: %s\n", m.Key, m.Value)
		}
	}
	b.WriteString("</memory_context>")
	return b.String()
}

// BuildSystemPrompt appends the memory block of retrieval to base. With no
// memories base is returned unchanged.
func BuildSystemPrompt(base string, retrieval *types.Retrieval) string {
	if retrieval == nil || retrieval.PromptBlock == "" {
		return base
	}
	return base + "\n\n" + retrieval.PromptBlock + "\n\n" + memoryInstruction
}
