package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage/tiered"
	"github.com/scrypster/engram/pkg/types"
)

// Resolver decides what to do with a candidate that has no exact (key, kind)
// match, given the stored memories most similar to it. similar only holds
// hits above the curator's conflict threshold.
type Resolver interface {
	Resolve(ctx context.Context, candidate *types.Memory, similar []tiered.Hit) types.Decision
}

// HeuristicResolver is the default Resolver. It walks similar memories from
// the most similar down: a near-identical memory with the same value makes the
// candidate a duplicate, and a close memory whose value contradicts the
// candidate is replaced by it.
type HeuristicResolver struct {
	Checker            ContradictionChecker
	ConflictThreshold  float64
	DuplicateThreshold float64
}

// NewHeuristicResolver builds the default resolver from cfg.
func NewHeuristicResolver(cfg Config, checker ContradictionChecker) *HeuristicResolver {
	if checker == nil {
		checker = NewHeuristicContradiction()
	}
	return &HeuristicResolver{
		Checker:            checker,
		ConflictThreshold:  cfg.ConflictThreshold,
		DuplicateThreshold: cfg.DuplicateThreshold,
	}
}

// Resolve implements Resolver.
func (r *HeuristicResolver) Resolve(_ context.Context, candidate *types.Memory, similar []tiered.Hit) types.Decision {
	hits := append([]tiered.Hit(nil), similar...)
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})

	want := types.NormalizeValue(candidate.Value)
	for _, h := range hits {
		if h.Similarity > r.DuplicateThreshold && types.NormalizeValue(h.Memory.Value) == want {
			return types.Decision{
				Operation: types.OpNoop,
				Candidate: candidate,
				TargetID:  h.Memory.ID,
				Reason:    "semantic duplicate of " + h.Memory.Key,
			}
		}
		if h.Similarity > r.ConflictThreshold && r.Checker.Contradicts(candidate.Value, h.Memory.Value) {
			return types.Decision{
				Operation: types.OpDelete,
				Candidate: candidate,
				TargetID:  h.Memory.ID,
				Reason:    "contradicts " + h.Memory.Key + ": " + h.Memory.Value,
			}
		}
	}

	return types.Decision{Operation: types.OpAdd, Candidate: candidate, Reason: "no conflict found"}
}

// JudgeResolver asks a language model to arbitrate between a candidate and
// its similar memories. Unusable verdicts fall back to Add.
type JudgeResolver struct {
	judge  llm.TextGenerator
	logger *slog.Logger
}

// NewJudgeResolver creates a model-backed Resolver.
func NewJudgeResolver(judge llm.TextGenerator, logger *slog.Logger) *JudgeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &JudgeResolver{judge: judge, logger: logger}
}

// Resolve implements Resolver.
func (r *JudgeResolver) Resolve(ctx context.Context, candidate *types.Memory, similar []tiered.Hit) types.Decision {
	if len(similar) == 0 {
		return types.Decision{Operation: types.OpAdd, Candidate: candidate, Reason: "no similar memories"}
	}

	existing := make([]*types.Memory, len(similar))
	known := make(map[string]bool, len(similar))
	for i, h := range similar {
		existing[i] = h.Memory
		known[h.Memory.ID] = true
	}

	fallback := func(reason string) types.Decision {
		return types.Decision{Operation: types.OpAdd, Candidate: candidate, Reason: reason}
	}

	raw, err := r.judge.Complete(ctx, llm.ConflictPrompt(candidate, existing))
	if err != nil {
		r.logger.Warn("conflict judge call failed", "error", err, "key", candidate.Key)
		return fallback("judge unavailable")
	}

	verdict, err := llm.ParseJudgeResponse(raw)
	if err != nil {
		r.logger.Warn("conflict judge returned malformed output", "error", err, "key", candidate.Key)
		return fallback("judge output unparseable")
	}

	targeted := verdict.Operation == types.OpUpdate || verdict.Operation == types.OpDelete
	if targeted && !known[verdict.TargetID] {
		r.logger.Warn("conflict judge targeted an unknown memory", "target_id", verdict.TargetID)
		return fallback("judge target unknown")
	}

	return types.Decision{
		Operation: verdict.Operation,
		Candidate: candidate,
		TargetID:  verdict.TargetID,
		Reason:    "judge: " + verdict.Reason,
	}
}
