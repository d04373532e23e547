package llm

import (
	"context"
	"log/slog"

	"github.com/scrypster/engram/pkg/types"
)

// DefaultConfidenceThreshold is the minimum confidence for an extracted
// memory to reach the curator.
const DefaultConfidenceThreshold = 0.65

// Extractor pulls candidate memories out of user messages with a
// TextGenerator. It never fails: provider and parse errors are logged and
// yield an empty extraction.
type Extractor struct {
	gen       TextGenerator
	threshold float64
	logger    *slog.Logger
}

// NewExtractor creates an Extractor. A non-positive threshold uses
// DefaultConfidenceThreshold.
func NewExtractor(gen TextGenerator, threshold float64, logger *slog.Logger) *Extractor {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{gen: gen, threshold: threshold, logger: logger}
}

// Extract returns the candidates in message, split by the confidence
// threshold.
func (e *Extractor) Extract(ctx context.Context, message string, turn int) types.Extraction {
	raw, err := e.gen.Complete(ctx, ExtractionPrompt(message))
	if err != nil {
		e.logger.Warn("memory extraction failed", "turn", turn, "model", e.gen.GetModel(), "error", err)
		return types.Extraction{}
	}

	candidates, err := ParseExtractionResponse(raw, turn)
	if err != nil {
		e.logger.Warn("memory extraction returned malformed output", "turn", turn, "error", err)
		return types.Extraction{}
	}

	out := types.Extraction{Candidates: candidates}
	for _, c := range candidates {
		if c.Confidence >= e.threshold {
			out.FilteredIn = append(out.FilteredIn, c)
		} else {
			out.FilteredOut = append(out.FilteredOut, c)
		}
	}

	e.logger.Debug("extracted memories",
		"turn", turn, "candidates", len(candidates),
		"kept", len(out.FilteredIn), "dropped", len(out.FilteredOut))
	return out
}
