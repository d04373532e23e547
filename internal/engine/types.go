// Package engine implements the memory lifecycle: the curator that reconciles
// extracted candidates with stored memories, the retriever that assembles the
// per-turn memory context, and the Engine that orchestrates one dialogue turn.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/engram/pkg/types"
)

// Config holds the engine tuning parameters.
type Config struct {
	// ConflictThreshold is the minimum similarity for a stored memory to be
	// considered against a candidate with a different key.
	ConflictThreshold float64
	// DuplicateThreshold is the similarity above which equal values are
	// treated as duplicates.
	DuplicateThreshold float64
	// SimilarLimit caps how many similar memories the curator inspects.
	SimilarLimit int

	// TopKSemantic caps semantic hits per retrieval.
	TopKSemantic int
	// RelevanceThreshold is the minimum similarity of a semantic hit.
	RelevanceThreshold float64
	// TokenBudget caps the estimated tokens injected per turn.
	TokenBudget int

	// HistoryWindow is the number of messages kept in rolling history. It must
	// be even so that only whole exchanges are kept.
	HistoryWindow int
	// BackgroundTimeout bounds how long a turn waits for its curation.
	BackgroundTimeout time.Duration
	// QueueSize bounds pending background curation jobs.
	QueueSize int

	// InjectConfidence is the confidence of manually injected memories.
	InjectConfidence float64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ConflictThreshold:  0.55,
		DuplicateThreshold: 0.75,
		SimilarLimit:       3,
		TopKSemantic:       8,
		RelevanceThreshold: 0.50,
		TokenBudget:        300,
		HistoryWindow:      20,
		BackgroundTimeout:  5 * time.Second,
		QueueSize:          64,
		InjectConfidence:   0.99,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.ConflictThreshold < 0 || c.ConflictThreshold > 1 {
		return fmt.Errorf("ConflictThreshold must be in [0,1], got %v", c.ConflictThreshold)
	}
	if c.DuplicateThreshold < c.ConflictThreshold || c.DuplicateThreshold > 1 {
		return fmt.Errorf("DuplicateThreshold must be in [ConflictThreshold,1], got %v", c.DuplicateThreshold)
	}
	if c.SimilarLimit < 1 {
		return fmt.Errorf("SimilarLimit must be >= 1, got %d", c.SimilarLimit)
	}
	if c.TopKSemantic < 1 {
		return fmt.Errorf("TopKSemantic must be >= 1, got %d", c.TopKSemantic)
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("RelevanceThreshold must be in [0,1], got %v", c.RelevanceThreshold)
	}
	if c.TokenBudget < 1 {
		return fmt.Errorf("TokenBudget must be >= 1, got %d", c.TokenBudget)
	}
	if c.HistoryWindow < 2 || c.HistoryWindow%2 != 0 {
		return fmt.Errorf("HistoryWindow must be an even number >= 2, got %d", c.HistoryWindow)
	}
	if c.BackgroundTimeout <= 0 {
		return fmt.Errorf("BackgroundTimeout must be > 0, got %v", c.BackgroundTimeout)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.InjectConfidence < 0 || c.InjectConfidence > 1 {
		return fmt.Errorf("InjectConfidence must be in [0,1], got %v", c.InjectConfidence)
	}
	return nil
}

// Extractor turns a user message into candidate memories. Implementations
// never fail: on error they return an empty extraction.
type Extractor interface {
	Extract(ctx context.Context, message string, turn int) types.Extraction
}

// Generator produces the assistant response for a turn. Implementations never
// fail: on error they return a response tagged with
// types.GenerationErrorPrefix.
type Generator interface {
	Generate(ctx context.Context, system, message string, history []types.Message) string
}
