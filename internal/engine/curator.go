package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scrypster/engram/internal/storage/tiered"
	"github.com/scrypster/engram/pkg/types"
)

// Curator reconciles extracted candidates with the stored memories and runs
// the per-turn decay sweep.
//
// For each candidate:
//
//  1. exact match on (key, kind): equal value is a Noop, anything else an
//     Update of the stored memory;
//  2. otherwise the most similar memories above the conflict threshold are
//     handed to the Resolver (heuristic by default);
//  3. otherwise Add.
type Curator struct {
	store    *tiered.Store
	resolver Resolver
	cfg      Config
	logger   *slog.Logger
}

// CuratorOption configures a Curator.
type CuratorOption func(*Curator)

// WithResolver replaces the default heuristic resolver.
func WithResolver(r Resolver) CuratorOption {
	return func(c *Curator) {
		if r != nil {
			c.resolver = r
		}
	}
}

// NewCurator creates a curator over store.
func NewCurator(store *tiered.Store, cfg Config, logger *slog.Logger, opts ...CuratorOption) *Curator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Curator{
		store:    store,
		resolver: NewHeuristicResolver(cfg, nil),
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process decides and applies one decision per candidate, in order. Later
// candidates see the effects of earlier ones. Store failures do not stop the
// batch; they are joined into the returned error.
func (c *Curator) Process(ctx context.Context, candidates []*types.Memory, turn int) ([]types.Decision, error) {
	active := make(map[types.Identity]*types.Memory)
	for _, m := range c.store.GetAllActive() {
		active[m.Identity()] = m
	}

	var (
		decisions []types.Decision
		errs      []error
	)
	for _, cand := range candidates {
		if cand == nil || !cand.Kind.IsValid() || cand.Key == "" {
			continue
		}

		d, err := c.decide(ctx, cand, active)
		if err != nil {
			errs = append(errs, err)
		}
		if err := c.apply(ctx, d, turn, active); err != nil {
			errs = append(errs, fmt.Errorf("failed to apply %s for %s: %w", d.Operation, cand.Key, err))
		}

		c.logger.Debug("curator decision",
			"turn", turn, "operation", d.Operation.String(), "key", cand.Key,
			"target_id", d.TargetID, "reason", d.Reason)
		decisions = append(decisions, d)
	}

	return decisions, errors.Join(errs...)
}

// RunDecay applies the store's decay sweep and returns the evicted ids.
func (c *Curator) RunDecay(ctx context.Context, turn int) ([]string, error) {
	evicted, err := c.store.ApplyDecay(ctx, turn)
	if len(evicted) > 0 {
		c.logger.Info("evicted cold memories", "turn", turn, "count", len(evicted))
	}
	return evicted, err
}

func (c *Curator) decide(ctx context.Context, cand *types.Memory, active map[types.Identity]*types.Memory) (types.Decision, error) {
	if existing, ok := active[cand.Identity()]; ok {
		if types.NormalizeValue(existing.Value) == types.NormalizeValue(cand.Value) {
			return types.Decision{Operation: types.OpNoop, Candidate: cand, TargetID: existing.ID, Reason: "duplicate value"}, nil
		}
		return types.Decision{
			Operation: types.OpUpdate,
			Candidate: cand,
			TargetID:  existing.ID,
			Reason:    fmt.Sprintf("value changed from %q", existing.Value),
		}, nil
	}

	similar, err := c.store.SemanticSearch(ctx, cand.IndexText, c.cfg.SimilarLimit, c.cfg.ConflictThreshold)
	if err != nil {
		// Keep the candidate when similarity is unavailable.
		return types.Decision{Operation: types.OpAdd, Candidate: cand, Reason: "similarity search failed"}, err
	}
	return c.resolver.Resolve(ctx, cand, similar), nil
}

// apply executes d against the store and keeps the active lookup in sync.
func (c *Curator) apply(ctx context.Context, d types.Decision, turn int, active map[types.Identity]*types.Memory) error {
	cand := d.Candidate

	switch d.Operation {
	case types.OpAdd:
		if err := c.store.Add(ctx, cand); err != nil {
			return err
		}
		active[cand.Identity()] = cand

	case types.OpUpdate:
		ok, err := c.store.Update(ctx, d.TargetID, cand.Value, turn)
		if err != nil {
			return err
		}
		if !ok {
			// Target vanished (evicted or deleted meanwhile): insert instead.
			if err := c.store.Add(ctx, cand); err != nil {
				return err
			}
			active[cand.Identity()] = cand
			return nil
		}
		if updated, found := c.store.Get(d.TargetID); found {
			active[updated.Identity()] = updated
		}

	case types.OpDelete:
		if old, found := c.store.Get(d.TargetID); found {
			if cur, ok := active[old.Identity()]; ok && cur.ID == old.ID {
				delete(active, old.Identity())
			}
		}
		if _, err := c.store.Delete(ctx, d.TargetID); err != nil {
			return err
		}
		if err := c.store.Add(ctx, cand); err != nil {
			return err
		}
		active[cand.Identity()] = cand

	case types.OpNoop:
	}
	return nil
}

// Changed returns the memories written by decisions: inserted candidates and
// the post-update state of updated memories, each once.
func (c *Curator) Changed(decisions []types.Decision) []*types.Memory {
	var out []*types.Memory
	seen := make(map[string]bool)
	for _, d := range decisions {
		var ids []string
		switch d.Operation {
		case types.OpAdd, types.OpDelete:
			ids = []string{d.Candidate.ID}
		case types.OpUpdate:
			ids = []string{d.TargetID, d.Candidate.ID}
		}
		for _, id := range ids {
			if seen[id] {
				break
			}
			if m, ok := c.store.Get(id); ok {
				seen[id] = true
				out = append(out, m)
				break
			}
		}
	}
	return out
}
