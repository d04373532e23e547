// Package tiered composes the three memory tiers into one logical store.
//
// The recent tier is a small LRU of newly created records. The searchable
// tier is an in-memory mirror of every non-evicted record plus a
// storage.SearchIndex over their index texts. The durable tier is the record
// of truth and is re-indexed into the searchable tier on startup.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// Defaults for Config.
const (
	DefaultRecentSize   = 20
	DefaultDecayPerTurn = 0.04
	DefaultRecallBoost  = 0.1
)

// Search score weighting: similarity * (heatFloor + heatWeight*heat).
const (
	heatFloor  = 0.7
	heatWeight = 0.3
)

// Config controls the store.
type Config struct {
	// RecentSize bounds the recent tier.
	RecentSize int
	// DecayPerTurn is subtracted from the heat of every record not recalled
	// on the current turn.
	DecayPerTurn float64
	// RecallBoost is added to heat when a record is recalled.
	RecallBoost float64

	Logger *slog.Logger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		RecentSize:   DefaultRecentSize,
		DecayPerTurn: DefaultDecayPerTurn,
		RecallBoost:  DefaultRecallBoost,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RecentSize < 1 {
		return fmt.Errorf("RecentSize must be >= 1, got %d", c.RecentSize)
	}
	if c.DecayPerTurn < 0 || c.DecayPerTurn > 1 {
		return fmt.Errorf("DecayPerTurn must be in [0,1], got %v", c.DecayPerTurn)
	}
	if c.RecallBoost < 0 || c.RecallBoost > 1 {
		return fmt.Errorf("RecallBoost must be in [0,1], got %v", c.RecallBoost)
	}
	return nil
}

// Hit is a semantic search result.
type Hit struct {
	Memory *types.Memory
	// Similarity is the raw similarity reported by the index.
	Similarity float64
	// Score is the heat-weighted similarity used for ordering.
	Score float64
}

// Store is the tiered memory store. Reads are safe from any goroutine; each
// mutation is atomic, and callers needing multi-step consistency serialize
// their writes (the engine holds a single writer lock).
type Store struct {
	cfg     Config
	logger  *slog.Logger
	durable storage.DurableStore
	index   storage.SearchIndex

	mu      sync.RWMutex
	records map[string]*types.Memory
	recent  *lru.Cache[string, *types.Memory]
}

// New builds a store over the given durable tier and index, then loads and
// re-indexes every durable record.
func New(ctx context.Context, durable storage.DurableStore, index storage.SearchIndex, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	recent, err := lru.New[string, *types.Memory](cfg.RecentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create recent tier: %w", err)
	}

	s := &Store{
		cfg:     cfg,
		logger:  cfg.Logger,
		durable: durable,
		index:   index,
		records: make(map[string]*types.Memory),
		recent:  recent,
	}
	if err := s.Reindex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reindex loads every durable record into the searchable tier. It is
// idempotent and safe to repeat.
func (s *Store) Reindex(ctx context.Context) error {
	memories, err := s.durable.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load durable tier: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range memories {
		if m.Status == types.StatusEvicted {
			continue
		}
		if err := s.index.Upsert(ctx, m.ID, m.IndexText); err != nil {
			return fmt.Errorf("failed to re-index %s: %w", m.ID, err)
		}
		s.records[m.ID] = m
	}

	s.logger.Info("store re-indexed from durable tier", "records", len(s.records))
	return nil
}

// Add inserts memory into all three tiers. Re-adding the same record is an
// idempotent upsert.
func (s *Store) Add(ctx context.Context, memory *types.Memory) error {
	if memory == nil || memory.ID == "" {
		return fmt.Errorf("%w: memory with ID is required", storage.ErrInvalidInput)
	}
	m := memory.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.durable.Upsert(ctx, m); err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, m.ID, m.IndexText); err != nil {
		return fmt.Errorf("failed to index memory: %w", err)
	}
	s.records[m.ID] = m
	s.recent.Add(m.ID, m)
	return nil
}

// Update replaces the value of a record. It reports false when id is
// unknown to both the searchable and durable tiers.
func (s *Store) Update(ctx context.Context, id, value string, turn int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.lookupLocked(ctx, id)
	if err != nil || m == nil {
		return false, err
	}

	updated := m.Clone()
	updated.SetValue(value, time.Now().UTC())
	updated.LastRecalledTurn = turn

	if err := s.durable.Upsert(ctx, updated); err != nil {
		return false, err
	}
	if err := s.index.Upsert(ctx, id, updated.IndexText); err != nil {
		return false, fmt.Errorf("failed to index memory: %w", err)
	}
	s.records[id] = updated
	return true, nil
}

// Delete removes a record from the searchable and durable tiers. It reports
// whether the record existed in the searchable tier.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.records[id]
	if err := s.index.Remove(ctx, id); err != nil {
		return false, fmt.Errorf("failed to unindex memory: %w", err)
	}
	if err := s.durable.Delete(ctx, id); err != nil {
		return false, err
	}
	delete(s.records, id)
	return existed, nil
}

// MarkRecalled boosts a record's heat, stamps the recall turn and forces it
// back to Active. Unknown ids are ignored.
func (s *Store) MarkRecalled(ctx context.Context, id string, turn int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[id]
	if !ok {
		return nil
	}

	recalled := m.Clone()
	recalled.Heat = types.ClampUnit(recalled.Heat + s.cfg.RecallBoost)
	recalled.LastRecalledTurn = turn
	recalled.Status = types.StatusActive

	if err := s.durable.Upsert(ctx, recalled); err != nil {
		return err
	}
	s.records[id] = recalled
	return nil
}

// SemanticSearch returns up to topK records whose similarity to query is
// above threshold. Hits are ordered by similarity weighted with heat, so a
// cold memory ranks below an equally similar hot one.
func (s *Store) SemanticSearch(ctx context.Context, query string, topK int, threshold float64) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	// Over-fetch so re-weighting can promote hot records past cold ones.
	raw, err := s.index.Search(ctx, query, topK*3, threshold)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	s.mu.RLock()
	hits := make([]Hit, 0, len(raw))
	for _, r := range raw {
		m, ok := s.records[r.ID]
		if !ok || m.Status == types.StatusEvicted {
			continue
		}
		hits = append(hits, Hit{
			Memory:     m.Clone(),
			Similarity: r.Similarity,
			Score:      r.Similarity * (heatFloor + heatWeight*m.Heat),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Get returns a copy of the record with id from the searchable tier.
func (s *Store) Get(id string) (*types.Memory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// GetByKind returns every non-evicted record of kind, oldest first.
func (s *Store) GetByKind(kind types.Kind) []*types.Memory {
	return s.collect(func(m *types.Memory) bool { return m.Kind == kind }, byCreation)
}

// GetAllActive returns every non-evicted record, oldest first.
func (s *Store) GetAllActive() []*types.Memory {
	return s.collect(func(*types.Memory) bool { return true }, byCreation)
}

// Snapshot returns every record, hottest first.
func (s *Store) Snapshot() []*types.Memory {
	return s.collect(func(*types.Memory) bool { return true }, byHeat)
}

// Recent returns the recent tier, oldest first. It may still hold records
// that have since been updated or evicted.
func (s *Store) Recent() []*types.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := s.recent.Values()
	out := make([]*types.Memory, len(values))
	for i, m := range values {
		out[i] = m.Clone()
	}
	return out
}

// Count returns the number of records in the searchable tier.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ApplyDecay cools every record not recalled on currentTurn by the configured
// decay amount. Records whose heat falls below the eviction threshold are
// removed from the searchable and durable tiers; their ids are returned once
// each.
func (s *Store) ApplyDecay(ctx context.Context, currentTurn int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		survivors []*types.Memory
		evicted   []string
	)
	for _, m := range s.sortedLocked(byCreation) {
		if m.LastRecalledTurn == currentTurn {
			continue
		}
		decayed := m.Clone()
		decayed.SetHeat(decayed.Heat - s.cfg.DecayPerTurn)
		if decayed.Status == types.StatusEvicted {
			evicted = append(evicted, decayed.ID)
			continue
		}
		survivors = append(survivors, decayed)
	}

	if err := s.durable.UpsertBatch(ctx, survivors); err != nil {
		return nil, fmt.Errorf("failed to persist decay: %w", err)
	}
	for _, m := range survivors {
		s.records[m.ID] = m
	}

	if len(evicted) == 0 {
		return nil, nil
	}

	var errs []error
	for _, id := range evicted {
		if err := s.index.Remove(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("failed to unindex %s: %w", id, err))
		}
		delete(s.records, id)
	}
	if err := s.durable.DeleteBatch(ctx, evicted); err != nil {
		errs = append(errs, fmt.Errorf("failed to evict from durable tier: %w", err))
	}

	s.logger.Debug("decay sweep evicted memories", "turn", currentTurn, "evicted", len(evicted))
	return evicted, errors.Join(errs...)
}

// Reset purges every tier. The durable tier keeps its location.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.records {
		if err := s.index.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to unindex %s: %w", id, err)
		}
	}
	if err := s.durable.Purge(ctx); err != nil {
		return err
	}
	s.records = make(map[string]*types.Memory)
	s.recent.Purge()
	return nil
}

// Close closes the index and the durable tier.
func (s *Store) Close() error {
	return errors.Join(s.index.Close(), s.durable.Close())
}

func (s *Store) lookupLocked(ctx context.Context, id string) (*types.Memory, error) {
	if m, ok := s.records[id]; ok {
		return m, nil
	}
	m, err := s.durable.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidInput) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

type ordering func(a, b *types.Memory) bool

func byCreation(a, b *types.Memory) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func byHeat(a, b *types.Memory) bool {
	if a.Heat == b.Heat {
		return byCreation(a, b)
	}
	return a.Heat > b.Heat
}

func (s *Store) collect(keep func(*types.Memory) bool, less ordering) []*types.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Memory
	for _, m := range s.sortedLocked(less) {
		if m.Status != types.StatusEvicted && keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

func (s *Store) sortedLocked(less ordering) []*types.Memory {
	out := make([]*types.Memory, 0, len(s.records))
	for _, m := range s.records {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
