package tiered_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage/chromem"
	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/internal/storage/tiered"
	"github.com/scrypster/engram/pkg/types"
)

func openStore(t *testing.T, dsn string, cfg tiered.Config) (*tiered.Store, *sqlite.MemoryStore) {
	t.Helper()
	durable, err := sqlite.NewMemoryStore(dsn, nil)
	require.NoError(t, err)
	index, err := chromem.NewIndex(llm.NewHashEmbedder(0))
	require.NoError(t, err)

	store, err := tiered.New(context.Background(), durable, index, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, durable
}

func newTestStore(t *testing.T) (*tiered.Store, *sqlite.MemoryStore) {
	return openStore(t, ":memory:", tiered.DefaultConfig())
}

func TestStore_AddWritesAllTiers(t *testing.T) {
	store, durable := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindConstraint, "diet", "vegetarian", 1, 0.9)
	require.NoError(t, store.Add(ctx, m))

	got, ok := store.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, "vegetarian", got.Value)

	persisted, err := durable.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "vegetarian", persisted.Value)

	recent := store.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, m.ID, recent[0].ID)

	hits, err := store.SemanticSearch(ctx, "diet vegetarian", 3, 0.1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, m.ID, hits[0].Memory.ID)
}

func TestStore_AddIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "city", "Lisbon", 1, 0.9)
	require.NoError(t, store.Add(ctx, m))
	before := store.Snapshot()

	require.NoError(t, store.Add(ctx, m))
	after := store.Snapshot()

	assert.Equal(t, before, after)
	assert.Equal(t, 1, store.Count())
}

func TestStore_RecentTierIsBounded(t *testing.T) {
	cfg := tiered.DefaultConfig()
	cfg.RecentSize = 3
	store, _ := openStore(t, ":memory:", cfg)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		m := types.NewMemory(types.KindFact, "fact", string(rune('a'+i)), i+1, 1)
		require.NoError(t, store.Add(ctx, m))
		ids = append(ids, m.ID)
	}

	recent := store.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[4], recent[2].ID)
	assert.Equal(t, 5, store.Count(), "searchable tier keeps everything")
}

func TestStore_Update(t *testing.T) {
	store, durable := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "city", "Lisbon", 1, 0.9)
	require.NoError(t, store.Add(ctx, m))

	ok, err := store.Update(ctx, m.ID, "Porto", 4)
	require.NoError(t, err)
	require.True(t, ok)

	got, _ := store.Get(m.ID)
	assert.Equal(t, "Porto", got.Value)
	assert.Equal(t, "city: Porto", got.IndexText)
	assert.Equal(t, 4, got.LastRecalledTurn)

	persisted, err := durable.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Porto", persisted.Value)

	hits, err := store.SemanticSearch(ctx, "porto", 3, 0.1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestStore_UpdateUnknownIsNoop(t *testing.T) {
	store, _ := newTestStore(t)

	ok, err := store.Update(context.Background(), "mem_missing", "x", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Count())
}

func TestStore_Delete(t *testing.T) {
	store, durable := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "city", "Lisbon", 1, 0.9)
	require.NoError(t, store.Add(ctx, m))

	existed, err := store.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok := store.Get(m.ID)
	assert.False(t, ok)
	_, err = durable.Get(ctx, m.ID)
	assert.Error(t, err)

	existed, err = store.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStore_MarkRecalled(t *testing.T) {
	store, durable := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "city", "Lisbon", 1, 0.9)
	m.SetHeat(0.2)
	require.NoError(t, store.Add(ctx, m))

	require.NoError(t, store.MarkRecalled(ctx, m.ID, 9))

	got, _ := store.Get(m.ID)
	assert.InDelta(t, 0.3, got.Heat, 1e-9)
	assert.Equal(t, 9, got.LastRecalledTurn)
	assert.Equal(t, types.StatusActive, got.Status)

	persisted, err := durable.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, persisted.LastRecalledTurn)

	require.NoError(t, store.MarkRecalled(ctx, "mem_missing", 9))
}

func TestStore_MarkRecalledClampsHeat(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "city", "Lisbon", 1, 0.9)
	require.NoError(t, store.Add(ctx, m))
	require.NoError(t, store.MarkRecalled(ctx, m.ID, 2))

	got, _ := store.Get(m.ID)
	assert.Equal(t, 1.0, got.Heat)
}

func TestStore_SemanticSearchWeightsHeat(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Same text, so same raw similarity to any query.
	cold := types.NewMemory(types.KindFact, "hobby", "rock climbing", 1, 1)
	cold.SetHeat(0.2)
	hot := types.NewMemory(types.KindPreference, "hobby", "rock climbing", 1, 1)
	require.NoError(t, store.Add(ctx, cold))
	require.NoError(t, store.Add(ctx, hot))

	hits, err := store.SemanticSearch(ctx, "rock climbing", 2, 0.1)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, hot.ID, hits[0].Memory.ID)
	assert.InDelta(t, hits[0].Similarity, hits[1].Similarity, 1e-6)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	hits, err = store.SemanticSearch(ctx, "rock climbing", 1, 0.1)
	require.NoError(t, err)
	assert.Len(t, hits, 1, "results are capped at topK")
}

func TestStore_ReadViews(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	c := types.NewMemory(types.KindConstraint, "diet", "vegan", 1, 1)
	f := types.NewMemory(types.KindFact, "city", "Lisbon", 1, 1)
	f.SetHeat(0.5)
	require.NoError(t, store.Add(ctx, c))
	require.NoError(t, store.Add(ctx, f))

	constraints := store.GetByKind(types.KindConstraint)
	require.Len(t, constraints, 1)
	assert.Equal(t, c.ID, constraints[0].ID)

	assert.Len(t, store.GetAllActive(), 2)

	snap := store.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, c.ID, snap[0].ID, "snapshot is heat-descending")
}

func TestStore_ReturnsCopies(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "city", "Lisbon", 1, 1)
	require.NoError(t, store.Add(ctx, m))

	got, _ := store.Get(m.ID)
	got.Value = "mutated"
	m.Value = "mutated too"

	again, _ := store.Get(m.ID)
	assert.Equal(t, "Lisbon", again.Value)
}

func TestStore_ApplyDecaySkipsRecalledThisTurn(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	stale := types.NewMemory(types.KindFact, "a", "one", 1, 1)
	fresh := types.NewMemory(types.KindFact, "b", "two", 5, 1)
	require.NoError(t, store.Add(ctx, stale))
	require.NoError(t, store.Add(ctx, fresh))

	evicted, err := store.ApplyDecay(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	s, _ := store.Get(stale.ID)
	f, _ := store.Get(fresh.ID)
	assert.InDelta(t, 0.96, s.Heat, 1e-9)
	assert.Equal(t, 1.0, f.Heat, "recalled this turn, not decayed")
}

func TestStore_ApplyDecayNeverIncreasesHeat(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "a", "one", 0, 1)
	m.SetHeat(0.5)
	require.NoError(t, store.Add(ctx, m))

	prev := 0.5
	for turn := 1; turn <= 5; turn++ {
		_, err := store.ApplyDecay(ctx, turn)
		require.NoError(t, err)
		got, ok := store.Get(m.ID)
		require.True(t, ok)
		assert.InDelta(t, prev-0.04, got.Heat, 1e-9)
		prev = got.Heat
	}
}

func TestStore_DecayEvictionTiming(t *testing.T) {
	store, durable := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "a", "one", 0, 1)
	require.NoError(t, store.Add(ctx, m))

	evictedAt := 0
	evictions := 0
	for turn := 1; turn <= 30; turn++ {
		evicted, err := store.ApplyDecay(ctx, turn)
		require.NoError(t, err)
		for _, id := range evicted {
			assert.Equal(t, m.ID, id)
			evictions++
			evictedAt = turn
		}
	}

	assert.Equal(t, 1, evictions, "evicted id reported exactly once")
	// 1.0 - 0.04*k first drops below 0.08 at k=23; float rounding may push
	// it one sweep later, never earlier.
	assert.GreaterOrEqual(t, evictedAt, 23)
	assert.LessOrEqual(t, evictedAt, 24)

	_, ok := store.Get(m.ID)
	assert.False(t, ok)
	_, err := durable.Get(ctx, m.ID)
	assert.Error(t, err)
	hits, err := store.SemanticSearch(ctx, "one", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_DecayStatusTransitions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	m := types.NewMemory(types.KindFact, "a", "one", 0, 1)
	m.SetHeat(0.32)
	require.NoError(t, store.Add(ctx, m))

	_, err := store.ApplyDecay(ctx, 1)
	require.NoError(t, err)

	got, _ := store.Get(m.ID)
	assert.Equal(t, types.StatusDecaying, got.Status)
}

func TestStore_ReindexFromDurableOnStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.db")
	ctx := context.Background()

	first, _ := openStore(t, path, tiered.DefaultConfig())
	m := types.NewMemory(types.KindPreference, "editor", "neovim with lua config", 1, 1)
	require.NoError(t, first.Add(ctx, m))
	require.NoError(t, first.Close())

	second, _ := openStore(t, path, tiered.DefaultConfig())
	got, ok := second.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, "neovim with lua config", got.Value)

	hits, err := second.SemanticSearch(ctx, "neovim editor", 3, 0.1)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	require.NoError(t, second.Reindex(ctx))
	assert.Equal(t, 1, second.Count(), "re-index is idempotent")
	assert.Empty(t, second.Recent(), "recent tier is not restored")
}

func TestStore_Reset(t *testing.T) {
	store, durable := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, types.NewMemory(types.KindFact, "a", "one", 1, 1)))
	require.NoError(t, store.Reset(ctx))

	assert.Equal(t, 0, store.Count())
	assert.Empty(t, store.Recent())
	all, err := durable.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConfig_Validate(t *testing.T) {
	cfg := tiered.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.RecentSize = 0
	assert.Error(t, cfg.Validate())

	cfg = tiered.DefaultConfig()
	cfg.DecayPerTurn = 1.5
	assert.Error(t, cfg.Validate())
}
