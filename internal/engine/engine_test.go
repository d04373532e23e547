package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/tiered"
	"github.com/scrypster/engram/pkg/types"
)

func newEngine(t *testing.T, ex engine.Extractor, gen engine.Generator, cfg engine.Config, opts ...engine.Option) (*engine.Engine, *tiered.Store) {
	t.Helper()
	store, durable := newStores(t)
	e, err := engine.New(store, durable.Turns(), ex, gen, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, store
}

func TestNew_RejectsInvalidArguments(t *testing.T) {
	store, durable := newStores(t)
	gen := &recordingGenerator{}

	_, err := engine.New(nil, durable.Turns(), newScriptedExtractor(), gen, engine.DefaultConfig())
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = engine.New(store, durable.Turns(), nil, gen, engine.DefaultConfig())
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	cfg := engine.DefaultConfig()
	cfg.HistoryWindow = 1
	_, err = engine.New(store, durable.Turns(), newScriptedExtractor(), gen, cfg)
	assert.Error(t, err)

	cfg.HistoryWindow = 5
	_, err = engine.New(store, durable.Turns(), newScriptedExtractor(), gen, cfg)
	assert.ErrorContains(t, err, "even")
}

func TestEngine_ChatMergesBackgroundResult(t *testing.T) {
	ex := newScriptedExtractor()
	gen := &recordingGenerator{}
	e, store := newEngine(t, ex, gen, engine.DefaultConfig())
	ctx := context.Background()

	ex.script(1, memoryAt(types.KindConstraint, "diet", "vegetarian", 1))

	r1, err := e.Chat(ctx, "I'm vegetarian")
	require.NoError(t, err)
	assert.Equal(t, 1, r1.Turn)
	assert.Equal(t, "ok", r1.Response)
	assert.False(t, r1.Pending)
	assert.False(t, r1.Late)
	assert.Equal(t, 1, r1.Extracted)
	assert.Equal(t, 1, r1.CuratorOps[types.OpAdd])
	require.Len(t, r1.MemoriesAdded, 1)
	assert.Equal(t, "vegetarian", r1.MemoriesAdded[0].Value)
	assert.Empty(t, r1.MemoriesUsed)
	require.NotNil(t, r1.CompletedAt)
	assert.Equal(t, 1, store.Count())

	r2, err := e.Chat(ctx, "what's for dinner?")
	require.NoError(t, err)
	require.Len(t, r2.MemoriesUsed, 1)
	assert.Equal(t, "diet", r2.MemoriesUsed[0].Key)
	assert.Contains(t, r2.PromptBlock, "diet: vegetarian")
	assert.Contains(t, gen.lastSystem(), "diet: vegetarian")
	assert.Equal(t, []types.Message{user("I'm vegetarian"), assistant("ok")}, gen.lastHistory())

	record, err := e.Turn(ctx, 2)
	require.NoError(t, err)
	assert.False(t, record.Pending)
	assert.Equal(t, "what's for dinner?", record.UserMessage)
}

func TestEngine_UpdateAcrossTurns(t *testing.T) {
	ex := newScriptedExtractor()
	e, store := newEngine(t, ex, &recordingGenerator{}, engine.DefaultConfig())
	ctx := context.Background()

	ex.script(1, memoryAt(types.KindConstraint, "diet", "vegetarian", 1))
	ex.script(2, memoryAt(types.KindConstraint, "diet", "vegan", 2))

	_, err := e.Chat(ctx, "I'm vegetarian")
	require.NoError(t, err)
	r2, err := e.Chat(ctx, "actually I'm vegan now")
	require.NoError(t, err)

	assert.Equal(t, 1, r2.CuratorOps[types.OpUpdate])
	constraints := store.GetByKind(types.KindConstraint)
	require.Len(t, constraints, 1)
	assert.Equal(t, "vegan", constraints[0].Value)
}

func TestEngine_ContradictionReplacesAcrossKinds(t *testing.T) {
	ex := newScriptedExtractor()
	e, store := newEngine(t, ex, &recordingGenerator{}, engine.DefaultConfig())
	ctx := context.Background()

	ex.script(1, memoryAt(types.KindConstraint, "contact_time", "call after 5pm", 1))
	ex.script(2, memoryAt(types.KindPreference, "contact_time", "call after 8pm", 2))

	_, err := e.Chat(ctx, "call me after 5pm")
	require.NoError(t, err)
	r2, err := e.Chat(ctx, "actually, after 8pm")
	require.NoError(t, err)

	assert.Equal(t, 1, r2.CuratorOps[types.OpDelete])
	assert.Equal(t, 1, store.Count())
	snapshot := e.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "call after 8pm", snapshot[0].Value)
}

func TestEngine_TimeoutReportsLateAmendment(t *testing.T) {
	ex := newScriptedExtractor()
	ex.gate = make(chan struct{})
	ex.script(1, memoryAt(types.KindFact, "city", "Lisbon", 1))

	amended := make(chan *types.TurnResult, 1)
	cfg := engine.DefaultConfig()
	cfg.BackgroundTimeout = 20 * time.Millisecond

	e, store := newEngine(t, ex, &recordingGenerator{}, cfg,
		engine.WithOnTurnAmended(func(r *types.TurnResult) { amended <- r }))
	ctx := context.Background()

	r, err := e.Chat(ctx, "I live in Lisbon")
	require.NoError(t, err)
	assert.True(t, r.Pending)
	assert.Empty(t, r.MemoriesAdded)
	assert.Zero(t, r.Extracted)
	assert.Equal(t, 1, e.Stats().PendingJobs)

	close(ex.gate)

	select {
	case got := <-amended:
		assert.Equal(t, 1, got.Turn)
		assert.True(t, got.Late)
		assert.False(t, got.Pending)
		assert.Equal(t, 1, got.Extracted)
		require.Len(t, got.MemoriesAdded, 1)
		assert.Equal(t, "Lisbon", got.MemoriesAdded[0].Value)
	case <-time.After(5 * time.Second):
		t.Fatal("late amendment was not reported")
	}

	assert.True(t, r.Pending, "the returned result is never mutated")
	assert.Empty(t, r.MemoriesAdded)
	assert.Equal(t, 1, store.Count(), "late effects still land in the store")

	record, err := e.Turn(ctx, 1)
	require.NoError(t, err)
	assert.True(t, record.Late)
}

func TestEngine_CancelWhileQueueFullLeavesNoTurn(t *testing.T) {
	ex := newScriptedExtractor()
	ex.gate = make(chan struct{})
	gen := &recordingGenerator{}

	cfg := engine.DefaultConfig()
	cfg.QueueSize = 1
	cfg.BackgroundTimeout = 20 * time.Millisecond
	e, _ := newEngine(t, ex, gen, cfg)
	ctx := context.Background()

	// Turn 1 occupies the worker, turn 2 the only queue slot.
	for _, msg := range []string{"first", "second"} {
		r, err := e.Chat(ctx, msg)
		require.NoError(t, err)
		assert.True(t, r.Pending)
	}

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err := e.Chat(short, "third")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 2, e.CurrentTurn())
	assert.Len(t, e.History(), 4)
	_, err = e.Turn(ctx, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	gen.mu.Lock()
	assert.Equal(t, []string{"first", "second"}, gen.messages)
	gen.mu.Unlock()

	close(ex.gate)
	require.Eventually(t, func() bool { return e.Stats().PendingJobs == 0 }, 5*time.Second, 5*time.Millisecond)
	for n := 1; n <= 2; n++ {
		record, err := e.Turn(ctx, n)
		require.NoError(t, err)
		assert.False(t, record.Pending, "turn %d", n)
	}

	r, err := e.Chat(ctx, "third again")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Turn)
}

func TestEngine_ErrorTaggedResponsesAreNotReplayed(t *testing.T) {
	gen := &recordingGenerator{replies: []string{"[generation error: 503]", "fine", "ok"}}
	e, _ := newEngine(t, newScriptedExtractor(), gen, engine.DefaultConfig())
	ctx := context.Background()

	r1, err := e.Chat(ctx, "first")
	require.NoError(t, err)
	assert.True(t, types.IsErrorTagged(r1.Response))

	_, err = e.Chat(ctx, "second")
	require.NoError(t, err)
	assert.Empty(t, gen.lastHistory())

	_, err = e.Chat(ctx, "third")
	require.NoError(t, err)
	assert.Equal(t, []types.Message{user("second"), assistant("fine")}, gen.lastHistory())

	assert.Len(t, e.History(), 6, "raw history keeps every exchange")
}

func TestEngine_DecaysUnrecalledMemories(t *testing.T) {
	e, store := newEngine(t, newScriptedExtractor(), &recordingGenerator{}, engine.DefaultConfig())
	ctx := context.Background()

	d, err := e.InjectMemory(ctx, types.KindFact, "pet", "cat named Miso", 0)
	require.NoError(t, err)
	require.Equal(t, types.OpAdd, d.Operation)

	_, err = e.Chat(ctx, "hello there")
	require.NoError(t, err)

	got, ok := store.Get(d.Candidate.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.96, got.Heat, 1e-9)
	assert.InDelta(t, 0.99, got.Confidence, 1e-9)
}

func TestEngine_InjectMemoryValidates(t *testing.T) {
	e, _ := newEngine(t, newScriptedExtractor(), &recordingGenerator{}, engine.DefaultConfig())

	_, err := e.InjectMemory(context.Background(), types.KindUnknown, "k", "v", 0.9)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = e.InjectMemory(context.Background(), types.KindFact, " ", "v", 0.9)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	d, err := e.InjectMemory(context.Background(), types.KindConstraint, "Diet", "vegan", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "diet", d.Candidate.Key)
	assert.Len(t, e.MemoriesByKind(types.KindConstraint), 1)

	again, err := e.InjectMemory(context.Background(), types.KindConstraint, "diet", "Vegan", 0)
	require.NoError(t, err)
	assert.Equal(t, types.OpNoop, again.Operation)
}

func TestEngine_Reset(t *testing.T) {
	ex := newScriptedExtractor()
	e, store := newEngine(t, ex, &recordingGenerator{}, engine.DefaultConfig())
	ctx := context.Background()

	ex.script(1, memoryAt(types.KindConstraint, "diet", "vegan", 1))
	_, err := e.Chat(ctx, "I'm vegan")
	require.NoError(t, err)
	require.Equal(t, 1, store.Count())

	require.NoError(t, e.Reset(ctx))

	assert.Zero(t, store.Count())
	assert.Zero(t, e.CurrentTurn())
	assert.Empty(t, e.History())
	_, err = e.Turn(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	r, err := e.Chat(ctx, "hi again")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Turn)
	assert.Empty(t, r.MemoriesUsed)
}

func TestEngine_Stats(t *testing.T) {
	ex := newScriptedExtractor()
	e, _ := newEngine(t, ex, &recordingGenerator{}, engine.DefaultConfig())
	ctx := context.Background()

	ex.script(1,
		memoryAt(types.KindConstraint, "diet", "vegan", 1),
		memoryAt(types.KindFact, "city", "Lisbon", 1),
	)
	_, err := e.Chat(ctx, "I'm a vegan living in Lisbon")
	require.NoError(t, err)

	s := e.Stats()
	assert.Equal(t, 1, s.Turn)
	assert.Equal(t, 2, s.TotalMemories)
	assert.Equal(t, 1, s.ByKind["constraint"])
	assert.Equal(t, 1, s.ByKind["fact"])
	assert.Equal(t, 2, s.ByStatus["active"])
	assert.InDelta(t, 1.0, s.AverageHeat, 1e-9)
	assert.Equal(t, 2, s.HistoryLength)
	assert.Zero(t, s.PendingJobs)
}

func TestEngine_Closed(t *testing.T) {
	e, _ := newEngine(t, newScriptedExtractor(), &recordingGenerator{}, engine.DefaultConfig())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Chat(context.Background(), "hi")
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, e.Reset(context.Background()), engine.ErrClosed)
}

func TestEngine_CancelledContext(t *testing.T) {
	e, _ := newEngine(t, newScriptedExtractor(), &recordingGenerator{}, engine.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Chat(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, e.CurrentTurn())
}

func TestEngine_WithStartTurnResumesCounter(t *testing.T) {
	e, _ := newEngine(t, newScriptedExtractor(), &recordingGenerator{}, engine.DefaultConfig(), engine.WithStartTurn(41))
	assert.Equal(t, 41, e.CurrentTurn())

	r, err := e.Chat(context.Background(), "hello again")
	require.NoError(t, err)
	assert.Equal(t, 42, r.Turn)
}
