package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage/chromem"
	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/internal/storage/tiered"
	"github.com/scrypster/engram/pkg/types"
)

// newStores opens an in-memory tiered store backed by SQLite and a hash
// embedder index.
func newStores(t *testing.T) (*tiered.Store, *sqlite.MemoryStore) {
	t.Helper()
	durable, err := sqlite.NewMemoryStore(":memory:", nil)
	require.NoError(t, err)
	index, err := chromem.NewIndex(llm.NewHashEmbedder(0))
	require.NoError(t, err)

	store, err := tiered.New(context.Background(), durable, index, tiered.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, durable
}

func seed(t *testing.T, store *tiered.Store, memories ...*types.Memory) {
	t.Helper()
	for _, m := range memories {
		require.NoError(t, store.Add(context.Background(), m))
	}
}

func memoryAt(kind types.Kind, key, value string, turn int) *types.Memory {
	return types.NewMemory(kind, key, value, turn, 0.9)
}

// scriptedExtractor returns the candidates scripted for each turn. A gate, if
// set, blocks extraction until it is closed.
type scriptedExtractor struct {
	mu     sync.Mutex
	byTurn map[int][]*types.Memory
	gate   chan struct{}
	calls  []string
}

func newScriptedExtractor() *scriptedExtractor {
	return &scriptedExtractor{byTurn: make(map[int][]*types.Memory)}
}

func (s *scriptedExtractor) script(turn int, memories ...*types.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTurn[turn] = memories
}

func (s *scriptedExtractor) Extract(_ context.Context, message string, turn int) types.Extraction {
	s.mu.Lock()
	gate := s.gate
	s.calls = append(s.calls, message)
	candidates := s.byTurn[turn]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return types.Extraction{Candidates: candidates, FilteredIn: candidates}
}

// recordingGenerator echoes a fixed reply and records what it was given.
type recordingGenerator struct {
	mu       sync.Mutex
	replies  []string
	systems  []string
	messages []string
	history  [][]types.Message
}

func (g *recordingGenerator) Generate(_ context.Context, system, message string, history []types.Message) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.systems = append(g.systems, system)
	g.messages = append(g.messages, message)
	g.history = append(g.history, append([]types.Message(nil), history...))

	if len(g.replies) == 0 {
		return "ok"
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply
}

func (g *recordingGenerator) lastHistory() []types.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.history[len(g.history)-1]
}

func (g *recordingGenerator) lastSystem() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.systems[len(g.systems)-1]
}
