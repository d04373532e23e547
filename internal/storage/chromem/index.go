// Package chromem implements the in-process searchable tier on top of
// chromem-go. Index texts are embedded with an llm.EmbeddingGenerator and
// compared by cosine similarity.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/storage"
)

const collectionName = "memories"

// Index implements storage.SearchIndex with a chromem-go collection.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   llm.EmbeddingGenerator

	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIndex creates an empty in-memory index. It is rebuilt from the durable
// tier on every startup, so it is never persisted on its own.
func NewIndex(embedder llm.EmbeddingGenerator) (*Index, error) {
	db := chromem.NewDB()

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &Index{
		db:         db,
		collection: col,
		embedder:   embedder,
		ids:        make(map[string]struct{}),
	}, nil
}

// Upsert indexes text under id. Text without meaningful tokens is not
// indexed, since a zero vector has no direction to compare.
func (i *Index) Upsert(ctx context.Context, id, text string) error {
	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", id, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.ids[id]; ok {
		if err := i.collection.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("failed to replace %s: %w", id, err)
		}
		delete(i.ids, id)
	}
	if llm.IsZeroVector(vec) {
		return nil
	}

	doc := chromem.Document{ID: id, Content: text, Embedding: vec}
	if err := i.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index %s: %w", id, err)
	}
	i.ids[id] = struct{}{}
	return nil
}

// Remove drops id from the index.
func (i *Index) Remove(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.ids[id]; !ok {
		return nil
	}
	if err := i.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}
	delete(i.ids, id)
	return nil
}

// Search returns up to topK documents with similarity strictly above
// threshold, most similar first.
func (i *Index) Search(ctx context.Context, query string, topK int, threshold float64) ([]storage.IndexHit, error) {
	if topK <= 0 {
		return nil, nil
	}

	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if llm.IsZeroVector(vec) {
		return nil, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	// chromem rejects nResults larger than the collection.
	n := i.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if topK < n {
		n = topK
	}

	results, err := i.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	hits := make([]storage.IndexHit, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim > threshold {
			hits = append(hits, storage.IndexHit{ID: r.ID, Similarity: sim})
		}
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() int {
	return i.collection.Count()
}

// Close is a no-op for the in-memory collection.
func (i *Index) Close() error {
	return nil
}

// Compile-time assertion.
var _ storage.SearchIndex = (*Index)(nil)
