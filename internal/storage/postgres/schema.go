// Package postgres provides a PostgreSQL + pgvector searchable tier.
package postgres

// Schema creates the vector table used by VectorIndex. The embedding column
// is left untyped so any embedder width can be stored; all rows written by
// one index share the embedder's width.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_vectors (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    model TEXT NOT NULL,
    embedding vector NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memory_vectors_model ON memory_vectors(model);
`
