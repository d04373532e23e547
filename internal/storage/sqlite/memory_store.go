// Package sqlite implements the durable memory tier and the turn result store
// on top of SQLite (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// MemoryStore implements storage.DurableStore using SQLite.
type MemoryStore struct {
	db     *sql.DB
	dsn    string
	logger *slog.Logger
}

// NewMemoryStore opens (or creates) a SQLite database at dsn. ":memory:" gives
// a private in-memory database that lives as long as the store.
//
// If the initial open fails because a crashed process left stale WAL files
// behind, the files are removed and the open is retried once.
func NewMemoryStore(dsn string, logger *slog.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openMemoryStore(dsn, logger)
	if err == nil {
		return store, nil
	}

	dbPath := dbPathFromDSN(dsn)
	if !isRecoverableWALError(err) || dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath, logger)

	store, retryErr := openMemoryStore(dsn, logger)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	logger.Warn("sqlite: recovered from stale WAL files", "path", dbPath)
	return store, nil
}

func openMemoryStore(dsn string, logger *slog.Logger) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serialises writes and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MemoryStore{db: db, dsn: dsn, logger: logger}, nil
}

const upsertMemorySQL = `
	INSERT INTO memories (
		id, kind, key, value, source_turn, last_recalled_turn,
		heat, confidence, status, index_text, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		kind = excluded.kind,
		key = excluded.key,
		value = excluded.value,
		source_turn = excluded.source_turn,
		last_recalled_turn = excluded.last_recalled_turn,
		heat = excluded.heat,
		confidence = excluded.confidence,
		status = excluded.status,
		index_text = excluded.index_text,
		updated_at = excluded.updated_at
`

const selectMemorySQL = `
	SELECT id, kind, key, value, source_turn, last_recalled_turn,
		heat, confidence, status, index_text, created_at, updated_at
	FROM memories
`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Upsert creates or replaces a memory by ID.
func (s *MemoryStore) Upsert(ctx context.Context, memory *types.Memory) error {
	if err := validateMemory(memory); err != nil {
		return err
	}
	if err := upsert(ctx, s.db, memory); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// UpsertBatch writes all memories in one transaction.
func (s *MemoryStore) UpsertBatch(ctx context.Context, memories []*types.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	for _, m := range memories {
		if err := validateMemory(m); err != nil {
			return err
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, m := range memories {
			if err := upsert(ctx, tx, m); err != nil {
				return fmt.Errorf("failed to store memory %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

func upsert(ctx context.Context, db execer, m *types.Memory) error {
	_, err := db.ExecContext(ctx, upsertMemorySQL,
		m.ID, m.Kind.String(), m.Key, m.Value, m.SourceTurn, m.LastRecalledTurn,
		m.Heat, m.Confidence, m.Status.String(), m.IndexText,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return err
}

// Get retrieves a memory by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, selectMemorySQL+" WHERE id = ?", id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// Delete removes a memory. Unknown IDs are ignored.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	return nil
}

// DeleteBatch removes several memories in one transaction.
func (s *MemoryStore) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id); err != nil {
				return fmt.Errorf("failed to delete memory %s: %w", id, err)
			}
		}
		return nil
	})
}

// LoadAll returns every persisted memory, hottest first.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, selectMemorySQL+" ORDER BY heat DESC, created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}
	return memories, nil
}

// Purge removes every memory. Turn records are purged through Turns().
func (s *MemoryStore) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memories"); err != nil {
		return fmt.Errorf("failed to purge memories: %w", err)
	}
	return nil
}

// Turns returns the turn result store backed by the same database.
func (s *MemoryStore) Turns() *TurnStore {
	return &TurnStore{db: s.db}
}

// GetDB returns the underlying database handle.
func (s *MemoryStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *MemoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MemoryStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*types.Memory, error) {
	var (
		m            types.Memory
		kind, status string
	)
	err := row.Scan(
		&m.ID, &kind, &m.Key, &m.Value, &m.SourceTurn, &m.LastRecalledTurn,
		&m.Heat, &m.Confidence, &status, &m.IndexText, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if m.Kind, err = types.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("memory %s: %w", m.ID, err)
	}
	if m.Status, err = types.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("memory %s: %w", m.ID, err)
	}
	return &m, nil
}

func validateMemory(m *types.Memory) error {
	if m == nil {
		return storage.ErrInvalidInput
	}
	if m.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("%w: memory %s has invalid kind", storage.ErrInvalidInput, m.ID)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	return nil
}

// Compile-time assertion.
var _ storage.DurableStore = (*MemoryStore)(nil)
