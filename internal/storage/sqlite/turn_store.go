package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// TurnStore implements storage.TurnStore. Each turn is written when the
// synchronous path finishes and completed when its background curation does,
// even if that happens after the turn was returned to the caller.
type TurnStore struct {
	db *sql.DB
}

// SaveTurn creates or replaces the record of result.Turn.
func (s *TurnStore) SaveTurn(ctx context.Context, result *types.TurnResult) error {
	if result == nil || result.Turn <= 0 {
		return fmt.Errorf("%w: turn number is required", storage.ErrInvalidInput)
	}

	used, err := marshalJSON(result.MemoriesUsed, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal memories_used: %w", err)
	}
	added, err := marshalJSON(result.MemoriesAdded, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal memories_added: %w", err)
	}
	evicted, err := marshalJSON(result.Evicted, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal evicted: %w", err)
	}
	ops, err := marshalJSON(result.CuratorOps, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal curator_ops: %w", err)
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turn_results (
			turn, user_message, response, prompt_block, latency_ms,
			memories_used, memories_added, evicted, extracted, curator_ops,
			pending, late, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(turn) DO UPDATE SET
			user_message = excluded.user_message,
			response = excluded.response,
			prompt_block = excluded.prompt_block,
			latency_ms = excluded.latency_ms,
			memories_used = excluded.memories_used,
			memories_added = excluded.memories_added,
			evicted = excluded.evicted,
			extracted = excluded.extracted,
			curator_ops = excluded.curator_ops,
			pending = excluded.pending,
			late = excluded.late,
			created_at = excluded.created_at,
			completed_at = excluded.completed_at`,
		result.Turn, result.UserMessage, result.Response, result.PromptBlock,
		result.Latency.Milliseconds(), used, added, evicted, result.Extracted, ops,
		result.Pending, result.Late, createdAt.UTC(), nullableTime(result.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save turn %d: %w", result.Turn, err)
	}
	return nil
}

// CompleteTurn merges a background outcome into turn's record.
// Returns ErrNotFound if the turn was never saved.
func (s *TurnStore) CompleteTurn(ctx context.Context, turn int, outcome types.BackgroundOutcome, late bool) error {
	added, err := marshalJSON(outcome.MemoriesAdded, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal memories_added: %w", err)
	}
	evicted, err := marshalJSON(outcome.Evicted, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal evicted: %w", err)
	}
	ops, err := marshalJSON(outcome.CuratorOps, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal curator_ops: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE turn_results
		SET memories_added = ?, evicted = ?, extracted = ?, curator_ops = ?,
			pending = 0, late = ?, completed_at = ?
		WHERE turn = ?`,
		added, evicted, outcome.Extracted, ops, late, time.Now().UTC(), turn,
	)
	if err != nil {
		return fmt.Errorf("failed to complete turn %d: %w", turn, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete turn %d: %w", turn, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const selectTurnSQL = `
	SELECT turn, user_message, response, prompt_block, latency_ms,
		memories_used, memories_added, evicted, extracted, curator_ops,
		pending, late, created_at, completed_at
	FROM turn_results
`

// GetTurn retrieves a turn record.
func (s *TurnStore) GetTurn(ctx context.Context, turn int) (*types.TurnResult, error) {
	r, err := scanTurn(s.db.QueryRowContext(ctx, selectTurnSQL+" WHERE turn = ?", turn))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn %d: %w", turn, err)
	}
	return r, nil
}

// ListTurns returns up to limit turns, newest first.
func (s *TurnStore) ListTurns(ctx context.Context, limit int) ([]*types.TurnResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectTurnSQL+" ORDER BY turn DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*types.TurnResult
	for rows.Next() {
		r, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, r)
	}
	return turns, rows.Err()
}

// Purge removes every turn record.
func (s *TurnStore) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM turn_results"); err != nil {
		return fmt.Errorf("failed to purge turns: %w", err)
	}
	return nil
}

func scanTurn(row scanner) (*types.TurnResult, error) {
	var (
		r                         types.TurnResult
		latencyMS                 int64
		used, added, evicted, ops string
		completedAt               sql.NullTime
	)
	err := row.Scan(
		&r.Turn, &r.UserMessage, &r.Response, &r.PromptBlock, &latencyMS,
		&used, &added, &evicted, &r.Extracted, &ops,
		&r.Pending, &r.Late, &r.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Latency = time.Duration(latencyMS) * time.Millisecond
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(used), &r.MemoriesUsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memories_used: %w", err)
	}
	if err := json.Unmarshal([]byte(added), &r.MemoriesAdded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memories_added: %w", err)
	}
	if err := json.Unmarshal([]byte(evicted), &r.Evicted); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evicted: %w", err)
	}
	if err := json.Unmarshal([]byte(ops), &r.CuratorOps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal curator_ops: %w", err)
	}
	return &r, nil
}

// marshalJSON encodes v, substituting empty for nil slices and maps.
func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Compile-time assertion.
var _ storage.TurnStore = (*TurnStore)(nil)
