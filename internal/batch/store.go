// Package batch implements component J of the organizer: the per-batch
// state machine that drives directories through fetch, organize, publish,
// and callback, persisting progress to SQLite so a process restart resumes
// from the last committed phase instead of re-running finished work.
package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Arke-Institute/arke-organizer-service/internal/model"
)

// ErrAlreadyProcessing is returned by Store.Create when a non-terminal
// batch with the same (batch_id, chunk_id) already exists.
var ErrAlreadyProcessing = errors.New("batch: already processing")

// ErrNotFound is returned when no batch exists for the given key.
var ErrNotFound = errors.New("batch: not found")

// Store persists BatchState keyed by (batch_id, chunk_id).
type Store interface {
	Create(ctx context.Context, state *model.BatchState) error
	Get(ctx context.Context, batchID, chunkID string) (*model.BatchState, error)
	Save(ctx context.Context, state *model.BatchState) error
	Delete(ctx context.Context, batchID, chunkID string) error
	ListActive(ctx context.Context) ([]*model.BatchState, error)
}

// SQLStore is the SQLite-backed Store used in production; internal/db.Open
// provides the *sql.DB with migrations already applied.
type SQLStore struct {
	DB *sql.DB
}

// NewSQLStore wraps an already-migrated *sql.DB.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db}
}

func (s *SQLStore) Create(ctx context.Context, state *model.BatchState) error {
	existing, err := s.Get(ctx, state.BatchID, state.ChunkID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && existing.Phase != model.PhaseDone && existing.Phase != model.PhaseError {
		return ErrAlreadyProcessing
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("batch: marshal state: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO batches (batch_id, chunk_id, phase, state_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (batch_id, chunk_id) DO UPDATE SET phase = excluded.phase, state_json = excluded.state_json, updated_at = CURRENT_TIMESTAMP
	`, state.BatchID, state.ChunkID, state.Phase, string(payload))
	if err != nil {
		return fmt.Errorf("batch: insert state: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, batchID, chunkID string) (*model.BatchState, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT state_json FROM batches WHERE batch_id = ? AND chunk_id = ?`, batchID, chunkID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("batch: query state: %w", err)
	}
	var state model.BatchState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("batch: unmarshal state: %w", err)
	}
	return &state, nil
}

func (s *SQLStore) Save(ctx context.Context, state *model.BatchState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("batch: marshal state: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE batches SET phase = ?, state_json = ?, updated_at = CURRENT_TIMESTAMP
		WHERE batch_id = ? AND chunk_id = ?
	`, state.Phase, string(payload), state.BatchID, state.ChunkID)
	if err != nil {
		return fmt.Errorf("batch: update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("batch: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, batchID, chunkID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM batches WHERE batch_id = ? AND chunk_id = ?`, batchID, chunkID)
	if err != nil {
		return fmt.Errorf("batch: delete state: %w", err)
	}
	return nil
}

func (s *SQLStore) ListActive(ctx context.Context) ([]*model.BatchState, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT state_json FROM batches WHERE phase NOT IN (?, ?)`, model.PhaseDone, model.PhaseError)
	if err != nil {
		return nil, fmt.Errorf("batch: list active: %w", err)
	}
	defer rows.Close()

	var states []*model.BatchState
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("batch: scan active state: %w", err)
		}
		var state model.BatchState
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			return nil, fmt.Errorf("batch: unmarshal active state: %w", err)
		}
		states = append(states, &state)
	}
	return states, rows.Err()
}
