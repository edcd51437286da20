package batch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Arke-Institute/arke-organizer-service/internal/model"
)

// memStore is an in-memory Store for tests, avoiding a real SQLite file.
// It round-trips through JSON the same way SQLStore does, so a test that
// mutates a returned *model.BatchState in place can't accidentally leak
// changes back into the store without going through Save.
type memStore struct {
	mu    sync.Mutex
	rows  map[string]string
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]string)} }

func key(batchID, chunkID string) string { return batchID + "/" + chunkID }

func (s *memStore) Create(ctx context.Context, state *model.BatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(state.BatchID, state.ChunkID)
	if existing, ok := s.rows[k]; ok {
		var prev model.BatchState
		_ = json.Unmarshal([]byte(existing), &prev)
		if prev.Phase != model.PhaseDone && prev.Phase != model.PhaseError {
			return ErrAlreadyProcessing
		}
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.rows[k] = string(payload)
	return nil
}

func (s *memStore) Get(ctx context.Context, batchID, chunkID string) (*model.BatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.rows[key(batchID, chunkID)]
	if !ok {
		return nil, ErrNotFound
	}
	var state model.BatchState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *memStore) Save(ctx context.Context, state *model.BatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(state.BatchID, state.ChunkID)
	if _, ok := s.rows[k]; !ok {
		return ErrNotFound
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.rows[k] = string(payload)
	return nil
}

func (s *memStore) Delete(ctx context.Context, batchID, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key(batchID, chunkID))
	return nil
}

func (s *memStore) ListActive(ctx context.Context) ([]*model.BatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states []*model.BatchState
	for _, payload := range s.rows {
		var state model.BatchState
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			return nil, err
		}
		states = append(states, &state)
	}
	return states, nil
}
