package fake

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"deployd/internal/adapter/fake/fault"
	"deployd/internal/lifecycle"
)

var _ lifecycle.AttemptStore = (*AttemptStore)(nil)

const (
	FaultStoreSave = "store.save"
	FaultStoreGet  = "store.get"
	FaultStoreList = "store.list"
)

// AttemptStore is an in-memory lifecycle.AttemptStore.
type AttemptStore struct {
	CallRecorder
	Faults *fault.Injector

	mu       sync.Mutex
	attempts map[string]lifecycle.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		Faults:   fault.NewInjector(),
		attempts: make(map[string]lifecycle.Attempt),
	}
}

func (s *AttemptStore) SaveAttempt(ctx context.Context, a lifecycle.Attempt) error {
	s.record("SaveAttempt", a.ID, a.Phase)
	if err := s.Faults.Eval(ctx, FaultStoreSave, a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.attempts[a.ID]; ok && prev.IsTerminal() {
		return fmt.Errorf("save attempt %s: %w", a.ID, lifecycle.ErrAttemptTerminal)
	}
	s.attempts[a.ID] = a.Clone()
	return nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, id string) (lifecycle.Attempt, bool, error) {
	s.record("GetAttempt", id)
	if err := s.Faults.Eval(ctx, FaultStoreGet, id); err != nil {
		return lifecycle.Attempt{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return lifecycle.Attempt{}, false, nil
	}
	return a.Clone(), true, nil
}

func (s *AttemptStore) ListAttempts(ctx context.Context, targetID string, limit int) ([]lifecycle.Attempt, error) {
	s.record("ListAttempts", targetID, limit)
	if err := s.Faults.Eval(ctx, FaultStoreList, targetID); err != nil {
		return nil, err
	}
	return s.list(targetID, limit), nil
}

func (s *AttemptStore) LastServing(ctx context.Context, targetID string) (lifecycle.ArtifactRef, bool, error) {
	s.record("LastServing", targetID)
	if err := s.Faults.Eval(ctx, FaultStoreList, targetID); err != nil {
		return lifecycle.ArtifactRef{}, false, err
	}
	for _, a := range s.list(targetID, 0) {
		if ref, ok := a.ServingArtifact(); ok {
			return ref, true, nil
		}
	}
	return lifecycle.ArtifactRef{}, false, nil
}

func (s *AttemptStore) list(targetID string, limit int) []lifecycle.Attempt {
	s.mu.Lock()
	out := make([]lifecycle.Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		if targetID != "" && a.TargetID != targetID {
			continue
		}
		out = append(out, a.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b lifecycle.Attempt) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
