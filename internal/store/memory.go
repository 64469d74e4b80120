package store

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
)

// Memory is the in-process store used by tests and one-shot CLI runs.
type Memory struct {
	mu       sync.RWMutex
	listings map[string]model.Listing
	activity []model.ActivityEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{listings: make(map[string]model.Listing)}
}

func (s *Memory) Migrate(context.Context) error { return nil }

func (s *Memory) GetListing(_ context.Context, id string) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, eris.Wrapf(faults.ErrNotFound, "store: listing %s", id)
	}
	copied := l
	return &copied, nil
}

func (s *Memory) UpsertListing(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = *l
	return nil
}

func (s *Memory) DeleteListing(_ context.Context, id string) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, eris.Wrapf(faults.ErrNotFound, "store: listing %s", id)
	}
	delete(s.listings, id)
	return &l, nil
}

func (s *Memory) AppendActivity(_ context.Context, e model.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, e)
	if over := len(s.activity) - activityCap; over > 0 {
		s.activity = s.activity[over:]
	}
	return nil
}

func (s *Memory) ListActivity(_ context.Context, limit int) ([]model.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.activity) {
		limit = len(s.activity)
	}
	out := make([]model.ActivityEntry, 0, limit)
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.activity[i])
	}
	return out, nil
}

func (s *Memory) Close() error { return nil }
