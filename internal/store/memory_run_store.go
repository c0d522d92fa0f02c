package store

import (
	"context"
	"sync"

	"github.com/dunamismax/facefilter/internal/domain"
)

type MemoryRunStore struct {
	mu   sync.RWMutex
	runs []domain.RunLog
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{}
}

func (s *MemoryRunStore) Record(_ context.Context, run domain.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// Recent returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *MemoryRunStore) Recent(_ context.Context, limit int) ([]domain.RunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.runs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.RunLog, 0, n)
	for i := len(s.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}
