package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/stylegen/internal/domain"
)

type MemoryUsageStore struct {
	mu   sync.RWMutex
	logs []domain.UsageLog
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) CreateUsageLog(_ context.Context, log domain.UsageLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *MemoryUsageStore) Summary(_ context.Context) (domain.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum domain.UsageSummary
	for _, l := range s.logs {
		sum.Jobs++
		sum.PromptTokens += l.PromptTokens
		sum.OutputTokens += l.OutputTokens
		sum.EstimatedCost += l.EstimatedCost
	}
	return sum, nil
}

// Logs returns a copy of the recorded rows.
func (s *MemoryUsageStore) Logs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UsageLog, len(s.logs))
	copy(out, s.logs)
	return out
}
