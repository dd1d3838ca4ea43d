package synclog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultRecentLimit bounds Recent when the caller passes limit <= 0
const defaultRecentLimit = 50

// memoryLog implements Log with an in-memory slice, append-only and ordered
// by StartedAt
type memoryLog struct {
	mu       sync.RWMutex
	attempts []Attempt
	byID     map[string]int
}

// NewMemoryLog creates a new in-memory sync log
func NewMemoryLog() Log {
	return &memoryLog{
		byID: make(map[string]int),
	}
}

func (m *memoryLog) Open(_ context.Context, sourceID string, mode Mode) (string, error) {
	if sourceID == "" {
		return "", fmt.Errorf("source id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.attempts = append(m.attempts, Attempt{
		ID:        id,
		SourceID:  sourceID,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	})
	m.byID[id] = len(m.attempts) - 1
	return id, nil
}

func (m *memoryLog) Close(_ context.Context, attemptID string, outcome Outcome, counts Counts, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.byID[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}

	attempt := &m.attempts[idx]
	if attempt.Completed() {
		return fmt.Errorf("attempt %s is already completed", attemptID)
	}

	now := time.Now().UTC()
	attempt.CompletedAt = &now
	attempt.Outcome = outcome
	attempt.Counts = counts
	attempt.ErrorMessage = errMsg
	return nil
}

func (m *memoryLog) Recent(_ context.Context, sourceID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Attempt, 0, limit)
	for i := len(m.attempts) - 1; i >= 0 && len(result) < limit; i-- {
		if sourceID != "" && m.attempts[i].SourceID != sourceID {
			continue
		}
		result = append(result, m.attempts[i])
	}
	return result, nil
}

func (m *memoryLog) Stats(_ context.Context, sourceID string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	for i := range m.attempts {
		a := &m.attempts[i]
		if sourceID != "" && a.SourceID != sourceID {
			continue
		}
		if !a.Completed() {
			continue
		}
		stats.Total++
		switch a.Outcome {
		case OutcomeSuccess:
			stats.Successful++
		case OutcomeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}
