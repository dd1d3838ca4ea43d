// Package memory provides an in-memory EventStore, used by tests and by
// deployments that can afford to re-sync from scratch on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/store"
)

// Store implements store.EventStore using in-memory maps
type Store struct {
	mu     sync.RWMutex
	events map[string]*events.CachedEvent // key: sourceID/eventID
}

// New creates a new in-memory event store
func New() *Store {
	return &Store{
		events: make(map[string]*events.CachedEvent),
	}
}

func key(sourceID, id string) string {
	return fmt.Sprintf("%s/%s", sourceID, id)
}

// Get returns the cached event, or store.ErrNotFound
func (s *Store) Get(_ context.Context, sourceID, id string) (*events.CachedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[key(sourceID, id)]
	if !ok {
		return nil, store.ErrNotFound
	}

	evCopy := *ev
	return &evCopy, nil
}

// Upsert inserts or overwrites the event
func (s *Store) Upsert(_ context.Context, event *events.CachedEvent) error {
	if event.SourceID == "" || event.ID == "" {
		return fmt.Errorf("event is missing its primary key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evCopy := *event
	s.events[key(event.SourceID, event.ID)] = &evCopy
	return nil
}

// Delete removes the event; absent events are ignored
func (s *Store) Delete(_ context.Context, sourceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, key(sourceID, id))
	return nil
}

// ListIDs returns all cached event ids for the source
func (s *Store) ListIDs(_ context.Context, sourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for _, ev := range s.events {
		if ev.SourceID == sourceID {
			ids = append(ids, ev.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Query returns events for the source overlapping the range, ordered by start time
func (s *Store) Query(_ context.Context, sourceID string, rng store.TimeRange) ([]*events.CachedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*events.CachedEvent, 0)
	for _, ev := range s.events {
		if ev.SourceID != sourceID {
			continue
		}
		if !rng.Contains(ev.Start, ev.End) {
			continue
		}
		evCopy := *ev
		result = append(result, &evCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Start.Equal(result[j].Start) {
			return result[i].ID < result[j].ID
		}
		return result[i].Start.Before(result[j].Start)
	})
	return result, nil
}

// DeleteSource removes every cached event for the source
func (s *Store) DeleteSource(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ev := range s.events {
		if ev.SourceID == sourceID {
			delete(s.events, k)
		}
	}
	return nil
}
