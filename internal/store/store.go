// Package store defines the event cache contract consumed by the sync engine.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tempora-hq/calsync-server/internal/events"
)

// ErrNotFound is returned when a requested event does not exist in the cache
var ErrNotFound = errors.New("event not found")

// TimeRange is a half-open interval [From, To) used for range queries
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether an event overlapping [start, end) intersects the range
func (r TimeRange) Contains(start, end time.Time) bool {
	if !r.To.IsZero() && !start.Before(r.To) {
		return false
	}
	if !r.From.IsZero() && !end.IsZero() && !end.After(r.From) {
		return false
	}
	return true
}

// EventStore is the persistent event cache. (sourceID, id) is the primary key.
//
// Implementations must be safe for concurrent use; the orchestrator may run
// reconciliations for different sources in parallel.
type EventStore interface {
	// Get returns the cached event, or ErrNotFound
	Get(ctx context.Context, sourceID, id string) (*events.CachedEvent, error)

	// Upsert inserts or unconditionally overwrites the event
	Upsert(ctx context.Context, event *events.CachedEvent) error

	// Delete removes the event. Deleting an absent event is not an error.
	Delete(ctx context.Context, sourceID, id string) error

	// ListIDs returns all cached event ids for the source
	ListIDs(ctx context.Context, sourceID string) ([]string, error)

	// Query returns cached events for the source overlapping the range,
	// ordered by start time
	Query(ctx context.Context, sourceID string, rng TimeRange) ([]*events.CachedEvent, error)

	// DeleteSource removes every cached event for the source
	DeleteSource(ctx context.Context, sourceID string) error
}
