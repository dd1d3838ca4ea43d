// Package events defines the event data model shared by the sync engine:
// the remote representation delivered by source clients and the local
// projection persisted in the event cache.
package events

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state a remote reports for an event.
type Status string

const (
	// StatusConfirmed is an event that exists on the remote
	StatusConfirmed Status = "confirmed"

	// StatusCancelled is a tombstone: the event must be removed from the cache
	StatusCancelled Status = "cancelled"
)

// RemoteEvent is the closed, normalized representation of one event as
// decoded at a client boundary. Loosely-typed remote payloads are decoded
// into this shape exactly once; downstream code never re-parses RawPayload.
type RemoteEvent struct {
	// ID is the event identifier, unique within its source
	ID string

	Title       string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	Status Status

	// RecurrenceRule is the raw RRULE string, if the event recurs
	RecurrenceRule string

	// RawPayload is the opaque serialized original, kept for debugging only
	RawPayload []byte
}

// IsTombstone reports whether this event signals a deletion
func (e *RemoteEvent) IsTombstone() bool {
	return e.Status == StatusCancelled
}

// Validate checks the fields the reconciler depends on. Tombstones only
// need an ID; live events additionally need a coherent time range.
func (e *RemoteEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event has no id")
	}
	if e.IsTombstone() {
		return nil
	}
	if e.Start.IsZero() {
		return fmt.Errorf("event %s: start time is missing", e.ID)
	}
	if !e.End.IsZero() && e.End.Before(e.Start) {
		return fmt.Errorf("event %s: end %s before start %s", e.ID, e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	return nil
}

// CachedEvent is the local projection of one remote event. (SourceID, ID)
// is the primary key. Cancelled events are never stored: cancellation is a
// tombstone handled by the reconciler, not a persisted state.
type CachedEvent struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`

	RecurrenceRule string `json:"recurrence_rule,omitempty"`

	RawPayload []byte `json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
}

// FromRemote builds the cached projection of a non-tombstone remote event
func FromRemote(sourceID string, re *RemoteEvent, now time.Time) *CachedEvent {
	return &CachedEvent{
		ID:             re.ID,
		SourceID:       sourceID,
		Title:          re.Title,
		Description:    re.Description,
		Location:       re.Location,
		Start:          re.Start,
		End:            re.End,
		AllDay:         re.AllDay,
		RecurrenceRule: re.RecurrenceRule,
		RawPayload:     re.RawPayload,
		UpdatedAt:      now,
	}
}
