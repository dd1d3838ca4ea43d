// Package synclog provides the append-only record of synchronization
// attempts. Every orchestrated sync opens exactly one attempt and closes it
// exactly once; the log is the engine's sole audit surface.
package synclog

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptNotFound is returned when closing or reading an unknown attempt
var ErrAttemptNotFound = errors.New("sync attempt not found")

// Mode describes how a sync attempt fetched its data
type Mode string

const (
	// ModeFull is a cursor source synced without a stored cursor
	ModeFull Mode = "full"

	// ModeIncremental is a cursor source synced from a stored cursor
	ModeIncremental Mode = "incremental"

	// ModeFeed is a feed source snapshot sync
	ModeFeed Mode = "feed"
)

// Outcome is the terminal state of a sync attempt
type Outcome string

const (
	// OutcomeSuccess means the attempt reconciled and persisted successfully
	OutcomeSuccess Outcome = "success"

	// OutcomeFailed means the attempt terminated with an error
	OutcomeFailed Outcome = "failed"
)

// Counts aggregates the reconciliation result of one attempt
type Counts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Attempt is one row of the sync log. Immutable once CompletedAt is set.
type Attempt struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Mode     Mode   `json:"mode"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Outcome Outcome `json:"outcome,omitempty"`
	Counts  Counts  `json:"counts"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Completed reports whether the attempt has been finalized
func (a *Attempt) Completed() bool {
	return a.CompletedAt != nil
}

// Stats are aggregate statistics derived from the log, never stored
type Stats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Log records synchronization attempts.
//
// Implementations must be safe for concurrent use but carry no retry or
// state-machine logic of their own.
type Log interface {
	// Open appends a new pending attempt and returns its id
	Open(ctx context.Context, sourceID string, mode Mode) (string, error)

	// Close finalizes the attempt. Closing an unknown attempt returns
	// ErrAttemptNotFound; closing a completed attempt is an error.
	Close(ctx context.Context, attemptID string, outcome Outcome, counts Counts, errMsg string) error

	// Recent returns the most recent attempts, newest first, optionally
	// filtered by source. sourceID == "" means all sources.
	Recent(ctx context.Context, sourceID string, limit int) ([]Attempt, error)

	// Stats derives aggregate statistics over completed attempts,
	// optionally filtered by source
	Stats(ctx context.Context, sourceID string) (Stats, error)
}
