// Package cursor provides persistence for per-source synchronization cursors.
//
// A cursor is an opaque remote-issued token. Absence of a cursor means "no
// prior sync": the next sync for that source runs in full mode. Cursors are
// written only by the orchestrator after a reconciliation succeeds, and
// cleared when the remote declares the stored cursor invalid.
package cursor

import "context"

// Store persists one cursor per cursor-capable source.
//
// Implementations carry no retry or state-machine logic; all policy lives
// in the orchestrator.
type Store interface {
	// Get returns the stored cursor for the source, or "" if none exists
	Get(ctx context.Context, sourceID string) (string, error)

	// Set stores the cursor for the source, replacing any previous value
	Set(ctx context.Context, sourceID, value string) error

	// Clear removes the stored cursor for the source. Clearing an absent
	// cursor is not an error.
	Clear(ctx context.Context, sourceID string) error
}
