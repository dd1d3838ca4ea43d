// Package reconcile applies a fetched event batch to the local cache.
//
// Two strategies cover the two source protocols: incremental batches carry
// explicit tombstones and touch only the events they name, while
// full-replace batches are authoritative snapshots and additionally delete
// every cached event absent from the batch.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/store"
)

// Strategy selects how a batch is applied to the cache
type Strategy string

const (
	// StrategyIncremental applies only the adds, updates and tombstones
	// present in the batch, trusting the remote to report all changes
	StrategyIncremental Strategy = "incremental"

	// StrategyFullReplace applies the batch and then deletes every cached
	// event for the source that the batch does not mention. An event the
	// batch mentions but fails to validate is skipped, never deleted.
	StrategyFullReplace Strategy = "full-replace"
)

// Counts aggregates what one Apply changed. Skipped counts events dropped
// for per-event validation failures; it never affects the other counts.
type Counts struct {
	Added   int
	Updated int
	Deleted int
	Skipped int
}

// Reconciler diffs event batches against the cache and applies them
type Reconciler struct {
	store store.EventStore
	now   func() time.Time
}

// New creates a reconciler over the given event cache
func New(eventStore store.EventStore) *Reconciler {
	return &Reconciler{
		store: eventStore,
		now:   time.Now,
	}
}

// Apply reconciles one batch for one source.
//
// Individual invalid events are logged and skipped; store failures abort
// the whole apply, since a partially corrupted cache is worse than a failed
// sync. Upserts are unconditional: an event present in both the batch and
// the cache counts as updated even when its content is unchanged.
func (r *Reconciler) Apply(ctx context.Context, sourceID string, batch []events.RemoteEvent, strategy Strategy) (Counts, error) {
	switch strategy {
	case StrategyIncremental, StrategyFullReplace:
	default:
		return Counts{}, fmt.Errorf("unknown reconciliation strategy %q", strategy)
	}

	var counts Counts
	seen := make(map[string]bool, len(batch))

	for i := range batch {
		ev := &batch[i]
		// A skipped event is still present in the batch: mark it seen so a
		// full replace keeps its cached copy instead of deleting it
		if ev.ID != "" {
			seen[ev.ID] = true
		}
		if err := ev.Validate(); err != nil {
			slog.Warn("Skipping invalid event",
				"source", sourceID,
				"event", ev.ID,
				"error", err)
			counts.Skipped++
			continue
		}

		if ev.IsTombstone() {
			deleted, err := r.deleteIfPresent(ctx, sourceID, ev.ID)
			if err != nil {
				return counts, err
			}
			if deleted {
				counts.Deleted++
			}
			continue
		}

		added, err := r.upsert(ctx, sourceID, ev)
		if err != nil {
			return counts, err
		}
		if added {
			counts.Added++
		} else {
			counts.Updated++
		}
	}

	if strategy == StrategyFullReplace {
		deleted, err := r.deleteAbsent(ctx, sourceID, seen)
		if err != nil {
			return counts, err
		}
		counts.Deleted += deleted
	}

	return counts, nil
}

// upsert writes the event and reports whether it was new to the cache
func (r *Reconciler) upsert(ctx context.Context, sourceID string, ev *events.RemoteEvent) (bool, error) {
	_, err := r.store.Get(ctx, sourceID, ev.ID)
	added := false
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("failed to read cached event %s: %w", ev.ID, err)
		}
		added = true
	}

	cached := events.FromRemote(sourceID, ev, r.now().UTC())
	if err := r.store.Upsert(ctx, cached); err != nil {
		return false, fmt.Errorf("failed to upsert event %s: %w", ev.ID, err)
	}
	return added, nil
}

func (r *Reconciler) deleteIfPresent(ctx context.Context, sourceID, id string) (bool, error) {
	_, err := r.store.Get(ctx, sourceID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cached event %s: %w", id, err)
	}
	if err := r.store.Delete(ctx, sourceID, id); err != nil {
		return false, fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return true, nil
}

// deleteAbsent removes every cached event the snapshot did not mention
func (r *Reconciler) deleteAbsent(ctx context.Context, sourceID string, seen map[string]bool) (int, error) {
	ids, err := r.store.ListIDs(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to list cached events: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if err := r.store.Delete(ctx, sourceID, id); err != nil {
			return deleted, fmt.Errorf("failed to delete event %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}
