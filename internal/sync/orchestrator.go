// Package sync implements the synchronization orchestrator: the one place
// that decides full vs. incremental mode, drives the source clients, feeds
// batches to the reconciler, and owns the cursor lifecycle including the
// one-shot full-resync fallback after a cursor invalidation.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"golang.org/x/sync/semaphore"

	"github.com/tempora-hq/calsync-server/internal/clients"
	"github.com/tempora-hq/calsync-server/internal/config"
	"github.com/tempora-hq/calsync-server/internal/cursor"
	"github.com/tempora-hq/calsync-server/internal/reconcile"
	"github.com/tempora-hq/calsync-server/internal/remote"
	"github.com/tempora-hq/calsync-server/internal/synclog"
)

// Result is what every sync request resolves to; callers always get one,
// never a panic or an unlogged failure.
type Result struct {
	SourceID string
	Mode     synclog.Mode
	Success  bool
	Counts   reconcile.Counts

	// Retried reports that a cursor invalidation forced a full resync
	Retried bool

	Err error
}

// inflightSync lets concurrent syncs of one source coalesce onto the first
// caller's result
type inflightSync struct {
	done   chan struct{}
	result Result
}

// Orchestrator coordinates synchronization across all configured sources
type Orchestrator struct {
	cfg        *config.Config
	factory    clients.Factory
	reconciler *reconcile.Reconciler
	cursors    cursor.Store
	log        synclog.Log
	workers    int64

	mu       gosync.Mutex
	inflight map[string]*inflightSync
}

// New creates the orchestrator
func New(
	cfg *config.Config,
	factory clients.Factory,
	reconciler *reconcile.Reconciler,
	cursors cursor.Store,
	log synclog.Log,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		factory:    factory,
		reconciler: reconciler,
		cursors:    cursors,
		log:        log,
		workers:    int64(cfg.GetWorkers()),
		inflight:   make(map[string]*inflightSync),
	}
}

// SyncAll synchronizes every enabled source, optionally filtered by kind.
// Sources run concurrently up to the configured worker bound; one source's
// failure never aborts its siblings. Context cancellation stops launching
// new sources but lets in-flight ones finish.
func (o *Orchestrator) SyncAll(ctx context.Context, kinds ...config.SourceKind) []Result {
	var filter map[config.SourceKind]bool
	if len(kinds) > 0 {
		filter = make(map[config.SourceKind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	sem := semaphore.NewWeighted(o.workers)
	var wg gosync.WaitGroup
	var mu gosync.Mutex
	results := make([]Result, 0, len(o.cfg.Sources))

	for i := range o.cfg.Sources {
		src := &o.cfg.Sources[i]
		if !src.IsEnabled() {
			slog.Debug("Skipping disabled source", "source", src.SourceID())
			continue
		}
		if filter != nil && !filter[src.GetKind()] {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			results = append(results, Result{
				SourceID: src.SourceID(),
				Err:      fmt.Errorf("sync not started: %w", err),
			})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			res := o.SyncOne(ctx, src.SourceID())
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// SyncOne synchronizes a single source by id. A call racing an in-flight
// sync of the same source does not start a second pass; it waits and
// returns the in-flight result.
func (o *Orchestrator) SyncOne(ctx context.Context, sourceID string) Result {
	src := o.cfg.FindSource(sourceID)
	if src == nil {
		return Result{SourceID: sourceID, Err: fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)}
	}
	if !src.IsEnabled() {
		return Result{SourceID: sourceID, Err: fmt.Errorf("%w: %s", ErrSourceDisabled, sourceID)}
	}

	o.mu.Lock()
	if in, ok := o.inflight[sourceID]; ok {
		o.mu.Unlock()
		slog.Debug("Coalescing onto in-flight sync", "source", sourceID)
		select {
		case <-in.done:
			return in.result
		case <-ctx.Done():
			return Result{SourceID: sourceID, Err: ctx.Err()}
		}
	}
	in := &inflightSync{done: make(chan struct{})}
	o.inflight[sourceID] = in
	o.mu.Unlock()

	res := o.syncSource(ctx, src, true)

	o.mu.Lock()
	in.result = res
	delete(o.inflight, sourceID)
	o.mu.Unlock()
	close(in.done)

	return res
}

// syncSource runs one complete sync pass. allowRetry bounds the cursor
// invalidation fallback: the retry pass runs with allowRetry=false, so a
// second invalidation is a hard failure instead of an unbounded loop.
func (o *Orchestrator) syncSource(ctx context.Context, src *config.SourceConfig, allowRetry bool) Result {
	sourceID := src.SourceID()
	res := Result{SourceID: sourceID}

	mode, storedCursor, err := o.selectMode(ctx, src)
	if err != nil {
		res.Err = err
		return res
	}
	res.Mode = mode

	slog.Info("Syncing source", "source", sourceID, "mode", mode)

	attemptID, err := o.log.Open(ctx, sourceID, mode)
	if err != nil {
		res.Err = fmt.Errorf("failed to open sync attempt: %w", err)
		return res
	}

	batch, strategy, err := o.fetch(ctx, src, mode, storedCursor)
	if err != nil {
		o.closeAttempt(ctx, attemptID, synclog.OutcomeFailed, reconcile.Counts{}, err)

		if errors.Is(err, remote.ErrCursorInvalidated) {
			return o.handleInvalidation(ctx, src, allowRetry, res, err)
		}
		res.Err = err
		return res
	}

	counts, err := o.reconciler.Apply(ctx, sourceID, batch.Events, strategy)
	if err != nil {
		err = fmt.Errorf("reconciliation failed: %w", err)
		o.closeAttempt(ctx, attemptID, synclog.OutcomeFailed, counts, err)

		// A partially applied batch may already be ahead of the stored
		// cursor; drop it so the next pass re-fetches from scratch
		if src.GetKind() == config.SourceKindCursor && storedCursor != "" {
			o.clearCursor(ctx, sourceID)
		}
		res.Err = err
		return res
	}

	if src.GetKind() == config.SourceKindCursor && batch.NextCursor != "" {
		if err := o.cursors.Set(ctx, sourceID, batch.NextCursor); err != nil {
			err = fmt.Errorf("failed to persist cursor: %w", err)
			o.closeAttempt(ctx, attemptID, synclog.OutcomeFailed, counts, err)
			res.Err = err
			return res
		}
	}

	o.closeAttempt(ctx, attemptID, synclog.OutcomeSuccess, counts, nil)

	slog.Info("Sync complete",
		"source", sourceID,
		"mode", mode,
		"added", counts.Added,
		"updated", counts.Updated,
		"deleted", counts.Deleted,
		"skipped", counts.Skipped)

	res.Success = true
	res.Counts = counts
	return res
}

// handleInvalidation implements the one-shot fallback: clear the cursor
// and rerun the same source, which now necessarily selects full mode.
func (o *Orchestrator) handleInvalidation(
	ctx context.Context,
	src *config.SourceConfig,
	allowRetry bool,
	res Result,
	cause error,
) Result {
	sourceID := src.SourceID()
	o.clearCursor(ctx, sourceID)

	if !allowRetry {
		res.Err = fmt.Errorf("cursor invalidated again during full resync: %w", cause)
		return res
	}

	slog.Info("Cursor invalidated, retrying as full sync", "source", sourceID)
	retry := o.syncSource(ctx, src, false)
	retry.Retried = true
	return retry
}

// selectMode derives the sync mode from the source kind and cursor presence
func (o *Orchestrator) selectMode(ctx context.Context, src *config.SourceConfig) (synclog.Mode, string, error) {
	if src.GetKind() == config.SourceKindFeed {
		return synclog.ModeFeed, "", nil
	}

	stored, err := o.cursors.Get(ctx, src.SourceID())
	if err != nil {
		return "", "", fmt.Errorf("failed to read cursor: %w", err)
	}
	if stored == "" {
		return synclog.ModeFull, "", nil
	}
	return synclog.ModeIncremental, stored, nil
}

// fetch obtains the complete batch for one pass together with the strategy
// to apply it: cursor batches carry explicit tombstones, feed snapshots are
// authoritative and reconcile by full replacement.
func (o *Orchestrator) fetch(
	ctx context.Context,
	src *config.SourceConfig,
	mode synclog.Mode,
	storedCursor string,
) (*clients.Batch, reconcile.Strategy, error) {
	switch mode {
	case synclog.ModeFeed:
		client, err := o.factory.Feed(src)
		if err != nil {
			return nil, "", err
		}
		batch, err := client.FetchSnapshot(ctx)
		return batch, reconcile.StrategyFullReplace, err

	case synclog.ModeFull:
		client, err := o.factory.Cursor(src)
		if err != nil {
			return nil, "", err
		}
		batch, err := client.FetchFull(ctx)
		return batch, reconcile.StrategyIncremental, err

	case synclog.ModeIncremental:
		client, err := o.factory.Cursor(src)
		if err != nil {
			return nil, "", err
		}
		batch, err := client.FetchIncremental(ctx, storedCursor)
		return batch, reconcile.StrategyIncremental, err

	default:
		return nil, "", fmt.Errorf("unknown sync mode %q", mode)
	}
}

func (o *Orchestrator) clearCursor(ctx context.Context, sourceID string) {
	if err := o.cursors.Clear(ctx, sourceID); err != nil {
		slog.Error("Failed to clear cursor", "source", sourceID, "error", err)
	}
}

// closeAttempt finalizes the log row. A failure to close is logged and
// swallowed: the sync outcome itself must not depend on the audit trail.
func (o *Orchestrator) closeAttempt(
	ctx context.Context,
	attemptID string,
	outcome synclog.Outcome,
	counts reconcile.Counts,
	cause error,
) {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	logCounts := synclog.Counts{
		Added:   counts.Added,
		Updated: counts.Updated,
		Deleted: counts.Deleted,
	}
	if err := o.log.Close(ctx, attemptID, outcome, logCounts, errMsg); err != nil {
		slog.Error("Failed to close sync attempt", "attempt", attemptID, "error", err)
	}
}
