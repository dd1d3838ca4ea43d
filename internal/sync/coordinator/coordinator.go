// Package coordinator schedules background synchronization: a jittered
// polling loop that syncs every source whose interval has elapsed since its
// last recorded attempt.
package coordinator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/tempora-hq/calsync-server/internal/config"
	"github.com/tempora-hq/calsync-server/internal/sync"
	"github.com/tempora-hq/calsync-server/internal/synclog"
)

const (
	// basePollingInterval is the base interval at which the coordinator
	// checks for due sources
	basePollingInterval = time.Minute

	// pollingJitter is the maximum random offset (±10 seconds) applied to
	// the polling interval
	pollingJitter = 10 * time.Second
)

// Syncer is the orchestrator surface the coordinator drives
type Syncer interface {
	SyncOne(ctx context.Context, sourceID string) sync.Result
}

// Coordinator manages background synchronization scheduling
type Coordinator interface {
	// Start begins background sync coordination.
	// Blocks until the context is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator
	Stop() error
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	syncer Syncer
	config *config.Config
	log    synclog.Log

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a new coordinator with injected dependencies
func New(syncer Syncer, log synclog.Log, cfg *config.Config) Coordinator {
	return &defaultCoordinator{
		syncer: syncer,
		config: cfg,
		log:    log,
		done:   make(chan struct{}),
	}
}

// calculatePollingInterval returns the base polling interval with a random
// jitter applied, so multiple instances do not hit remotes simultaneously.
func calculatePollingInterval() time.Duration {
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	jitterOffset := time.Duration(rand.Int64N(int64(2*pollingJitter))) - pollingJitter
	return basePollingInterval + jitterOffset
}

// Start begins background sync coordination
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting background sync coordinator", "source_count", len(c.config.Sources))

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Background sync coordinator shutting down")
	}()

	pollingInterval := calculatePollingInterval()
	slog.Info("Configured coordinator polling interval",
		"base_interval", basePollingInterval,
		"actual_interval", pollingInterval)

	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	// Initial pass so a fresh instance does not wait a full interval
	c.processDueSources(coordCtx)

	for {
		select {
		case <-ticker.C:
			c.processDueSources(coordCtx)

			// Recalculate interval with new jitter for next iteration
			ticker.Reset(calculatePollingInterval())
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping sync coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// processDueSources syncs every enabled source whose interval has elapsed
func (c *defaultCoordinator) processDueSources(ctx context.Context) {
	for i := range c.config.Sources {
		if ctx.Err() != nil {
			return
		}

		src := &c.config.Sources[i]
		if !src.IsEnabled() {
			continue
		}

		due, err := c.isDue(ctx, src)
		if err != nil {
			slog.Error("Error checking sync schedule",
				"source", src.SourceID(),
				"error", err)
			continue
		}
		if !due {
			slog.Debug("Source does not need sync", "source", src.SourceID())
			continue
		}

		res := c.syncer.SyncOne(ctx, src.SourceID())
		if res.Err != nil {
			slog.Error("Scheduled sync failed",
				"source", src.SourceID(),
				"error", res.Err)
		}
	}
}

// isDue reports whether the source's interval has elapsed since the start
// of its most recent attempt. Failed attempts count too: a source with a
// flapping remote retries on its interval, not on every tick.
func (c *defaultCoordinator) isDue(ctx context.Context, src *config.SourceConfig) (bool, error) {
	interval, err := src.GetInterval(c.config.SyncPolicy)
	if err != nil {
		return false, err
	}

	recent, err := c.log.Recent(ctx, src.SourceID(), 1)
	if err != nil {
		return false, err
	}
	if len(recent) == 0 {
		return true, nil
	}
	return time.Since(recent[0].StartedAt) >= interval, nil
}
