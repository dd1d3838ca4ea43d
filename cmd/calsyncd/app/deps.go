package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"

	"github.com/tempora-hq/calsync-server/internal/clients"
	"github.com/tempora-hq/calsync-server/internal/config"
	"github.com/tempora-hq/calsync-server/internal/cursor"
	"github.com/tempora-hq/calsync-server/internal/db"
	"github.com/tempora-hq/calsync-server/internal/reconcile"
	"github.com/tempora-hq/calsync-server/internal/store"
	storememory "github.com/tempora-hq/calsync-server/internal/store/memory"
	storepg "github.com/tempora-hq/calsync-server/internal/store/postgres"
	enginesync "github.com/tempora-hq/calsync-server/internal/sync"
	"github.com/tempora-hq/calsync-server/internal/synclog"
)

// apiTokenEnv carries the bearer token for cursor source APIs. Injected as
// an oauth2 static token source; a real deployment swaps in a refreshing
// source the same way.
const apiTokenEnv = "CALSYNC_API_TOKEN"

// dependencies bundles everything the serve and sync commands wire up
type dependencies struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	events  store.EventStore
	cursors cursor.Store
	log     synclog.Log
	orch    *enginesync.Orchestrator
}

// buildDependencies loads configuration and assembles the engine. With a
// database configured, all state lives in Postgres; otherwise events and
// the sync log are in-memory and cursors persist under dataDir.
func buildDependencies(ctx context.Context, configPath, dataDir string) (*dependencies, error) {
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	deps := &dependencies{cfg: cfg}

	if cfg.Database != nil {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := db.RegisterSources(ctx, pool, cfg); err != nil {
			pool.Close()
			return nil, err
		}
		deps.pool = pool
		deps.events = storepg.New(pool)
		deps.cursors = cursor.NewPostgresStore(pool)
		deps.log = synclog.NewPostgresLog(pool)
	} else {
		slog.Info("No database configured, using local state", "data_dir", dataDir)
		if err := os.MkdirAll(dataDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		deps.events = storememory.New()
		deps.cursors = cursor.NewFileStore(dataDir)
		deps.log = synclog.NewMemoryLog()
	}

	var factoryOpts []clients.FactoryOption
	if token := os.Getenv(apiTokenEnv); token != "" {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		factoryOpts = append(factoryOpts, clients.WithAPIHTTPClient(oauth2.NewClient(ctx, source)))
	}

	deps.orch = enginesync.New(
		cfg,
		clients.NewFactory(factoryOpts...),
		reconcile.New(deps.events),
		deps.cursors,
		deps.log,
	)
	return deps, nil
}

func (d *dependencies) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}
