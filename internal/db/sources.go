package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tempora-hq/calsync-server/internal/config"
)

// RegisterSources reconciles the sources table with the configuration:
// configured sources are upserted, and sources no longer configured are
// removed, cascading away their cached events and cursors.
func RegisterSources(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error {
	ids := make([]string, 0, len(cfg.Sources))
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		ids = append(ids, src.SourceID())

		_, err := pool.Exec(ctx, `
			INSERT INTO sources (source_id, kind, name, enabled)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (source_id) DO UPDATE SET
				enabled = EXCLUDED.enabled`,
			src.SourceID(), string(src.GetKind()), src.Name, src.IsEnabled())
		if err != nil {
			return fmt.Errorf("failed to register source %s: %w", src.SourceID(), err)
		}
	}

	tag, err := pool.Exec(ctx, `DELETE FROM sources WHERE NOT (source_id = ANY($1))`, ids)
	if err != nil {
		return fmt.Errorf("failed to remove deconfigured sources: %w", err)
	}
	if tag.RowsAffected() > 0 {
		slog.Info("Removed deconfigured sources", "count", tag.RowsAffected())
	}

	slog.Info("Registered sources", "count", len(ids))
	return nil
}
