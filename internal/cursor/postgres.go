package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore implements Store on a Postgres pool
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new database-backed cursor store
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (p *pgStore) Get(ctx context.Context, sourceID string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT cursor_value FROM sync_cursors WHERE source_id = $1`, sourceID).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get cursor for source '%s': %w", sourceID, err)
	}
	return value, nil
}

func (p *pgStore) Set(ctx context.Context, sourceID, value string) error {
	if value == "" {
		return fmt.Errorf("refusing to store an empty cursor for source '%s'", sourceID)
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_cursors (source_id, cursor_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_id) DO UPDATE SET
			cursor_value = EXCLUDED.cursor_value,
			updated_at = EXCLUDED.updated_at`,
		sourceID, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set cursor for source '%s': %w", sourceID, err)
	}
	return nil
}

func (p *pgStore) Clear(ctx context.Context, sourceID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM sync_cursors WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to clear cursor for source '%s': %w", sourceID, err)
	}
	return nil
}
