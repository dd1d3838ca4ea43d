package synclog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgLog implements Log on a Postgres pool. Stats are derived by
// aggregation at read time, never maintained as separate state.
type pgLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog creates a new database-backed sync log
func NewPostgresLog(pool *pgxpool.Pool) Log {
	return &pgLog{pool: pool}
}

func (p *pgLog) Open(ctx context.Context, sourceID string, mode Mode) (string, error) {
	if sourceID == "" {
		return "", fmt.Errorf("source id is required")
	}

	id := uuid.New()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_attempts (id, source_id, mode, started_at)
		VALUES ($1, $2, $3, $4)`,
		id, sourceID, string(mode), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to open sync attempt: %w", err)
	}
	return id.String(), nil
}

func (p *pgLog) Close(ctx context.Context, attemptID string, outcome Outcome, counts Counts, errMsg string) error {
	id, err := uuid.Parse(attemptID)
	if err != nil {
		return fmt.Errorf("invalid attempt id '%s': %w", attemptID, err)
	}

	var errCol *string
	if errMsg != "" {
		errCol = &errMsg
	}

	// completed_at IS NULL enforces close-exactly-once
	tag, err := p.pool.Exec(ctx, `
		UPDATE sync_attempts SET
			completed_at = $2,
			outcome = $3,
			added = $4,
			updated = $5,
			deleted = $6,
			error_message = $7
		WHERE id = $1 AND completed_at IS NULL`,
		id, time.Now().UTC(), string(outcome),
		counts.Added, counts.Updated, counts.Deleted, errCol)
	if err != nil {
		return fmt.Errorf("failed to close sync attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM sync_attempts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check sync attempt: %w", err)
		}
		if !exists {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("attempt %s is already completed", attemptID)
	}
	return nil
}

func (p *pgLog) Recent(ctx context.Context, sourceID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := `
		SELECT id, source_id, mode, started_at, completed_at,
			COALESCE(outcome, ''), added, updated, deleted, COALESCE(error_message, '')
		FROM sync_attempts`
	args := []any{}
	if sourceID != "" {
		args = append(args, sourceID)
		query += " WHERE source_id = $1"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync attempts: %w", err)
	}
	defer rows.Close()

	result := make([]Attempt, 0, limit)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync attempt: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *pgLog) Stats(ctx context.Context, sourceID string) (Stats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'success'),
			COUNT(*) FILTER (WHERE outcome = 'failed')
		FROM sync_attempts
		WHERE completed_at IS NOT NULL`
	args := []any{}
	if sourceID != "" {
		args = append(args, sourceID)
		query += " AND source_id = $1"
	}

	var stats Stats
	err := p.pool.QueryRow(ctx, query, args...).Scan(&stats.Total, &stats.Successful, &stats.Failed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("failed to derive sync stats: %w", err)
	}
	return stats, nil
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var (
		a       Attempt
		id      uuid.UUID
		mode    string
		outcome string
	)
	err := row.Scan(&id, &a.SourceID, &mode, &a.StartedAt, &a.CompletedAt,
		&outcome, &a.Counts.Added, &a.Counts.Updated, &a.Counts.Deleted, &a.ErrorMessage)
	if err != nil {
		return Attempt{}, err
	}
	a.ID = id.String()
	a.Mode = Mode(mode)
	a.Outcome = Outcome(outcome)
	return a, nil
}
