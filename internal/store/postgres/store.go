// Package postgres provides the Postgres-backed EventStore.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/store"
)

// Store implements store.EventStore on a Postgres pool
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres-backed event store
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const eventColumns = `event_id, source_id, title, description, location,
	start_time, end_time, all_day, recurrence_rule, raw_payload, updated_at`

// Get returns the cached event, or store.ErrNotFound
func (s *Store) Get(ctx context.Context, sourceID, id string) (*events.CachedEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source_id = $1 AND event_id = $2`,
		sourceID, id)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// Upsert inserts or unconditionally overwrites the event
func (s *Store) Upsert(ctx context.Context, event *events.CachedEvent) error {
	if event.SourceID == "" || event.ID == "" {
		return fmt.Errorf("event is missing its primary key")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (event_id, source_id, title, description, location,
			start_time, end_time, all_day, recurrence_rule, raw_payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_id, event_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			all_day = EXCLUDED.all_day,
			recurrence_rule = EXCLUDED.recurrence_rule,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = EXCLUDED.updated_at`,
		event.ID, event.SourceID, event.Title, event.Description, event.Location,
		event.Start, event.End, event.AllDay, event.RecurrenceRule, event.RawPayload,
		event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

// Delete removes the event; absent events are ignored
func (s *Store) Delete(ctx context.Context, sourceID, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE source_id = $1 AND event_id = $2`, sourceID, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// ListIDs returns all cached event ids for the source
func (s *Store) ListIDs(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id FROM events WHERE source_id = $1 ORDER BY event_id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list event ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Query returns events for the source overlapping the range, ordered by start time
func (s *Store) Query(ctx context.Context, sourceID string, rng store.TimeRange) ([]*events.CachedEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE source_id = $1`
	args := []any{sourceID}

	if !rng.To.IsZero() {
		args = append(args, rng.To)
		query += fmt.Sprintf(" AND start_time < $%d", len(args))
	}
	if !rng.From.IsZero() {
		args = append(args, rng.From)
		query += fmt.Sprintf(" AND end_time > $%d", len(args))
	}
	query += " ORDER BY start_time, event_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	result := make([]*events.CachedEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// DeleteSource removes every cached event for the source
func (s *Store) DeleteSource(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM events WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete source events: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*events.CachedEvent, error) {
	var ev events.CachedEvent
	err := row.Scan(&ev.ID, &ev.SourceID, &ev.Title, &ev.Description, &ev.Location,
		&ev.Start, &ev.End, &ev.AllDay, &ev.RecurrenceRule, &ev.RawPayload, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
