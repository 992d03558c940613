package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pubflow/pubflow/engine/event"
	"github.com/pubflow/pubflow/engine/outbox"
)

// OutboxStore implements outbox.Store on the event_outbox table. Insert is
// expected to run on the same transaction as the mutation producing the
// event; ClaimPending runs on the pool from the poller.
type OutboxStore struct {
	db DB
}

func NewOutboxStore(db DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Insert(ctx context.Context, ev *event.Event) (uuid.UUID, error) {
	payload, err := ev.Marshal()
	if err != nil {
		return uuid.Nil, err
	}
	query := `
        INSERT INTO event_outbox (id, event_type, payload)
        VALUES ($1, $2, $3)
    `
	id := uuid.New()
	if _, err := s.db.Exec(ctx, query, id, string(ev.Type), payload); err != nil {
		return uuid.Nil, fmt.Errorf("inserting outbox row: %w", err)
	}
	return id, nil
}

// ClaimPending picks up to limit unpublished rows, bumping their attempt
// counter. SKIP LOCKED keeps concurrent pollers from claiming the same
// rows; a row claimed by a poller that then crashes is retried on the next
// sweep because published_at stays NULL.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int) ([]*outbox.Row, error) {
	query := `
        UPDATE event_outbox
        SET attempts = attempts + 1
        WHERE id IN (
            SELECT id FROM event_outbox
            WHERE published_at IS NULL
            ORDER BY created_at ASC
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, event_type, payload, created_at, published_at, attempts
    `
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox rows: %w", err)
	}
	defer rows.Close()
	var claimed []*outbox.Row
	for rows.Next() {
		row := &outbox.Row{}
		if err := rows.Scan(&row.ID, &row.EventType, &row.Payload,
			&row.CreatedAt, &row.PublishedAt, &row.Attempts); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading outbox rows: %w", err)
	}
	return claimed, nil
}

func (s *OutboxStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
        UPDATE event_outbox
        SET published_at = now()
        WHERE id = ANY($1) AND published_at IS NULL
    `
	if _, err := s.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("marking outbox rows published: %w", err)
	}
	return nil
}

// MarkFailed is a no-op beyond the attempt counter bumped at claim time; it
// exists so the poller can hook delivery failures without deleting rows.
// Rows stay eligible for the next sweep until they publish.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE event_outbox
        SET last_error_at = now()
        WHERE id = $1
    `
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("marking outbox row failed: %w", err)
	}
	return nil
}
