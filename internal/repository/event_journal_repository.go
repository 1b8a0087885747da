package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// EventJournalRepository stores accepted change events.
type EventJournalRepository interface {
	Append(ctx context.Context, entries []domain.JournalEntry) error
	Recent(ctx context.Context, limit int, ticketID *int64) ([]domain.JournalEntry, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type eventJournalRepository struct {
	pool *pgxpool.Pool
}

// NewEventJournalRepository builds repository.
func NewEventJournalRepository(pool *pgxpool.Pool) EventJournalRepository {
	return &eventJournalRepository{pool: pool}
}

func (r *eventJournalRepository) Append(ctx context.Context, entries []domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	const query = `
        INSERT INTO event_journal (id, ticket_id, change_type, payload, received_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.ID, e.TicketID, string(e.Type), e.Payload, e.ReceivedAt)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("append journal entry: %w", err)
		}
	}
	return nil
}

func (r *eventJournalRepository) Recent(ctx context.Context, limit int, ticketID *int64) ([]domain.JournalEntry, error) {
	const query = `
        SELECT id::text, ticket_id, change_type, payload, received_at
        FROM event_journal
        WHERE ($2::bigint IS NULL OR ticket_id = $2)
        ORDER BY received_at DESC
        LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.JournalEntry
	for rows.Next() {
		var (
			entry      domain.JournalEntry
			changeType string
		)
		if err := rows.Scan(&entry.ID, &entry.TicketID, &changeType, &entry.Payload, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		entry.Type = domain.ChangeType(changeType)
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *eventJournalRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM event_journal WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
