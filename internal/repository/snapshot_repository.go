package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// Snapshot is a persisted copy of the ticket collection.
type Snapshot struct {
	Tickets  []domain.Ticket
	SyncedAt time.Time
}

// SnapshotRepository keeps the last synchronized collection for warm starts.
type SnapshotRepository interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
}

type snapshotDocument struct {
	SyncedAt time.Time            `json:"syncedAt"`
	Tickets  []dto.TicketResponse `json:"tickets"`
}

type snapshotDecodeDocument struct {
	SyncedAt time.Time           `json:"syncedAt"`
	Tickets  []dto.TicketPayload `json:"tickets"`
}

type snapshotRepository struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	loc    *time.Location
}

// NewSnapshotRepository stores the snapshot under prefix + "snapshot".
// ttl of zero keeps it forever.
func NewSnapshotRepository(client *redis.Client, prefix string, ttl time.Duration, loc *time.Location) SnapshotRepository {
	if loc == nil {
		loc = time.Local
	}
	return &snapshotRepository{client: client, key: prefix + "snapshot", ttl: ttl, loc: loc}
}

func (r *snapshotRepository) Save(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snapshotDocument{
		SyncedAt: snap.SyncedAt,
		Tickets:  dto.NewTicketResponses(snap.Tickets),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.client.Set(ctx, r.key, raw, r.ttl).Err()
}

func (r *snapshotRepository) Load(ctx context.Context) (Snapshot, bool, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}

	var doc snapshotDecodeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	snap := Snapshot{SyncedAt: doc.SyncedAt, Tickets: make([]domain.Ticket, 0, len(doc.Tickets))}
	for _, p := range doc.Tickets {
		t, err := p.ToTicket(r.loc)
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("decode snapshot ticket %d: %w", p.ID, err)
		}
		snap.Tickets = append(snap.Tickets, t)
	}
	return snap, true, nil
}
