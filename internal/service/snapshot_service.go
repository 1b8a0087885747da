package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/events"
	"github.com/spec-kit/ticket-dashboard/internal/repository"
)

const snapshotWriteTimeout = 5 * time.Second

// SnapshotSource exposes the collection to persist.
type SnapshotSource interface {
	Tickets() []domain.Ticket
	LastSync() time.Time
}

// SnapshotService persists the collection after every full refresh and
// restores it on start.
type SnapshotService struct {
	dispatcher events.Dispatcher
	source     SnapshotSource
	repo       repository.SnapshotRepository
	logger     *zap.Logger
}

// NewSnapshotService creates the service.
func NewSnapshotService(dispatcher events.Dispatcher, source SnapshotSource, repo repository.SnapshotRepository, logger *zap.Logger) *SnapshotService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotService{
		dispatcher: dispatcher,
		source:     source,
		repo:       repo,
		logger:     logger.Named("snapshot"),
	}
}

// RegisterHandlers subscribes to cache events.
func (s *SnapshotService) RegisterHandlers() {
	if s.dispatcher == nil || s.repo == nil {
		return
	}
	s.dispatcher.Subscribe(events.EventTicketsReplaced, s.handleTicketsReplaced)
}

// Restore loads the stored snapshot into replace, if one exists. It
// reports whether a snapshot was applied.
func (s *SnapshotService) Restore(ctx context.Context, replace func([]domain.Ticket, time.Time)) bool {
	if s.repo == nil {
		return false
	}
	snap, ok, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Warn("unable to load snapshot", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	replace(snap.Tickets, snap.SyncedAt)
	s.logger.Info("restored snapshot", zap.Int("tickets", len(snap.Tickets)), zap.Time("synced_at", snap.SyncedAt))
	return true
}

func (s *SnapshotService) handleTicketsReplaced(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketsReplacedPayload)
	if ok && payload.Restored {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotWriteTimeout)
	defer cancel()

	snap := repository.Snapshot{Tickets: s.source.Tickets(), SyncedAt: s.source.LastSync()}
	if err := s.repo.Save(ctx, snap); err != nil {
		return err
	}
	s.logger.Debug("snapshot saved", zap.Int("tickets", len(snap.Tickets)))
	return nil
}
