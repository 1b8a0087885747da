package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/observability"
	"github.com/spec-kit/ticket-dashboard/internal/repository"
)

const (
	defaultBatchSize = 64
	flushInterval    = time.Second
	drainTimeout     = 5 * time.Second
)

// JournalWorker writes accepted change events to the journal off the feed
// goroutine. Events are dropped, and counted, when the buffer is full.
type JournalWorker struct {
	repo    repository.EventJournalRepository
	queue   chan domain.JournalEntry
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewJournalWorker creates a worker with a queue of buffer entries.
func NewJournalWorker(repo repository.EventJournalRepository, buffer int, metrics *observability.Metrics, logger *zap.Logger) *JournalWorker {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalWorker{
		repo:    repo,
		queue:   make(chan domain.JournalEntry, buffer),
		metrics: metrics,
		logger:  logger.Named("journal"),
		now:     time.Now,
	}
}

// Record enqueues evt without blocking.
func (w *JournalWorker) Record(evt domain.ChangeEvent, raw []byte) {
	payload := []byte("null")
	if len(raw) > 0 {
		payload = append([]byte(nil), raw...)
	}
	entry := domain.JournalEntry{
		ID:         uuid.NewString(),
		TicketID:   evt.ID(),
		Type:       evt.Type,
		Payload:    payload,
		ReceivedAt: w.now(),
	}
	select {
	case w.queue <- entry:
	default:
		w.metrics.Inc(observability.CounterJournalDropped)
		w.logger.Warn("journal queue full; entry dropped", zap.Int64("ticket_id", entry.TicketID))
	}
}

// Prune deletes entries received more than retention ago.
func (w *JournalWorker) Prune(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	removed, err := w.repo.PruneBefore(ctx, w.now().Add(-retention))
	if err != nil {
		return err
	}
	w.logger.Info("journal pruned", zap.Int64("removed", removed), zap.Duration("retention", retention))
	return nil
}

// Run flushes batches until ctx is done, then drains what is queued.
func (w *JournalWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]domain.JournalEntry, 0, defaultBatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.repo.Append(ctx, batch); err != nil {
			w.metrics.Inc(observability.CounterJournalDropped)
			w.logger.Error("journal write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			for {
				select {
				case entry := <-w.queue:
					batch = append(batch, entry)
					if len(batch) >= defaultBatchSize {
						flush(drainCtx)
					}
				default:
					flush(drainCtx)
					return nil
				}
			}
		case entry := <-w.queue:
			batch = append(batch, entry)
			if len(batch) >= defaultBatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
