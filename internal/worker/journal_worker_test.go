package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/observability"
)

type memoryJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
	err     error
	cutoff  time.Time
}

func (m *memoryJournal) Append(_ context.Context, entries []domain.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memoryJournal) Recent(context.Context, int, *int64) ([]domain.JournalEntry, error) {
	return nil, nil
}

func (m *memoryJournal) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff = cutoff
	return 3, m.err
}

func (m *memoryJournal) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestJournalWorker_FlushesOnShutdown(t *testing.T) {
	repo := &memoryJournal{}
	w := NewJournalWorker(repo, 16, observability.NewMetrics(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Record(domain.NewDeleted(4), []byte(`{"type":"DELETED","ticketId":4}`))
	w.Record(domain.NewCreated(domain.Ticket{ID: 5}), []byte(`{"type":"CREATED","ticket":{"id":5}}`))
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, 2, repo.count())
	assert.Equal(t, int64(4), repo.entries[0].TicketID)
	assert.Equal(t, domain.ChangeDeleted, repo.entries[0].Type)
	assert.NotEmpty(t, repo.entries[0].ID)
	assert.NotEqual(t, repo.entries[0].ID, repo.entries[1].ID)
}

func TestJournalWorker_DropsWhenFull(t *testing.T) {
	metrics := observability.NewMetrics()
	w := NewJournalWorker(&memoryJournal{}, 1, metrics, nil)

	w.Record(domain.NewDeleted(1), nil)
	w.Record(domain.NewDeleted(2), nil)

	assert.Equal(t, int64(1), metrics.Count(observability.CounterJournalDropped))
}

func TestJournalWorker_WriteFailureIsCounted(t *testing.T) {
	metrics := observability.NewMetrics()
	w := NewJournalWorker(&memoryJournal{err: errors.New("db down")}, 4, metrics, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Record(domain.NewDeleted(1), nil)
	cancel()
	require.NoError(t, w.Run(ctx))

	assert.Equal(t, int64(1), metrics.Count(observability.CounterJournalDropped))
}

func TestJournalWorker_Prune(t *testing.T) {
	repo := &memoryJournal{}
	w := NewJournalWorker(repo, 4, nil, nil)
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, w.Prune(context.Background(), 48*time.Hour))
	assert.Equal(t, now.Add(-48*time.Hour), repo.cutoff)

	repo.cutoff = time.Time{}
	require.NoError(t, w.Prune(context.Background(), 0))
	assert.True(t, repo.cutoff.IsZero())

	repo.err = errors.New("db down")
	assert.Error(t, w.Prune(context.Background(), time.Hour))
}
