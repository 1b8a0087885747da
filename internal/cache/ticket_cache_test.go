package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/events"
)

var fixedNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestCache(fetch FetchFunc, opts ...Option) *TicketCache {
	base := []Option{WithLocation(time.UTC), WithClock(func() time.Time { return fixedNow })}
	return New(fetch, append(base, opts...)...)
}

func staticFetch(tickets ...domain.Ticket) FetchFunc {
	return func(context.Context) ([]domain.Ticket, error) {
		return tickets, nil
	}
}

// gatedFetch blocks until release is closed.
type gatedFetch struct {
	started chan struct{}
	release chan struct{}
	result  []domain.Ticket
	err     error
}

func newGatedFetch(result []domain.Ticket, err error) *gatedFetch {
	return &gatedFetch{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  result,
		err:     err,
	}
}

func (g *gatedFetch) fetch(context.Context) ([]domain.Ticket, error) {
	close(g.started)
	<-g.release
	return g.result, g.err
}

func ptr[T any](v T) *T { return &v }

func ticketIDs(list []domain.Ticket) []int64 {
	out := make([]int64, 0, len(list))
	for _, t := range list {
		out = append(out, t.ID)
	}
	return out
}

func TestRefresh_ReplacesCollectionAndRecordsSync(t *testing.T) {
	c := newTestCache(staticFetch(domain.Ticket{ID: 1}, domain.Ticket{ID: 2}, domain.Ticket{ID: 1}))

	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, []int64{1, 2}, ticketIDs(c.Tickets()), "duplicates are dropped")
	assert.Equal(t, fixedNow, c.LastSync())
	assert.Equal(t, StatusIdle, c.Status())
}

func TestRefresh_IsIdempotent(t *testing.T) {
	c := newTestCache(staticFetch(domain.Ticket{ID: 1, Title: "a"}, domain.Ticket{ID: 2, Title: "b"}))
	c.SetSearchQuery("a")

	require.NoError(t, c.Refresh(context.Background()))
	first := append([]domain.Ticket(nil), c.FilteredTickets()...)
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, first, c.FilteredTickets())
}

func TestRefresh_FailureLeavesCollectionUnchanged(t *testing.T) {
	fetchErr := errors.New("backend down")
	calls := 0
	c := newTestCache(func(context.Context) ([]domain.Ticket, error) {
		calls++
		if calls == 1 {
			return []domain.Ticket{{ID: 1}}, nil
		}
		return nil, fetchErr
	})
	require.NoError(t, c.Refresh(context.Background()))

	err := c.Refresh(context.Background())

	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, []int64{1}, ticketIDs(c.Tickets()))
	assert.Equal(t, StatusIdle, c.Status())
}

func TestRefresh_ReplaysEventsReceivedDuringFlight(t *testing.T) {
	gate := newGatedFetch([]domain.Ticket{{ID: 1, Status: domain.TicketStatusOpen}, {ID: 2}}, nil)
	c := newTestCache(gate.fetch)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-gate.started

	assert.Equal(t, StatusLoading, c.Status())
	require.NoError(t, c.ApplyEvent(domain.NewUpdated(1, domain.TicketPatch{Status: ptr(domain.TicketStatusClosed)})))
	require.NoError(t, c.ApplyEvent(domain.NewCreated(domain.Ticket{ID: 3})))
	require.NoError(t, c.ApplyEvent(domain.NewDeleted(2)))
	assert.Equal(t, []int64{3, 1}, ticketIDs(c.Tickets()), "events apply immediately while loading")

	close(gate.release)
	require.NoError(t, <-done)

	got := c.Tickets()
	assert.Equal(t, []int64{3, 1}, ticketIDs(got), "stale snapshot does not undo live events")
	assert.Equal(t, domain.TicketStatusClosed, got[1].Status)
	assert.Equal(t, StatusIdle, c.Status())
}

func TestRefresh_FailedFetchDropsReplayLog(t *testing.T) {
	gate := newGatedFetch(nil, errors.New("timeout"))
	c := newTestCache(gate.fetch)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-gate.started
	require.NoError(t, c.ApplyEvent(domain.NewCreated(domain.Ticket{ID: 5})))
	close(gate.release)
	require.Error(t, <-done)

	assert.Equal(t, []int64{5}, ticketIDs(c.Tickets()))
	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestApplyEvent_RejectsMalformed(t *testing.T) {
	c := newTestCache(nil)
	c.ReplaceAll([]domain.Ticket{{ID: 1}}, fixedNow)
	before := c.Version()

	err := c.ApplyEvent(domain.ChangeEvent{Type: domain.ChangeUpdated})

	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
	assert.Equal(t, before, c.Version())
	assert.Equal(t, []int64{1}, ticketIDs(c.Tickets()))
}

func TestFilteredTickets_DateRangeIsInclusive(t *testing.T) {
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 4, 1, 0, 0, 0, time.UTC)
	c := newTestCache(nil)
	c.ReplaceAll([]domain.Ticket{
		{ID: 1, CreationDate: time.Date(2024, 1, 1, 23, 59, 59, 999999999, time.UTC)},
		{ID: 2, CreationDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ID: 3, CreationDate: time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)},
		{ID: 4, CreationDate: time.Date(2024, 1, 4, 23, 59, 59, 999000000, time.UTC)},
		{ID: 5, CreationDate: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
		{ID: 6},
	}, fixedNow)

	c.SetDateRange(&start, &end)

	assert.Equal(t, []int64{2, 3, 4}, ticketIDs(c.FilteredTickets()))
}

func TestFilteredTickets_StartOnlyDefaultsEndToToday(t *testing.T) {
	start := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	c := newTestCache(nil)
	c.ReplaceAll([]domain.Ticket{
		{ID: 1, CreationDate: time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC)},
		{ID: 2, CreationDate: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)},
		{ID: 3, CreationDate: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
	}, fixedNow)

	c.SetDateRange(&start, nil)

	assert.Equal(t, []int64{1}, ticketIDs(c.FilteredTickets()))

	c.SetDateRange(nil, nil)
	assert.Len(t, c.FilteredTickets(), 3)
}

func TestFilteredTickets_SearchMatchesConfiguredFields(t *testing.T) {
	c := newTestCache(nil)
	c.ReplaceAll([]domain.Ticket{
		{ID: 101, Title: "VPN down", Project: &domain.ProjectRef{ID: 1, Name: "Harbor"}},
		{ID: 202, Title: "New laptop"},
		{ID: 303, Title: "Printer", Project: &domain.ProjectRef{ID: 2, Name: "Lighthouse"}},
	}, fixedNow)

	c.SetSearchQuery("  HARB ")
	assert.Equal(t, []int64{101}, ticketIDs(c.FilteredTickets()))

	c.SetSearchQuery("laptop")
	assert.Equal(t, []int64{202}, ticketIDs(c.FilteredTickets()))

	c.SetSearchQuery("30")
	assert.Equal(t, []int64{303}, ticketIDs(c.FilteredTickets()))

	projectOnly := newTestCache(nil, WithSearchFields(SearchProjectName))
	projectOnly.ReplaceAll(c.Tickets(), fixedNow)
	projectOnly.SetSearchQuery("laptop")
	assert.Empty(t, projectOnly.FilteredTickets())
}

func TestFilteredTickets_CachedUntilInvalidated(t *testing.T) {
	c := newTestCache(nil)
	c.ReplaceAll([]domain.Ticket{{ID: 1}}, fixedNow)

	first := c.FilteredTickets()
	second := c.FilteredTickets()
	assert.Same(t, &first[0], &second[0])

	require.NoError(t, c.ApplyEvent(domain.NewCreated(domain.Ticket{ID: 2})))
	assert.Equal(t, []int64{2, 1}, ticketIDs(c.FilteredTickets()))
}

func TestCache_PublishesNotifications(t *testing.T) {
	d := events.NewInMemoryDispatcher(nil)
	var got []events.EventType
	record := func(_ context.Context, e events.Event) error {
		got = append(got, e.Type)
		return nil
	}
	d.Subscribe(events.EventTicketsReplaced, record)
	d.Subscribe(events.EventTicketChanged, record)
	d.Subscribe(events.EventFilterChanged, record)

	c := newTestCache(staticFetch(domain.Ticket{ID: 1}), WithDispatcher(d))
	require.NoError(t, c.Refresh(context.Background()))
	require.NoError(t, c.ApplyEvent(domain.NewDeleted(1)))
	c.SetSearchQuery("x")

	assert.Equal(t, []events.EventType{
		events.EventTicketsReplaced,
		events.EventTicketChanged,
		events.EventFilterChanged,
	}, got)
}
