package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func TestBarSeries_IsDenseThroughToday(t *testing.T) {
	tickets := []domain.Ticket{
		{ID: 1, CreationDate: at(2024, 1, 1, 9)},
		{ID: 2, CreationDate: at(2024, 1, 3, 17), ClosingDate: ptr(at(2024, 1, 3, 20))},
	}

	got := BarSeries(tickets, at(2024, 1, 3, 23), time.UTC)

	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, got.Categories)
	require.Len(t, got.Series, 2)
	assert.Equal(t, SeriesCreated, got.Series[0].Name)
	assert.Equal(t, []float64{1, 0, 1}, got.Series[0].Data)
	assert.Equal(t, []float64{0, 0, 1}, got.Series[1].Data)
}

func TestBarSeries_ExtendsToToday(t *testing.T) {
	tickets := []domain.Ticket{{ID: 1, CreationDate: at(2024, 1, 1, 9)}}

	got := BarSeries(tickets, at(2024, 1, 4, 8), time.UTC)

	assert.Len(t, got.Categories, 4)
	assert.Equal(t, []float64{1, 0, 0, 0}, got.Series[0].Data)
}

func TestBarSeries_CapsSpan(t *testing.T) {
	tickets := []domain.Ticket{
		{ID: 1, CreationDate: at(1971, 1, 1, 9)},
		{ID: 2, CreationDate: at(2024, 1, 4, 9)},
	}

	got := BarSeries(tickets, at(2024, 1, 4, 12), time.UTC)

	require.Len(t, got.Categories, maxBarDays)
	assert.Equal(t, "2024-01-04", got.Categories[maxBarDays-1])
	assert.Equal(t, at(2024, 1, 4, 0).AddDate(0, 0, 1-maxBarDays).Format(dayLayout), got.Categories[0])
	assert.Equal(t, float64(1), got.Series[0].Data[maxBarDays-1])
	var total float64
	for _, v := range got.Series[0].Data {
		total += v
	}
	assert.Equal(t, float64(1), total)
}

func TestBarSeries_Empty(t *testing.T) {
	got := BarSeries(nil, at(2024, 1, 4, 8), time.UTC)

	assert.Empty(t, got.Categories)
	require.Len(t, got.Series, 2)
	assert.Empty(t, got.Series[0].Data)
}

func TestAreaSeries_AveragesWithContract(t *testing.T) {
	day := at(2024, 2, 1, 8)
	tickets := []domain.Ticket{
		{ID: 1, CreationDate: day, FirstResponseAt: ptr(day.Add(3 * time.Hour)), HasContract: true, ContractValid: true},
		{ID: 2, CreationDate: day, FirstResponseAt: ptr(day.Add(5 * time.Hour)), HasContract: true, ContractValid: true},
		{ID: 3, CreationDate: day, HasContract: true, ContractValid: true},
	}

	got := AreaSeries(tickets, time.UTC)

	assert.Equal(t, []string{"2024-02-01"}, got.Categories)
	assert.Equal(t, SeriesWithContract, got.Series[0].Name)
	assert.Equal(t, []float64{4.00}, got.Series[0].Data)
	assert.Equal(t, []float64{0}, got.Series[1].Data)
}

func TestAreaSeries_SplitsAndRounds(t *testing.T) {
	day := at(2024, 2, 2, 0)
	tickets := []domain.Ticket{
		{ID: 1, CreationDate: day, FirstResponseAt: ptr(day.Add(20 * time.Minute)), HasContract: true},
		{ID: 2, CreationDate: day, FirstResponseAt: ptr(day.Add(-time.Hour))},
		{ID: 3, CreationDate: day, FirstResponseAt: ptr(day.Add(10 * time.Minute)), HasContract: true, ContractValid: true},
	}

	got := AreaSeries(tickets, time.UTC)

	assert.Equal(t, []float64{0.17}, got.Series[0].Data)
	assert.Equal(t, []float64{0.17}, got.Series[1].Data, "negative response floored at zero")
}

func TestDonutSeries_SortedByLabel(t *testing.T) {
	tickets := []domain.Ticket{
		{ID: 1, Type: domain.TicketTypeSoftware},
		{ID: 2, Type: domain.TicketTypeChange},
		{ID: 3},
		{ID: 4, Type: domain.TicketTypeSoftware},
	}

	got := DonutSeries(tickets)

	assert.Equal(t, []Slice{
		{Label: "CHANGE", Value: 1},
		{Label: "SOFTWARE", Value: 2},
		{Label: "UNKNOWN", Value: 1},
	}, got)
}

func TestComputeKPIs(t *testing.T) {
	tickets := []domain.Ticket{
		{ID: 1, Status: domain.TicketStatusOpen},
		{ID: 2, Status: domain.TicketStatusOpen, ProjectID: ptr(int64(3))},
		{ID: 3, Status: domain.TicketStatusEscalated, Project: &domain.ProjectRef{ID: 1}},
		{ID: 4, Status: domain.TicketStatusPending, ProjectID: ptr(int64(1))},
		{ID: 5, Status: domain.TicketStatusInProgress, ProjectID: ptr(int64(1))},
		{ID: 6, Status: domain.TicketStatusClosed, ProjectID: ptr(int64(1))},
	}

	assert.Equal(t, KPIs{Open: 2, Escalated: 1, Pending: 1, InProgress: 1, Unlinked: 1}, ComputeKPIs(tickets))
}

type fakeSource struct {
	tickets []domain.Ticket
	version uint64
	reads   int
}

func (f *fakeSource) FilteredTickets() []domain.Ticket {
	f.reads++
	return f.tickets
}

func (f *fakeSource) Version() uint64 { return f.version }

func TestAggregator_MemoizesOnVersionAndDay(t *testing.T) {
	src := &fakeSource{tickets: []domain.Ticket{{ID: 1, Status: domain.TicketStatusOpen, CreationDate: at(2024, 1, 1, 0)}}, version: 1}
	now := at(2024, 1, 2, 10)
	agg := NewAggregator(src, time.UTC, func() time.Time { return now })

	first := agg.Snapshot()
	agg.Snapshot()
	assert.Equal(t, 1, src.reads)
	assert.Equal(t, 1, first.KPIs.Open)
	assert.Len(t, first.Bar.Categories, 2)

	now = at(2024, 1, 3, 1)
	next := agg.Snapshot()
	assert.Equal(t, 2, src.reads, "day rollover recomputes")
	assert.Len(t, next.Bar.Categories, 3)

	src.version = 2
	src.tickets = nil
	assert.Equal(t, 0, agg.Snapshot().Total)
	assert.Equal(t, 3, src.reads)
}
