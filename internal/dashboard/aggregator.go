// Package dashboard derives KPI counts and chart series from the filtered
// ticket view.
package dashboard

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

const dayLayout = "2006-01-02"

// maxBarDays bounds the bar chart to roughly the last ten years.
const maxBarDays = 3660

// Series names.
const (
	SeriesCreated         = "Created"
	SeriesClosed          = "Closed"
	SeriesWithContract    = "With contract"
	SeriesWithoutContract = "Without contract"
)

// KPIs are the headline counters.
type KPIs struct {
	Open       int
	Escalated  int
	Pending    int
	InProgress int
	Unlinked   int
}

// Series is one named line or bar group.
type Series struct {
	Name string
	Data []float64
}

// CategorySeries is a set of series sharing day categories.
type CategorySeries struct {
	Categories []string
	Series     []Series
}

// Slice is one donut segment.
type Slice struct {
	Label string
	Value int
}

// Snapshot holds every derived aggregate for one view state.
type Snapshot struct {
	KPIs  KPIs
	Bar   CategorySeries
	Donut []Slice
	Area  CategorySeries
	Total int
}

// Source is the view the aggregator reads.
type Source interface {
	FilteredTickets() []domain.Ticket
	Version() uint64
}

// Aggregator memoizes Compute over a Source. The result is recomputed when
// the source version or the calendar day changes.
type Aggregator struct {
	source Source
	loc    *time.Location
	now    func() time.Time

	mu       sync.Mutex
	cached   *Snapshot
	cachedAt uint64
	cachedOn string
}

// NewAggregator builds an aggregator. loc defaults to time.Local.
func NewAggregator(source Source, loc *time.Location, now func() time.Time) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{source: source, loc: loc, now: now}
}

// Snapshot returns the aggregates for the current view.
func (a *Aggregator) Snapshot() Snapshot {
	version := a.source.Version()
	today := a.now().In(a.loc)
	day := today.Format(dayLayout)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cached != nil && a.cachedAt == version && a.cachedOn == day {
		return *a.cached
	}
	snap := Compute(a.source.FilteredTickets(), today, a.loc)
	a.cached = &snap
	a.cachedAt = version
	a.cachedOn = day
	return snap
}

// Compute derives all aggregates from tickets. Day buckets use loc.
func Compute(tickets []domain.Ticket, now time.Time, loc *time.Location) Snapshot {
	return Snapshot{
		KPIs:  ComputeKPIs(tickets),
		Bar:   BarSeries(tickets, now, loc),
		Donut: DonutSeries(tickets),
		Area:  AreaSeries(tickets, loc),
		Total: len(tickets),
	}
}

// ComputeKPIs counts tickets per headline status and tickets without a
// project.
func ComputeKPIs(tickets []domain.Ticket) KPIs {
	var k KPIs
	for _, t := range tickets {
		switch t.Status {
		case domain.TicketStatusOpen:
			k.Open++
		case domain.TicketStatusEscalated:
			k.Escalated++
		case domain.TicketStatusPending:
			k.Pending++
		case domain.TicketStatusInProgress:
			k.InProgress++
		}
		if !t.HasProject() {
			k.Unlinked++
		}
	}
	return k
}

// BarSeries counts created and closed tickets per day, densely from the
// earliest creation day through today, keeping at most the last maxBarDays
// days. Creations and closings outside that range are not counted.
func BarSeries(tickets []domain.Ticket, now time.Time, loc *time.Location) CategorySeries {
	created := map[string]int{}
	closed := map[string]int{}
	var first, last time.Time
	for _, t := range tickets {
		if t.CreationDate.IsZero() {
			continue
		}
		day := domain.StartOfDay(t.CreationDate.In(loc))
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}
		created[day.Format(dayLayout)]++
		if t.ClosingDate != nil {
			closed[t.ClosingDate.In(loc).Format(dayLayout)]++
		}
	}
	if first.IsZero() {
		return CategorySeries{
			Categories: []string{},
			Series:     []Series{{Name: SeriesCreated, Data: []float64{}}, {Name: SeriesClosed, Data: []float64{}}},
		}
	}

	end := domain.StartOfDay(now.In(loc))
	if last.After(end) {
		end = last
	}
	if oldest := end.AddDate(0, 0, 1-maxBarDays); first.Before(oldest) {
		first = oldest
	}

	var days []string
	var createdData, closedData []float64
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		days = append(days, key)
		createdData = append(createdData, float64(created[key]))
		closedData = append(closedData, float64(closed[key]))
	}
	return CategorySeries{
		Categories: days,
		Series: []Series{
			{Name: SeriesCreated, Data: createdData},
			{Name: SeriesClosed, Data: closedData},
		},
	}
}

// DonutSeries counts tickets per type, ordered by label.
func DonutSeries(tickets []domain.Ticket) []Slice {
	counts := map[string]int{}
	for _, t := range tickets {
		label := string(t.Type)
		if label == "" {
			label = string(domain.TicketTypeUnknown)
		}
		counts[label]++
	}

	out := make([]Slice, 0, len(counts))
	for label, n := range counts {
		out = append(out, Slice{Label: label, Value: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

type bucket struct {
	sum float64
	n   int
}

func (b bucket) average() float64 {
	if b.n == 0 {
		return 0
	}
	return round2(b.sum / float64(b.n))
}

// AreaSeries averages hours to first response per creation day, split by
// contract coverage. Only tickets with a first response count.
func AreaSeries(tickets []domain.Ticket, loc *time.Location) CategorySeries {
	type pair struct{ with, without bucket }
	grouped := map[string]*pair{}

	for _, t := range tickets {
		if t.FirstResponseAt == nil || t.CreationDate.IsZero() {
			continue
		}
		key := t.CreationDate.In(loc).Format(dayLayout)
		hours := math.Max(0, t.FirstResponseAt.Sub(t.CreationDate).Hours())
		p, ok := grouped[key]
		if !ok {
			p = &pair{}
			grouped[key] = p
		}
		if t.UnderContract() {
			p.with.sum += hours
			p.with.n++
		} else {
			p.without.sum += hours
			p.without.n++
		}
	}

	days := make([]string, 0, len(grouped))
	for k := range grouped {
		days = append(days, k)
	}
	sort.Strings(days)

	withData := make([]float64, 0, len(days))
	withoutData := make([]float64, 0, len(days))
	for _, d := range days {
		withData = append(withData, grouped[d].with.average())
		withoutData = append(withoutData, grouped[d].without.average())
	}
	return CategorySeries{
		Categories: days,
		Series: []Series{
			{Name: SeriesWithContract, Data: withData},
			{Name: SeriesWithoutContract, Data: withoutData},
		},
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
