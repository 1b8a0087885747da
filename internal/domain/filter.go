package domain

import (
	"strings"
	"time"
)

// DateRange bounds ticket creation dates. A nil side is open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// NewDateRange normalizes a user supplied range. When only a start is given
// the end defaults to the end of now's day; when only an end is given the
// start stays open. Returns nil when neither bound is set.
func NewDateRange(start, end *time.Time, now time.Time) *DateRange {
	if start == nil && end == nil {
		return nil
	}
	r := &DateRange{Start: copyTime(start), End: copyTime(end)}
	if r.End == nil {
		eod := EndOfDay(now)
		r.End = &eod
	}
	return r
}

// Bounds returns the inclusive [from, to] window expanded to whole days in
// loc. ok is false for an open side.
func (r *DateRange) Bounds(loc *time.Location) (from time.Time, hasFrom bool, to time.Time, hasTo bool) {
	if r == nil {
		return
	}
	if r.Start != nil {
		from, hasFrom = StartOfDay(r.Start.In(loc)), true
	}
	if r.End != nil {
		to, hasTo = EndOfDay(r.End.In(loc)), true
	}
	return
}

// FilterCriteria is the client-side projection applied to the canonical
// collection.
type FilterCriteria struct {
	DateRange   *DateRange
	SearchQuery string
}

// NormalizeQuery trims a free-text query.
func NormalizeQuery(q string) string {
	return strings.TrimSpace(q)
}

// StartOfDay returns 00:00:00 of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
