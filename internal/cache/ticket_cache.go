// Package cache holds the canonical, session-wide ticket collection and its
// filtered projection.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/events"
	"github.com/spec-kit/ticket-dashboard/internal/merge"
)

// Status is the sync state of the cache.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusLoading Status = "LOADING"
)

// SearchField names a ticket attribute the free-text query matches.
type SearchField string

const (
	SearchProjectName SearchField = "projectName"
	SearchTitle       SearchField = "title"
	SearchID          SearchField = "id"
)

// DefaultSearchFields are matched when no fields are configured.
var DefaultSearchFields = []SearchField{SearchProjectName, SearchTitle, SearchID}

// FetchFunc loads a full ticket snapshot.
type FetchFunc func(ctx context.Context) ([]domain.Ticket, error)

// Option customizes a TicketCache.
type Option func(*TicketCache)

// WithLocation sets the time zone used for whole-day date filtering.
func WithLocation(loc *time.Location) Option {
	return func(c *TicketCache) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *TicketCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSearchFields sets the attributes the search query matches.
func WithSearchFields(fields ...SearchField) Option {
	return func(c *TicketCache) {
		if len(fields) > 0 {
			c.searchFields = fields
		}
	}
}

// WithDispatcher publishes change notifications after each mutation.
func WithDispatcher(d events.Dispatcher) Option {
	return func(c *TicketCache) {
		c.dispatcher = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *TicketCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type pendingEvent struct {
	seq uint64
	evt domain.ChangeEvent
}

// TicketCache is the single source of truth for the client's view of
// tickets. All methods are safe for concurrent use; merging and filtering run
// under the lock and never block on I/O.
type TicketCache struct {
	fetch        FetchFunc
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	loc          *time.Location
	now          func() time.Time
	searchFields []SearchField

	mu       sync.Mutex
	tickets  []domain.Ticket
	criteria domain.FilterCriteria
	lastSync time.Time
	version  uint64

	// seq counts applied events. Every in-flight refresh remembers the seq
	// at request time so events received during its flight can be replayed
	// over its snapshot.
	seq         uint64
	nextRefresh uint64
	inflight    map[uint64]uint64
	pending     []pendingEvent

	filtered        []domain.Ticket
	filteredVersion uint64
	filteredValid   bool
}

// New builds an empty cache backed by fetch.
func New(fetch FetchFunc, opts ...Option) *TicketCache {
	c := &TicketCache{
		fetch:        fetch,
		logger:       zap.NewNop(),
		loc:          time.Local,
		now:          time.Now,
		searchFields: DefaultSearchFields,
		inflight:     make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh replaces the collection with a fresh snapshot from the fetch
// collaborator. Events applied while the fetch was in flight are replayed over
// the snapshot in delivery order. On failure the collection is left unchanged
// and the error is returned.
func (c *TicketCache) Refresh(ctx context.Context) error {
	if c.fetch == nil {
		return fmt.Errorf("refresh tickets: no fetcher configured")
	}

	c.mu.Lock()
	c.nextRefresh++
	id := c.nextRefresh
	c.inflight[id] = c.seq
	c.mu.Unlock()

	tickets, err := c.fetch(ctx)

	c.mu.Lock()
	startSeq := c.inflight[id]
	delete(c.inflight, id)
	if err != nil {
		c.prunePendingLocked()
		c.mu.Unlock()
		return fmt.Errorf("refresh tickets: %w", err)
	}

	next := dedupe(tickets)
	replayed := 0
	for _, p := range c.pending {
		if p.seq <= startSeq {
			continue
		}
		merged, mergeErr := merge.Merge(next, p.evt)
		if mergeErr != nil {
			continue
		}
		next = merged
		replayed++
	}
	c.tickets = next
	c.lastSync = c.now()
	c.version++
	c.prunePendingLocked()
	evt := events.Event{
		Type:      events.EventTicketsReplaced,
		Version:   c.version,
		Timestamp: c.lastSync,
		Payload: events.TicketsReplacedPayload{
			Count:    len(next),
			Replayed: replayed,
			SyncedAt: c.lastSync,
		},
	}
	c.mu.Unlock()

	c.logger.Debug("tickets refreshed", zap.Int("count", len(next)), zap.Int("replayed", replayed))
	c.publish(ctx, evt)
	return nil
}

// ReplaceAll swaps in tickets synchronously. It is meant for restoring a
// persisted snapshot and marks the notification as restored.
func (c *TicketCache) ReplaceAll(tickets []domain.Ticket, syncedAt time.Time) {
	c.mu.Lock()
	next := dedupe(tickets)
	c.tickets = next
	c.lastSync = syncedAt
	c.version++
	evt := events.Event{
		Type:      events.EventTicketsReplaced,
		Version:   c.version,
		Timestamp: c.now(),
		Payload:   events.TicketsReplacedPayload{Count: len(next), Restored: true, SyncedAt: syncedAt},
	}
	c.mu.Unlock()

	c.publish(context.Background(), evt)
}

// ApplyEvent merges evt into the collection. It may be called at any time,
// including while a Refresh is in flight. Malformed events leave the
// collection untouched and return an error wrapping domain.ErrMalformedEvent.
func (c *TicketCache) ApplyEvent(evt domain.ChangeEvent) error {
	c.mu.Lock()
	next, err := merge.Merge(c.tickets, evt)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.tickets = next
	c.seq++
	c.version++
	if len(c.inflight) > 0 {
		c.pending = append(c.pending, pendingEvent{seq: c.seq, evt: evt})
	}
	notification := events.Event{
		Type:      events.EventTicketChanged,
		TicketID:  evt.ID(),
		Version:   c.version,
		Timestamp: c.now(),
		Payload:   events.TicketChangedPayload{Change: evt},
	}
	c.mu.Unlock()

	c.publish(context.Background(), notification)
	return nil
}

// SetDateRange updates the creation date filter. Nil bounds are open; see
// domain.NewDateRange for defaults.
func (c *TicketCache) SetDateRange(start, end *time.Time) {
	c.mu.Lock()
	c.criteria.DateRange = domain.NewDateRange(start, end, c.now().In(c.loc))
	evt := c.filterChangedLocked()
	c.mu.Unlock()

	c.publish(context.Background(), evt)
}

// SetSearchQuery updates the free-text filter.
func (c *TicketCache) SetSearchQuery(query string) {
	c.mu.Lock()
	c.criteria.SearchQuery = domain.NormalizeQuery(query)
	evt := c.filterChangedLocked()
	c.mu.Unlock()

	c.publish(context.Background(), evt)
}

// Criteria returns the active filter criteria.
func (c *TicketCache) Criteria() domain.FilterCriteria {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.criteria
}

// FilteredTickets returns the collection projected through the active
// criteria. The result is cached until the collection or criteria change and
// must not be modified by callers.
func (c *TicketCache) FilteredTickets() []domain.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filteredValid && c.filteredVersion == c.version {
		return c.filtered
	}
	c.filtered = c.computeFilteredLocked()
	c.filteredVersion = c.version
	c.filteredValid = true
	return c.filtered
}

// Tickets returns the canonical collection. Callers must not modify it.
func (c *TicketCache) Tickets() []domain.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickets
}

// Get looks up a ticket by id.
func (c *TicketCache) Get(id int64) (domain.Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickets {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Ticket{}, false
}

// Status reports whether a refresh is in flight.
func (c *TicketCache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inflight) > 0 {
		return StatusLoading
	}
	return StatusIdle
}

// Loading is shorthand for Status() == StatusLoading.
func (c *TicketCache) Loading() bool {
	return c.Status() == StatusLoading
}

// LastSync returns when the last snapshot landed; zero if never.
func (c *TicketCache) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// Version increases on every change to the collection or the criteria.
func (c *TicketCache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Location is the zone used for day boundaries.
func (c *TicketCache) Location() *time.Location {
	return c.loc
}

func (c *TicketCache) filterChangedLocked() events.Event {
	c.version++
	return events.Event{
		Type:      events.EventFilterChanged,
		Version:   c.version,
		Timestamp: c.now(),
		Payload:   events.FilterChangedPayload{Criteria: c.criteria},
	}
}

func (c *TicketCache) computeFilteredLocked() []domain.Ticket {
	from, hasFrom, to, hasTo := c.criteria.DateRange.Bounds(c.loc)
	dated := hasFrom || hasTo
	query := strings.ToLower(c.criteria.SearchQuery)

	out := make([]domain.Ticket, 0, len(c.tickets))
	for _, t := range c.tickets {
		if dated {
			if t.CreationDate.IsZero() {
				continue
			}
			if hasFrom && t.CreationDate.Before(from) {
				continue
			}
			if hasTo && t.CreationDate.After(to) {
				continue
			}
		}
		if query != "" && !c.matches(t, query) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (c *TicketCache) matches(t domain.Ticket, query string) bool {
	for _, field := range c.searchFields {
		var value string
		switch field {
		case SearchProjectName:
			value = t.ProjectName()
		case SearchTitle:
			value = t.Title
		case SearchID:
			value = t.IDString()
		}
		if value != "" && strings.Contains(strings.ToLower(value), query) {
			return true
		}
	}
	return false
}

// prunePendingLocked drops replay entries no in-flight refresh needs.
func (c *TicketCache) prunePendingLocked() {
	if len(c.inflight) == 0 {
		c.pending = nil
		return
	}
	oldest := c.seq
	for _, start := range c.inflight {
		if start < oldest {
			oldest = start
		}
	}
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.seq > oldest {
			kept = append(kept, p)
		}
	}
	c.pending = kept
}

func (c *TicketCache) publish(ctx context.Context, evt events.Event) {
	if c.dispatcher == nil {
		return
	}
	_ = c.dispatcher.Publish(ctx, evt)
}

// dedupe keeps the first occurrence of every id.
func dedupe(tickets []domain.Ticket) []domain.Ticket {
	seen := make(map[int64]struct{}, len(tickets))
	out := make([]domain.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}
