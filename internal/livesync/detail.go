package livesync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/feed"
	"github.com/spec-kit/ticket-dashboard/internal/merge"
)

const updateBuffer = 8

// TicketFetcher loads one ticket.
type TicketFetcher interface {
	FetchTicket(ctx context.Context, id int64) (domain.Ticket, error)
}

// DetailFeed is the subset of the feed a detail view needs.
type DetailFeed interface {
	Subscribe(topic string, handler feed.Handler) func()
}

// DetailUpdate is one change to a watched ticket. Deleted updates carry the
// last known ticket.
type DetailUpdate struct {
	Ticket  domain.Ticket
	Deleted bool
}

type detailView struct {
	id          int64
	refs        int
	tickets     []domain.Ticket
	last        domain.Ticket
	watchers    map[int]chan DetailUpdate
	unsubscribe func()
}

// DetailRegistry shares one topic subscription per ticket among all its
// viewers. The first Open fetches the ticket and subscribes, the last
// Close unsubscribes.
type DetailRegistry struct {
	feed    DetailFeed
	fetch   TicketFetcher
	decoder *dto.EventDecoder
	base    string
	logger  *zap.Logger

	mu     sync.Mutex
	views  map[int64]*detailView
	nextID int
}

// NewDetailRegistry builds a registry publishing on base + "/{id}" topics.
func NewDetailRegistry(f DetailFeed, fetch TicketFetcher, decoder *dto.EventDecoder, base string, logger *zap.Logger) *DetailRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailRegistry{
		feed:    f,
		fetch:   fetch,
		decoder: decoder,
		base:    base,
		logger:  logger.Named("detail"),
		views:   make(map[int64]*detailView),
	}
}

// Topic returns the detail topic for a ticket.
func (r *DetailRegistry) Topic(id int64) string {
	return fmt.Sprintf("%s/%d", r.base, id)
}

// Open registers a viewer for ticket id.
func (r *DetailRegistry) Open(ctx context.Context, id int64) (*DetailHandle, error) {
	if h := r.attach(id); h != nil {
		return h, nil
	}

	ticket, err := r.fetch.FetchTicket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load ticket %d: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.views[id]; ok {
		return r.attachLocked(v), nil
	}
	v := &detailView{
		id:       id,
		tickets:  []domain.Ticket{ticket},
		last:     ticket,
		watchers: make(map[int]chan DetailUpdate),
	}
	r.views[id] = v
	v.unsubscribe = r.feed.Subscribe(r.Topic(id), func(body []byte) { r.handle(v, body) })
	r.logger.Debug("detail opened", zap.Int64("ticket_id", id))
	return r.attachLocked(v), nil
}

// Viewers returns the number of open handles for id.
func (r *DetailRegistry) Viewers(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.views[id]; ok {
		return v.refs
	}
	return 0
}

func (r *DetailRegistry) attach(id int64) *DetailHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.views[id]; ok {
		return r.attachLocked(v)
	}
	return nil
}

func (r *DetailRegistry) attachLocked(v *detailView) *DetailHandle {
	r.nextID++
	ch := make(chan DetailUpdate, updateBuffer)
	v.watchers[r.nextID] = ch
	v.refs++
	return &DetailHandle{registry: r, view: v, watcher: r.nextID, updates: ch}
}

func (r *DetailRegistry) detach(h *DetailHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := h.view
	ch, ok := v.watchers[h.watcher]
	if !ok {
		return
	}
	delete(v.watchers, h.watcher)
	close(ch)
	v.refs--
	if v.refs > 0 {
		return
	}
	delete(r.views, v.id)
	if v.unsubscribe != nil {
		v.unsubscribe()
	}
	r.logger.Debug("detail closed", zap.Int64("ticket_id", v.id))
}

func (r *DetailRegistry) handle(v *detailView, body []byte) {
	evt, err := r.decoder.Decode(body)
	if err != nil {
		r.logger.Warn("rejected detail event", zap.Int64("ticket_id", v.id), zap.Error(err))
		return
	}
	if evt.ID() != v.id {
		r.logger.Debug("ignoring event for other ticket", zap.Int64("ticket_id", v.id), zap.Int64("event_ticket_id", evt.ID()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.views[v.id] != v {
		return
	}
	merged, err := merge.Merge(v.tickets, evt)
	if err != nil {
		r.logger.Warn("detail event not applied", zap.Int64("ticket_id", v.id), zap.Error(err))
		return
	}
	v.tickets = merged

	update := DetailUpdate{Ticket: v.last, Deleted: true}
	if len(merged) > 0 {
		v.last = merged[0]
		update = DetailUpdate{Ticket: v.last}
	}
	for id, ch := range v.watchers {
		select {
		case ch <- update:
		default:
			r.logger.Warn("detail watcher is slow; update dropped", zap.Int64("ticket_id", v.id), zap.Int("watcher", id))
		}
	}
}

// DetailHandle is one viewer's interest in a ticket.
type DetailHandle struct {
	registry *DetailRegistry
	view     *detailView
	watcher  int
	updates  chan DetailUpdate
	once     sync.Once
}

// Ticket returns the current state. ok is false once the ticket was
// deleted.
func (h *DetailHandle) Ticket() (domain.Ticket, bool) {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if len(h.view.tickets) == 0 {
		return h.view.last, false
	}
	return h.view.tickets[0], true
}

// Updates delivers changes until Close. The channel is closed by Close.
func (h *DetailHandle) Updates() <-chan DetailUpdate {
	return h.updates
}

// Close releases this viewer. Safe to call more than once.
func (h *DetailHandle) Close() {
	h.once.Do(func() { h.registry.detach(h) })
}
