package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/feed"
	"github.com/spec-kit/ticket-dashboard/internal/observability"
)

type fakeFeed struct {
	mu       sync.Mutex
	handlers map[string]feed.Handler
	refs     int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[string]feed.Handler)}
}

func (f *fakeFeed) Subscribe(topic string, h feed.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, topic)
	}
}

func (f *fakeFeed) Retain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs++
}

func (f *fakeFeed) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs--
}

func (f *fakeFeed) deliver(topic, body string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h([]byte(body))
	}
}

func (f *fakeFeed) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

type sinkFunc func(domain.ChangeEvent) error

func (s sinkFunc) ApplyEvent(evt domain.ChangeEvent) error { return s(evt) }

type recorder struct {
	events []domain.ChangeEvent
}

func (r *recorder) Record(evt domain.ChangeEvent, _ []byte) { r.events = append(r.events, evt) }

func decoder() *dto.EventDecoder { return dto.NewEventDecoder(nil, time.UTC) }

func TestListener_AppliesAndRejects(t *testing.T) {
	ff := newFakeFeed()
	core, logs := observer.New(zap.WarnLevel)
	metrics := observability.NewMetrics()
	rec := &recorder{}

	var applied []domain.ChangeEvent
	sink := sinkFunc(func(evt domain.ChangeEvent) error {
		applied = append(applied, evt)
		return nil
	})
	l := NewListener(ff, sink, decoder(), "/topic/tickets", rec, metrics, zap.New(core))

	l.Start()
	l.Start()
	assert.Equal(t, 1, ff.refs)

	ff.deliver("/topic/tickets", `{"type":"CREATED","ticket":{"id":1,"status":"OPEN"}}`)
	ff.deliver("/topic/tickets", `{"type":"UPDATED"}`)
	ff.deliver("/topic/tickets", `{"type":"DELETED","ticketId":1}`)

	require.Len(t, applied, 2)
	assert.Equal(t, domain.ChangeCreated, applied[0].Type)
	assert.Equal(t, domain.ChangeDeleted, applied[1].Type)
	assert.Len(t, rec.events, 2)
	assert.Equal(t, int64(2), metrics.Count(observability.CounterEventsApplied))
	assert.Equal(t, int64(1), metrics.Count(observability.CounterEventsRejected))
	assert.Equal(t, 1, logs.FilterMessage("rejected change event").Len())

	l.Stop()
	assert.Equal(t, 0, ff.refs)
	assert.False(t, ff.subscribed("/topic/tickets"))
}

func TestListener_SinkErrorIsCounted(t *testing.T) {
	ff := newFakeFeed()
	metrics := observability.NewMetrics()
	sink := sinkFunc(func(domain.ChangeEvent) error { return domain.ErrMalformedEvent })
	l := NewListener(ff, sink, decoder(), "/topic/tickets", nil, metrics, nil)
	l.Start()

	ff.deliver("/topic/tickets", `{"type":"DELETED","ticketId":4}`)

	assert.Equal(t, int64(1), metrics.Count(observability.CounterEventsRejected))
	assert.Zero(t, metrics.Count(observability.CounterEventsApplied))
}

type fetcher struct {
	calls atomic.Int32
	err   error
}

func (f *fetcher) FetchTicket(_ context.Context, id int64) (domain.Ticket, error) {
	f.calls.Add(1)
	if f.err != nil {
		return domain.Ticket{}, f.err
	}
	return domain.Ticket{ID: id, Title: "initial", Status: domain.TicketStatusOpen}, nil
}

func next(t *testing.T, h *DetailHandle) DetailUpdate {
	t.Helper()
	select {
	case u := <-h.Updates():
		return u
	case <-time.After(time.Second):
		t.Fatal("no update")
		return DetailUpdate{}
	}
}

func TestDetailRegistry_SharesSubscription(t *testing.T) {
	ff := newFakeFeed()
	f := &fetcher{}
	r := NewDetailRegistry(ff, f, decoder(), "/topic/tickets", nil)
	topic := r.Topic(42)
	assert.Equal(t, "/topic/tickets/42", topic)

	a, err := r.Open(context.Background(), 42)
	require.NoError(t, err)
	b, err := r.Open(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 2, r.Viewers(42))
	assert.True(t, ff.subscribed(topic))

	ff.deliver(topic, `{"type":"UPDATED","ticket":{"id":42,"status":"CLOSED"}}`)
	for _, h := range []*DetailHandle{a, b} {
		u := next(t, h)
		assert.Equal(t, domain.TicketStatusClosed, u.Ticket.Status)
		assert.Equal(t, "initial", u.Ticket.Title)
	}

	a.Close()
	a.Close()
	assert.True(t, ff.subscribed(topic))
	_, open := <-a.Updates()
	assert.False(t, open)

	b.Close()
	assert.False(t, ff.subscribed(topic))
	assert.Zero(t, r.Viewers(42))
}

func TestDetailRegistry_DeleteAndForeignEvents(t *testing.T) {
	ff := newFakeFeed()
	r := NewDetailRegistry(ff, &fetcher{}, decoder(), "/topic/tickets", nil)
	h, err := r.Open(context.Background(), 7)
	require.NoError(t, err)
	defer h.Close()

	ff.deliver(r.Topic(7), `{"type":"DELETED","ticketId":8}`)
	ff.deliver(r.Topic(7), `garbage`)
	ff.deliver(r.Topic(7), `{"type":"DELETED","ticketId":7}`)

	u := next(t, h)
	assert.True(t, u.Deleted)
	assert.Equal(t, int64(7), u.Ticket.ID)

	_, ok := h.Ticket()
	assert.False(t, ok)
}

func TestDetailRegistry_FetchFailure(t *testing.T) {
	ff := newFakeFeed()
	r := NewDetailRegistry(ff, &fetcher{err: errors.New("down")}, decoder(), "/topic/tickets", nil)

	_, err := r.Open(context.Background(), 3)
	assert.Error(t, err)
	assert.False(t, ff.subscribed(r.Topic(3)))
	assert.Zero(t, r.Viewers(3))
}

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestScheduler(t *testing.T) {
	_, err := NewScheduler("not a schedule", &countingRefresher{}, time.Second, time.UTC, nil)
	assert.Error(t, err)

	ref := &countingRefresher{}
	s, err := NewScheduler("@every 1h", ref, time.Second, time.UTC, nil)
	require.NoError(t, err)

	s.RunOnce()
	assert.Equal(t, int32(1), ref.calls.Load())

	assert.Error(t, s.AddJob("every tuesday", "prune", func(context.Context) error { return nil }))
	require.NoError(t, s.AddJob("@every 1m", "prune", func(context.Context) error { return nil }))

	s.Start()
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.Next(), time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
