// Package livesync connects the live feed to the ticket cache and to
// per-ticket detail views.
package livesync

import (
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
	"github.com/spec-kit/ticket-dashboard/internal/feed"
	"github.com/spec-kit/ticket-dashboard/internal/observability"
)

// Feed is the subset of feed.Feed used here.
type Feed interface {
	Subscribe(topic string, handler feed.Handler) func()
	Retain()
	Release()
}

// EventSink receives decoded change events.
type EventSink interface {
	ApplyEvent(evt domain.ChangeEvent) error
}

// Recorder keeps accepted events, e.g. in the journal.
type Recorder interface {
	Record(evt domain.ChangeEvent, raw []byte)
}

// Listener applies every event on the collection topic to the cache.
type Listener struct {
	feed     Feed
	sink     EventSink
	decoder  *dto.EventDecoder
	recorder Recorder
	metrics  *observability.Metrics
	logger   *zap.Logger
	topic    string

	mu          sync.Mutex
	unsubscribe func()
}

// NewListener wires a listener. recorder may be nil.
func NewListener(f Feed, sink EventSink, decoder *dto.EventDecoder, topic string, recorder Recorder, metrics *observability.Metrics, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		feed:     f,
		sink:     sink,
		decoder:  decoder,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger.Named("listener"),
		topic:    topic,
	}
}

// Start subscribes and holds a reference on the feed. Calling it twice is
// a no-op.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsubscribe != nil {
		return
	}
	l.unsubscribe = l.feed.Subscribe(l.topic, l.handle)
	l.feed.Retain()
	l.logger.Info("listening", zap.String("topic", l.topic))
}

// Stop drops the subscription and the feed reference.
func (l *Listener) Stop() {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.mu.Unlock()
	if unsubscribe == nil {
		return
	}
	unsubscribe()
	l.feed.Release()
}

func (l *Listener) handle(body []byte) {
	evt, err := l.decoder.Decode(body)
	if err != nil {
		l.metrics.Inc(observability.CounterEventsRejected)
		l.logger.Warn("rejected change event", zap.String("topic", l.topic), zap.Error(err))
		return
	}
	if err := l.sink.ApplyEvent(evt); err != nil {
		l.metrics.Inc(observability.CounterEventsRejected)
		l.logger.Warn("change event not applied",
			zap.Int64("ticket_id", evt.ID()),
			zap.String("type", string(evt.Type)),
			zap.Error(err))
		return
	}
	l.metrics.Inc(observability.CounterEventsApplied)
	if l.recorder != nil {
		l.recorder.Record(evt, body)
	}
}
