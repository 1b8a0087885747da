// Package feed maintains the single shared live-update connection and
// multiplexes topic subscriptions over it.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-dashboard/internal/observability"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// Handler receives the JSON body of each message on a topic.
type Handler func(body []byte)

// Config controls dialing and reconnect behaviour.
type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// Heartbeat is the interval offered to the broker in both directions.
	// Zero disables heart-beating.
	Heartbeat time.Duration
	// Token supplies the bearer token sent on CONNECT; may be nil.
	Token func() string
}

type subscription struct {
	id      string
	topic   string
	handler Handler
}

type session struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	done      chan struct{}
	closeOnce sync.Once

	outMu  sync.Mutex
	outbox []Frame
}

func (s *session) write(frame Frame) error {
	return s.writeRaw(frame.Encode())
}

func (s *session) writeRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.send(data)
}

func (s *session) send(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue queues frames without touching the socket, so it is safe under
// Feed.mu. Frames go out in enqueue order on the next flush.
func (s *session) enqueue(frames ...Frame) {
	s.outMu.Lock()
	s.outbox = append(s.outbox, frames...)
	s.outMu.Unlock()
}

func (s *session) flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.outMu.Lock()
	frames := s.outbox
	s.outbox = nil
	s.outMu.Unlock()

	for _, frame := range frames {
		if err := s.send(frame.Encode()); err != nil {
			return fmt.Errorf("%s %s: %w", frame.Command, frame.Header("destination"), err)
		}
	}
	return nil
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Feed owns one STOMP session at a time. All methods are safe for
// concurrent use.
type Feed struct {
	cfg     Config
	dialer  websocket.Dialer
	logger  *zap.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	subs      map[string]*subscription
	byID      map[string]*subscription
	refs      int
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	kick      chan struct{}
	session   *session
	onConnect []func()
}

// New creates an idle feed. Nothing is dialed until EnsureConnected.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Feed{
		cfg:     cfg,
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger:  logger.Named("feed"),
		metrics: metrics,
		subs:    make(map[string]*subscription),
		byID:    make(map[string]*subscription),
		kick:    make(chan struct{}, 1),
	}
}

// EnsureConnected starts the connection loop if needed. When the loop is
// waiting out a reconnect delay, or a CONNECT is still unanswered, the
// attempt is abandoned and a fresh session is dialed right away.
func (f *Feed) EnsureConnected() {
	f.mu.Lock()
	if !f.running {
		ctx, cancel := context.WithCancel(context.Background())
		f.running = true
		f.cancel = cancel
		f.done = make(chan struct{})
		go f.run(ctx, f.done)
		f.mu.Unlock()
		return
	}
	var stuck *session
	if f.session == nil || !f.session.connected {
		select {
		case f.kick <- struct{}{}:
		default:
		}
		stuck = f.session
	}
	f.mu.Unlock()

	if stuck != nil {
		f.logger.Info("abandoning pending handshake")
		stuck.close()
	}
}

// Connected reports whether a session is established.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session != nil && f.session.connected
}

// OnConnect registers fn to run after every successful CONNECTED,
// including reconnects.
func (f *Feed) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = append(f.onConnect, fn)
}

// Subscribe registers handler for topic, replacing any existing
// subscription for the same topic. The returned function removes this
// subscription only; it is a no-op once the topic has been re-subscribed.
func (f *Feed) Subscribe(topic string, handler Handler) func() {
	f.mu.Lock()
	s := f.liveLocked()
	if old := f.subs[topic]; old != nil {
		f.dropLocked(s, old)
	}
	sub := &subscription{id: uuid.NewString(), topic: topic, handler: handler}
	f.subs[topic] = sub
	f.byID[sub.id] = sub
	if s != nil {
		s.enqueue(subscribeFrame(sub))
	}
	f.mu.Unlock()

	f.flush(s)
	f.logger.Debug("subscribed", zap.String("topic", topic), zap.String("id", sub.id))

	return func() {
		f.mu.Lock()
		s := f.liveLocked()
		if f.subs[topic] == sub {
			f.dropLocked(s, sub)
		}
		f.mu.Unlock()
		f.flush(s)
	}
}

// Unsubscribe removes the subscription for topic. The connection stays up.
func (f *Feed) Unsubscribe(topic string) {
	f.mu.Lock()
	s := f.liveLocked()
	if sub := f.subs[topic]; sub != nil {
		f.dropLocked(s, sub)
	}
	f.mu.Unlock()
	f.flush(s)
}

// Topics lists the active subscription topics.
func (f *Feed) Topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for topic := range f.subs {
		out = append(out, topic)
	}
	return out
}

// Retain registers a consumer of the connection and makes sure it is up.
func (f *Feed) Retain() {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	f.EnsureConnected()
}

// Release drops a consumer; the last release tears the connection down.
func (f *Feed) Release() {
	f.mu.Lock()
	if f.refs > 0 {
		f.refs--
	}
	last := f.refs == 0
	f.mu.Unlock()
	if last {
		f.Close()
	}
}

// Close disconnects, stops reconnecting and clears all subscriptions. A
// later EnsureConnected starts over.
func (f *Feed) Close() {
	f.mu.Lock()
	cancel, done, s := f.cancel, f.done, f.session
	live := s != nil && s.connected
	f.refs = 0
	f.running = false
	f.cancel = nil
	f.done = nil
	f.subs = make(map[string]*subscription)
	f.byID = make(map[string]*subscription)
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	if live {
		_ = s.write(Frame{Command: CommandDisconnect, Headers: map[string]string{}})
	}
	cancel()
	<-done
	f.logger.Info("feed closed")
}

// liveLocked returns the session only once CONNECTED has been received.
func (f *Feed) liveLocked() *session {
	if s := f.session; s != nil && s.connected {
		return s
	}
	return nil
}

// dropLocked forgets sub and queues its UNSUBSCRIBE on s when s is live.
func (f *Feed) dropLocked(s *session, sub *subscription) {
	delete(f.subs, sub.topic)
	delete(f.byID, sub.id)
	if s != nil {
		s.enqueue(Frame{Command: CommandUnsubscribe, Headers: map[string]string{"id": sub.id}})
	}
	f.logger.Debug("unsubscribed", zap.String("topic", sub.topic), zap.String("id", sub.id))
}

// flush writes whatever was queued on s. It must not be called with f.mu
// held.
func (f *Feed) flush(s *session) {
	if s == nil {
		return
	}
	if err := s.flush(); err != nil {
		f.logger.Warn("feed write failed", zap.Error(err))
	}
}

func (f *Feed) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	policy := backoff.NewConstantBackOff(f.cfg.ReconnectDelay)
	for {
		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		f.metrics.Inc(observability.CounterReconnects)

		delay := policy.NextBackOff()
		f.logger.Warn("feed disconnected", zap.Error(err), zap.Duration("retry_in", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-f.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (f *Feed) runOnce(ctx context.Context) error {
	conn, resp, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	conn.SetReadLimit(maxFrameSize)

	s := &session{conn: conn, done: make(chan struct{})}
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	defer f.dropSession(s)

	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	if err := s.write(f.connectFrame()); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.HandshakeTimeout))

	var readTimeout time.Duration
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			f.metrics.Inc(observability.CounterFramesDropped)
			f.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		switch frame.Command {
		case "":
		case CommandConnected:
			readTimeout = f.onConnected(s, frame)
			if readTimeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			} else {
				_ = conn.SetReadDeadline(time.Time{})
			}
		case CommandMessage:
			f.dispatch(frame)
		case CommandError:
			f.logger.Warn("broker error",
				zap.String("message", frame.Header("message")),
				zap.ByteString("body", frame.Body))
		case CommandReceipt:
		default:
			f.logger.Debug("ignoring frame", zap.String("command", frame.Command))
		}
	}
}

func (f *Feed) connectFrame() Frame {
	headers := map[string]string{
		"accept-version": "1.2",
		"heart-beat":     "0,0",
	}
	if u, err := url.Parse(f.cfg.URL); err == nil && u.Hostname() != "" {
		headers["host"] = u.Hostname()
	}
	if f.cfg.Heartbeat > 0 {
		ms := strconv.FormatInt(f.cfg.Heartbeat.Milliseconds(), 10)
		headers["heart-beat"] = ms + "," + ms
	}
	if f.cfg.Token != nil {
		if token := f.cfg.Token(); token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}
	return Frame{Command: CommandConnect, Headers: headers}
}

// onConnected marks the session live, replays subscriptions and returns
// the read deadline implied by the negotiated heart-beat.
func (f *Feed) onConnected(s *session, frame Frame) time.Duration {
	f.mu.Lock()
	if f.session != s {
		f.mu.Unlock()
		return 0
	}
	s.connected = true
	for _, sub := range f.subs {
		s.enqueue(subscribeFrame(sub))
	}
	hooks := append([]func(){}, f.onConnect...)
	topics := len(f.subs)
	f.mu.Unlock()
	f.flush(s)

	select {
	case <-f.kick:
	default:
	}

	var sendEvery, readTimeout time.Duration
	if f.cfg.Heartbeat > 0 {
		sx, sy := parseHeartBeat(frame.Header("heart-beat"))
		mine := int(f.cfg.Heartbeat.Milliseconds())
		if sy > 0 {
			sendEvery = time.Duration(max(mine, sy)) * time.Millisecond
		}
		if sx > 0 {
			readTimeout = 3 * time.Duration(max(mine, sx)) * time.Millisecond
		}
	}
	if sendEvery > 0 {
		go f.heartbeat(s, sendEvery)
	}

	f.logger.Info("feed connected",
		zap.String("server", frame.Header("server")),
		zap.Int("subscriptions", topics))

	for _, hook := range hooks {
		go f.safely("connect hook", func() { hook() })
	}
	return readTimeout
}

func (f *Feed) heartbeat(s *session, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeRaw([]byte("\n")); err != nil {
				f.logger.Debug("heart-beat failed", zap.Error(err))
				return
			}
		}
	}
}

func (f *Feed) dispatch(frame Frame) {
	id := frame.Header("subscription")
	f.mu.Lock()
	sub := f.byID[id]
	f.mu.Unlock()

	if sub == nil {
		f.logger.Debug("message for unknown subscription",
			zap.String("subscription", id),
			zap.String("destination", frame.Header("destination")))
		return
	}
	if !json.Valid(frame.Body) {
		f.metrics.Inc(observability.CounterFramesDropped)
		f.logger.Warn("dropping non-JSON message",
			zap.String("topic", sub.topic),
			zap.Int("bytes", len(frame.Body)))
		return
	}
	f.safely("message handler", func() { sub.handler(frame.Body) })
}

func (f *Feed) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error(what+" panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (f *Feed) dropSession(s *session) {
	f.mu.Lock()
	if f.session == s {
		f.session = nil
	}
	f.mu.Unlock()
	s.close()
}

func subscribeFrame(sub *subscription) Frame {
	return Frame{Command: CommandSubscribe, Headers: map[string]string{
		"id":          sub.id,
		"destination": sub.topic,
		"ack":         "auto",
	}}
}
