package observability

import (
	"strconv"
	"sync"
	"time"
)

// Sync counter names.
const (
	CounterEventsApplied   = "events_applied"
	CounterEventsRejected  = "events_rejected"
	CounterFramesDropped   = "frames_dropped"
	CounterRefreshes       = "refreshes"
	CounterRefreshFailures = "refresh_failures"
	CounterReconnects      = "reconnects"
	CounterJournalDropped  = "journal_dropped"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	syncCount    map[string]int64
	lastRefresh  time.Duration
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Requests           map[string]int64 `json:"requests"`
	Errors             map[string]int64 `json:"errors"`
	Sync               map[string]int64 `json:"sync"`
	LastRefreshSeconds float64          `json:"last_refresh_seconds"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		syncCount:    make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// Inc increments a sync counter.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCount[name]++
}

// ObserveRefresh records a completed refresh.
func (m *Metrics) ObserveRefresh(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCount[CounterRefreshes]++
	if err != nil {
		m.syncCount[CounterRefreshFailures]++
		return
	}
	m.lastRefresh = d
}

// Count returns one sync counter.
func (m *Metrics) Count(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncCount[name]
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Requests:           copyCounts(m.requestCount),
		Errors:             copyCounts(m.errorCount),
		Sync:               copyCounts(m.syncCount),
		LastRefreshSeconds: m.lastRefresh.Seconds(),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
