package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.Inc(CounterEventsApplied)
	m.Inc(CounterEventsApplied)
	m.ObserveRefresh(1500*time.Millisecond, nil)
	m.ObserveRefresh(time.Second, errors.New("down"))
	m.RecordRequest("/api/tickets", "GET", 200)
	m.RecordError("/api/sync", "POST", "UPSTREAM_UNAVAILABLE")

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Sync[CounterEventsApplied])
	assert.Equal(t, int64(2), snap.Sync[CounterRefreshes])
	assert.Equal(t, int64(1), snap.Sync[CounterRefreshFailures])
	assert.Equal(t, 1.5, snap.LastRefreshSeconds)
	assert.Equal(t, int64(1), snap.Requests["/api/tickets|GET|200"])
	assert.Equal(t, int64(1), snap.Errors["/api/sync|POST|UPSTREAM_UNAVAILABLE"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Inc(CounterFramesDropped)
		m.RecordRequest("/", "GET", 200)
		m.ObserveRefresh(time.Second, nil)
	})
	assert.Zero(t, m.Count(CounterFramesDropped))
}
