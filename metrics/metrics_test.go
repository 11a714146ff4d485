package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCheck(ResultSimilar, 120*time.Millisecond)
	m.ObserveCheck(ResultNotSimilar, 80*time.Millisecond)
	m.ObserveCheck(ResultSimilar, 10*time.Millisecond)
	m.CandidateScored(false)
	m.CandidateScored(true)
	m.FastPathHit()
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.SetCacheEntries(7)
	m.SetInFlight(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Checks.WithLabelValues(ResultSimilar)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checks.WithLabelValues(ResultNotSimilar)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CandidatesScored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandidateFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FastPathHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.CacheEntries))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GovernorInFlight))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCheck(ResultError, time.Second)
		m.CandidateScored(true)
		m.FastPathHit()
		m.CacheLookup(true)
		m.SetCacheEntries(1)
		m.SetInFlight(1)
	})
}
