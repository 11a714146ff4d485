// Package metrics provides Prometheus metrics for the duplicate report detector
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check results
const (
	ResultSimilar    = "similar"
	ResultNotSimilar = "not_similar"
	ResultError      = "error"
)

// Metrics holds the detector's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	Checks            *prometheus.CounterVec
	CheckDuration     prometheus.Histogram
	CandidatesScored  prometheus.Counter
	CandidateFailures prometheus.Counter
	FastPathHits      prometheus.Counter

	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheEntries prometheus.Gauge

	GovernorInFlight prometheus.Gauge
}

// NewMetrics creates and registers all detector metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reportdedup_checks_total",
			Help: "Total number of similarity checks by result",
		}, []string{"result"}),
		CheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reportdedup_check_duration_seconds",
			Help:    "Time spent in a similarity check",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		CandidatesScored: factory.NewCounter(prometheus.CounterOpts{
			Name: "reportdedup_candidates_scored_total",
			Help: "Total number of candidate images scored",
		}),
		CandidateFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "reportdedup_candidate_failures_total",
			Help: "Candidate images that failed to fetch or decode and were scored as 0",
		}),
		FastPathHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "reportdedup_fast_path_hits_total",
			Help: "Checks answered by the early-exit sample",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "reportdedup_feature_cache_hits_total",
			Help: "Feature cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "reportdedup_feature_cache_misses_total",
			Help: "Feature cache misses",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reportdedup_feature_cache_entries",
			Help: "Embeddings currently held in the feature cache",
		}),
		GovernorInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reportdedup_governor_in_flight",
			Help: "Extraction and scoring sections currently holding a permit",
		}),
	}
}

// ObserveCheck records one finished check
func (m *Metrics) ObserveCheck(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Checks.WithLabelValues(result).Inc()
	m.CheckDuration.Observe(elapsed.Seconds())
}

// CandidateScored counts a scored candidate, failed or not
func (m *Metrics) CandidateScored(failed bool) {
	if m == nil {
		return
	}
	m.CandidatesScored.Inc()
	if failed {
		m.CandidateFailures.Inc()
	}
}

// FastPathHit counts an early exit
func (m *Metrics) FastPathHit() {
	if m == nil {
		return
	}
	m.FastPathHits.Inc()
}

// CacheLookup counts a cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// SetCacheEntries updates the cache size gauge
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// SetInFlight updates the governor gauge
func (m *Metrics) SetInFlight(n int64) {
	if m == nil {
		return
	}
	m.GovernorInFlight.Set(float64(n))
}
