package authcache

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter. IDs below metricGaugeStart are
// incremented live on the hot path; the rest are filled from subsystem
// stats at snapshot time.
type MetricID uint16

const (
	// MetricAuthSuccess counts successful Authenticate calls.
	MetricAuthSuccess MetricID = iota
	// MetricAuthFailure counts Authenticate calls rejected on
	// credentials (malformed, expired, bad signature, unknown user).
	MetricAuthFailure
	// MetricAuthRateLimited counts requests refused on budget.
	MetricAuthRateLimited
	// MetricAuthUnavailable counts fail-closed availability rejections
	// (keys unavailable, session unavailable).
	MetricAuthUnavailable
	// MetricScopeHits counts Authenticate answers served from the
	// per-request scope.
	MetricScopeHits
	// MetricAuthorizeDenied counts failed permission checks.
	MetricAuthorizeDenied
	// MetricTamperDetected counts cached-session integrity failures.
	MetricTamperDetected
	// MetricInvalidations counts explicit session invalidations.
	MetricInvalidations
	// MetricAuthLatency is the Authenticate latency histogram.
	MetricAuthLatency

	metricGaugeStart

	// MetricTokenCacheHits through MetricJWKSServedStale are snapshots of
	// subsystem counters, not live-incremented.
	MetricTokenCacheHits
	MetricTokenCacheMisses
	MetricTokenCacheEvictions
	MetricSessionCacheHits
	MetricSessionCacheMisses
	MetricSessionCacheEvictions
	MetricSessionVersionChecks
	MetricSessionFullReloads
	MetricSessionRestamps
	MetricJWKSFetches
	MetricJWKSFetchFailures
	MetricJWKSServedStale
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps adjacent hot counters off the same cache line.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the engine's counter table. A nil or disabled Metrics accepts
// every call as a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter, plus the
// latency histogram buckets when enabled.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// set overwrites a gauge-style counter from a subsystem stat.
func (m *Metrics) set(id MetricID, v uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.StoreUint64(&m.counters[id].value, v)
}

// Observe buckets one Authenticate latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricAuthLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Disabled metrics snapshot as empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == metricGaugeStart {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthLatency].buckets[i])
		}
		s.Histograms[MetricAuthLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 50:
		return 0
	case us <= 100:
		return 1
	case us <= 250:
		return 2
	case us <= 500:
		return 3
	case us <= 1000:
		return 4
	case us <= 5000:
		return 5
	case us <= 25000:
		return 6
	default:
		return 7
	}
}

// MetricName returns the stable exposition name for id, used by the
// exporters. Unknown IDs return the empty string.
func MetricName(id MetricID) string {
	switch id {
	case MetricAuthSuccess:
		return "auth_success_total"
	case MetricAuthFailure:
		return "auth_failure_total"
	case MetricAuthRateLimited:
		return "auth_rate_limited_total"
	case MetricAuthUnavailable:
		return "auth_unavailable_total"
	case MetricScopeHits:
		return "request_scope_hits_total"
	case MetricAuthorizeDenied:
		return "authorize_denied_total"
	case MetricTamperDetected:
		return "session_tamper_detected_total"
	case MetricInvalidations:
		return "session_invalidations_total"
	case MetricAuthLatency:
		return "auth_latency"
	case MetricTokenCacheHits:
		return "token_cache_hits_total"
	case MetricTokenCacheMisses:
		return "token_cache_misses_total"
	case MetricTokenCacheEvictions:
		return "token_cache_evictions_total"
	case MetricSessionCacheHits:
		return "session_cache_hits_total"
	case MetricSessionCacheMisses:
		return "session_cache_misses_total"
	case MetricSessionCacheEvictions:
		return "session_cache_evictions_total"
	case MetricSessionVersionChecks:
		return "session_version_checks_total"
	case MetricSessionFullReloads:
		return "session_full_reloads_total"
	case MetricSessionRestamps:
		return "session_restamps_total"
	case MetricJWKSFetches:
		return "jwks_fetches_total"
	case MetricJWKSFetchFailures:
		return "jwks_fetch_failures_total"
	case MetricJWKSServedStale:
		return "jwks_served_stale_total"
	default:
		return ""
	}
}
