package internaldefs

import (
	authcache "github.com/philbeliveau/orientor-authcache"
)

// Source is the engine-side view both exporters read from. Satisfied by
// [authcache.Engine].
type Source interface {
	MetricsSnapshot() authcache.MetricsSnapshot
	AuditDropped() uint64
}

// CounterDef binds one engine counter to its exposition name and help text.
type CounterDef struct {
	ID   authcache.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its exposition name and help text.
type HistogramDef struct {
	ID   authcache.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter both exporters expose, in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcache.MetricAuthSuccess, Name: "authcache_auth_success_total", Help: "Successful Authenticate calls."},
	{ID: authcache.MetricAuthFailure, Name: "authcache_auth_failure_total", Help: "Authenticate calls rejected on credentials."},
	{ID: authcache.MetricAuthRateLimited, Name: "authcache_auth_rate_limited_total", Help: "Requests refused on rate budget."},
	{ID: authcache.MetricAuthUnavailable, Name: "authcache_auth_unavailable_total", Help: "Fail-closed availability rejections."},
	{ID: authcache.MetricScopeHits, Name: "authcache_request_scope_hits_total", Help: "Authenticate answers served from the request scope."},
	{ID: authcache.MetricAuthorizeDenied, Name: "authcache_authorize_denied_total", Help: "Failed permission checks."},
	{ID: authcache.MetricTamperDetected, Name: "authcache_session_tamper_detected_total", Help: "Cached-session integrity failures."},
	{ID: authcache.MetricInvalidations, Name: "authcache_session_invalidations_total", Help: "Explicit session invalidations."},
	{ID: authcache.MetricTokenCacheHits, Name: "authcache_token_cache_hits_total", Help: "Token verification cache hits."},
	{ID: authcache.MetricTokenCacheMisses, Name: "authcache_token_cache_misses_total", Help: "Token verification cache misses."},
	{ID: authcache.MetricTokenCacheEvictions, Name: "authcache_token_cache_evictions_total", Help: "Token verification cache evictions."},
	{ID: authcache.MetricSessionCacheHits, Name: "authcache_session_cache_hits_total", Help: "Session cache hits."},
	{ID: authcache.MetricSessionCacheMisses, Name: "authcache_session_cache_misses_total", Help: "Session cache misses."},
	{ID: authcache.MetricSessionCacheEvictions, Name: "authcache_session_cache_evictions_total", Help: "Session cache evictions."},
	{ID: authcache.MetricSessionVersionChecks, Name: "authcache_session_version_checks_total", Help: "Version-marker checks against the user store."},
	{ID: authcache.MetricSessionFullReloads, Name: "authcache_session_full_reloads_total", Help: "Full profile reloads from the user store."},
	{ID: authcache.MetricSessionRestamps, Name: "authcache_session_restamps_total", Help: "Stale entries refreshed without a full reload."},
	{ID: authcache.MetricJWKSFetches, Name: "authcache_jwks_fetches_total", Help: "JWKS endpoint fetches."},
	{ID: authcache.MetricJWKSFetchFailures, Name: "authcache_jwks_fetch_failures_total", Help: "Failed JWKS endpoint fetches."},
	{ID: authcache.MetricJWKSServedStale, Name: "authcache_jwks_served_stale_total", Help: "Key lookups served from an expired key set."},
}

// HistogramDefs lists every histogram both exporters expose.
var HistogramDefs = []HistogramDef{
	{ID: authcache.MetricAuthLatency, Name: "authcache_auth_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds, matching the
// engine's bucket layout. The last bound is the overflow bucket.
var HistogramBounds = []string{
	"0.00005",
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.005",
	"0.025",
	"+Inf",
}

// HistogramBoundSuffix gives metric-name-safe forms of HistogramBounds for
// exporters that cannot use a "le" label.
var HistogramBoundSuffix = []string{
	"0_00005",
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_005",
	"0_025",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus histograms use.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
