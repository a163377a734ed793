// Package prometheus renders engine metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts an [authcache.Engine] and exposes an
// [net/http.Handler] that renders every engine counter and histogram.
// Counter names are prefixed authcache_*_total; the single histogram is
// authcache_auth_latency_seconds.
//
// The package never registers anything in a global Prometheus registry and
// never mutates engine state; callers mount the Handler themselves.
package prometheus
