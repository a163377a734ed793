package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authcache "github.com/philbeliveau/orientor-authcache"
)

type fakeSource struct {
	snapshot authcache.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcache.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcache.MetricsSnapshot{
			Counters:   map[authcache.MetricID]uint64{},
			Histograms: map[authcache.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcache.MetricsSnapshot{
			Counters: map[authcache.MetricID]uint64{
				authcache.MetricAuthSuccess:     7,
				authcache.MetricTokenCacheHits:  12,
				authcache.MetricSessionRestamps: 3,
				authcache.MetricTamperDetected:  1,
			},
			Histograms: map[authcache.MetricID][]uint64{
				authcache.MetricAuthLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "authcache_auth_success_total 7") {
		t.Fatalf("expected auth_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcache_token_cache_hits_total 12") {
		t.Fatalf("expected token cache hits counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcache_auth_latency_seconds_bucket{le=\"0.00005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcache_auth_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcache_auth_latency_seconds_count 36") {
		t.Fatalf("expected histogram count in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcache_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestRenderShortHistogramSnapshotPadded(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcache.MetricsSnapshot{
			Counters: map[authcache.MetricID]uint64{},
			Histograms: map[authcache.MetricID][]uint64{
				authcache.MetricAuthLatency: {5, 5},
			},
		},
	})

	out := exp.Render()
	if !strings.Contains(out, "authcache_auth_latency_seconds_bucket{le=\"+Inf\"} 10") {
		t.Fatalf("expected padded cumulative bucket, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcache.MetricsSnapshot{
			Counters:   map[authcache.MetricID]uint64{authcache.MetricAuthSuccess: 1},
			Histograms: map[authcache.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcache.MetricsSnapshot{
			Counters: map[authcache.MetricID]uint64{
				authcache.MetricAuthSuccess:      1000,
				authcache.MetricAuthFailure:      40,
				authcache.MetricScopeHits:        800,
				authcache.MetricTokenCacheHits:   900,
				authcache.MetricSessionCacheHits: 850,
				authcache.MetricInvalidations:    20,
			},
			Histograms: map[authcache.MetricID][]uint64{
				authcache.MetricAuthLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
