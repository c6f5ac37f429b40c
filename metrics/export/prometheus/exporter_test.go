package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goMFA "github.com/MrEthical07/goMFA"
)

type fakeSource struct {
	snapshot goMFA.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goMFA.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                   { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters:   map[goMFA.MetricID]uint64{},
			Histograms: map[goMFA.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
	if got := (*Exporter)(nil).Render(); got != "" {
		t.Fatalf("expected empty output for nil exporter, got:\n%s", got)
	}
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{
				goMFA.MetricChallengeVerified:     7,
				goMFA.MetricWebAuthnCloneDetected: 1,
			},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"# TYPE gomfa_challenge_verified_total counter",
		"gomfa_challenge_verified_total 7",
		"gomfa_webauthn_clone_detected_total 1",
		"gomfa_login_success_total 0",
		"# TYPE gomfa_verify_latency_seconds histogram",
		`gomfa_verify_latency_seconds_bucket{le="0.005"} 1`,
		`gomfa_verify_latency_seconds_bucket{le="+Inf"} 36`,
		"gomfa_verify_latency_seconds_count 36",
		"gomfa_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestServeHTTPWritesPrometheusContentType(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters:   map[goMFA.MetricID]uint64{goMFA.MetricLoginSuccess: 1},
			Histograms: map[goMFA.MetricID][]uint64{},
		},
	})

	rec := httptest.NewRecorder()
	exp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gomfa_login_success_total 1") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{
				goMFA.MetricChallengeIssued:   1000,
				goMFA.MetricChallengeVerified: 800,
				goMFA.MetricChallengeInvalid:  40,
				goMFA.MetricLoginSuccess:      780,
				goMFA.MetricBackupCodeUsed:    3,
			},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricVerifyLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
