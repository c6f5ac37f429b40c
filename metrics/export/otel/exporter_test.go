package otel

import (
	"context"
	"sync"
	"testing"

	goMFA "github.com/MrEthical07/goMFA"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goMFA.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goMFA.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goMFA.MetricsSnapshot{
		Counters:   make(map[goMFA.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goMFA.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestExporterReportsValues(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{goMFA.MetricChallengeVerified: 3},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := New(provider.Meter("gomfa-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)

	verified, ok := got["gomfa_challenge_verified_total"].(metricdata.Sum[int64])
	if !ok || len(verified.DataPoints) != 1 || verified.DataPoints[0].Value != 3 {
		t.Fatalf("unexpected verified counter: %#v", got["gomfa_challenge_verified_total"])
	}

	buckets, ok := got["gomfa_verify_latency_seconds_bucket"].(metricdata.Gauge[int64])
	if !ok || len(buckets.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket points, got %#v", got["gomfa_verify_latency_seconds_bucket"])
	}
	for _, dp := range buckets.DataPoints {
		le, _ := dp.Attributes.Value("le")
		if le.AsString() == "+Inf" && dp.Value != 8 {
			t.Fatalf("+Inf bucket = %d, want 8", dp.Value)
		}
	}

	dropped, ok := got["gomfa_audit_dropped_total"].(metricdata.Sum[int64])
	if !ok || dropped.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected audit dropped counter: %#v", got["gomfa_audit_dropped_total"])
	}
}

func TestExporterSkipsDisabledHistogram(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{snapshot: goMFA.MetricsSnapshot{
		Counters:   map[goMFA.MetricID]uint64{},
		Histograms: map[goMFA.MetricID][]uint64{},
	}}
	exp, err := New(provider.Meter("gomfa-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if _, ok := got["gomfa_verify_latency_seconds_bucket"]; ok {
		t.Fatal("expected no bucket points when latency histograms are off")
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader(t)
	if _, err := New(provider.Meter("gomfa-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := New(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{
		snapshot: goMFA.MetricsSnapshot{
			Counters: map[goMFA.MetricID]uint64{goMFA.MetricLoginSuccess: 1},
			Histograms: map[goMFA.MetricID][]uint64{
				goMFA.MetricVerifyLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := New(provider.Meter("gomfa-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goMFA.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
