package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/hostauth"
)

type fakeSource struct {
	mu      sync.Mutex
	metrics *hostauth.Metrics
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() hostauth.MetricsSnapshot { return f.metrics.Snapshot() }

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					key := m.Name
					if le, ok := dp.Attributes.Value("le"); ok {
						key += "{le=" + le.AsString() + "}"
					}
					out[key] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterCollectsEngineMetrics(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		metrics: hostauth.NewMetrics(hostauth.MetricsConfig{Enabled: true, EnableLatencyHistograms: true}),
		dropped: 4,
	}
	src.metrics.Inc(hostauth.MetricLoginSuccess)
	src.metrics.Inc(hostauth.MetricLoginSuccess)
	src.metrics.Inc(hostauth.MetricRecoveryCodeUsed)

	exp, err := New(provider.Meter("hostauth-test"), src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	got := collect(t, reader)
	if got["hostauth_login_success_total"] != 2 {
		t.Fatalf("login_success = %d", got["hostauth_login_success_total"])
	}
	if got["hostauth_recovery_code_used_total"] != 1 {
		t.Fatalf("recovery_code_used = %d", got["hostauth_recovery_code_used_total"])
	}
	if got["hostauth_audit_dropped_total"] != 4 {
		t.Fatalf("audit_dropped = %d", got["hostauth_audit_dropped_total"])
	}
	if _, ok := got["hostauth_hash_latency_seconds_bucket{le=+Inf}"]; !ok {
		t.Fatalf("missing hash latency +Inf bucket in %v", got)
	}
	if _, ok := got["hostauth_session_verify_latency_seconds_count"]; !ok {
		t.Fatal("missing session verify count gauge")
	}
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newMeter()
	if _, err := New(provider.Meter("hostauth-test"), nil); err != ErrNilSource {
		t.Fatalf("nil source err = %v", err)
	}
	if _, err := New(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("nil meter err = %v", err)
	}
	var exp *Exporter
	if err := exp.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{metrics: hostauth.NewMetrics(hostauth.MetricsConfig{Enabled: true})}

	exp, err := New(provider.Meter("hostauth-test"), src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.metrics.Inc(hostauth.MetricSessionIssued)
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}()
	}
	wg.Wait()

	if got := collect(t, reader)["hostauth_session_issued_total"]; got != 8 {
		t.Fatalf("session_issued = %d", got)
	}
}
