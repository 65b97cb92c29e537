package lbclient

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricRetry)
	m.Observe(MetricRequestLatency, time.Millisecond)
	if m.Value(MetricRetry) != 0 || len(m.Snapshot().Counters) != 0 {
		t.Fatal("nil metrics should record nothing")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRequest)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRequest); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricRequestLatency, d)
	}
	// Counters are not histograms.
	m.Observe(MetricRetry, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRequestLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Histograms[MetricRetry]; ok {
		t.Fatal("counter must not appear as histogram")
	}
}

func TestMetricsLatencyDisabledNoHistograms(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricRefreshLatency, time.Millisecond)
	if len(m.Snapshot().Histograms) != 0 {
		t.Fatal("expected no histograms without EnableLatencyHistograms")
	}
}

func TestPipelineObserverCounts(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	o := pipelineObserver{metrics: m}

	o.ObserveRequest(http.StatusOK, nil, 2*time.Millisecond)
	o.ObserveRequest(http.StatusUnauthorized, nil, 2*time.Millisecond)
	o.ObserveRequest(0, errors.New("dial"), 2*time.Millisecond)
	o.ObserveRefresh(nil, 30*time.Millisecond)
	o.ObserveRefresh(errors.New("403"), 30*time.Millisecond)
	o.ObserveRetry()
	o.ObserveLoginRedirect()

	snap := m.Snapshot()
	want := map[MetricID]uint64{
		MetricRequest:        3,
		MetricUnauthorized:   1,
		MetricRequestFailure: 1,
		MetricRefreshSuccess: 1,
		MetricRefreshFailure: 1,
		MetricRetry:          1,
		MetricLoginRedirect:  1,
	}
	for id, v := range want {
		if snap.Counters[id] != v {
			t.Fatalf("metric %d: expected %d, got %d", id, v, snap.Counters[id])
		}
	}
	if snap.Histograms[MetricRefreshLatency][3] != 2 {
		t.Fatalf("expected two refresh observations in the 50ms bucket, got %v", snap.Histograms[MetricRefreshLatency])
	}
}
