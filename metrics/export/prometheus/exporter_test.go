package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/little-brother/lbclient"
)

type fakeSource struct {
	snapshot    lbclient.MetricsSnapshot
	dropped     uint64
	delivered   uint64
	navigations uint64
}

func (f fakeSource) MetricsSnapshot() lbclient.MetricsSnapshot { return f.snapshot }
func (f fakeSource) EventsDropped() uint64                     { return f.dropped }
func (f fakeSource) EventsDelivered() uint64                   { return f.delivered }
func (f fakeSource) LoginNavigations() uint64                  { return f.navigations }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: lbclient.MetricsSnapshot{
			Counters:   map[lbclient.MetricID]uint64{},
			Histograms: map[lbclient.MetricID][]uint64{},
		},
	})
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: lbclient.MetricsSnapshot{
			Counters: map[lbclient.MetricID]uint64{
				lbclient.MetricRefreshSuccess: 7,
				lbclient.MetricUnauthorized:   9,
			},
			Histograms: map[lbclient.MetricID][]uint64{
				lbclient.MetricRequestLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped:     2,
		delivered:   11,
		navigations: 1,
	})

	out := exp.Render()
	for _, want := range []string{
		"lbclient_refresh_success_total 7",
		"lbclient_unauthorized_total 9",
		"lbclient_requests_total 0",
		`lbclient_request_latency_seconds_bucket{le="0.005"} 1`,
		`lbclient_request_latency_seconds_bucket{le="+Inf"} 36`,
		"lbclient_request_latency_seconds_count 36",
		"lbclient_events_dropped_total 2",
		"lbclient_events_delivered_total 11",
		"lbclient_login_navigations_total 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "lbclient_refresh_latency_seconds") {
		t.Error("histogram absent from the snapshot must not be rendered")
	}
}

func TestRenderFromClient(t *testing.T) {
	cfg := lbclient.DefaultConfig()
	cfg.API.BaseURL = "http://lb.test/api"
	client, err := lbclient.New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer client.Close()

	client.Metrics().Inc(lbclient.MetricLoginRedirect)
	out := NewExporter(client).Render()
	if !strings.Contains(out, "lbclient_login_redirects_total 1") {
		t.Fatalf("client counter not exported:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: lbclient.MetricsSnapshot{
			Counters: map[lbclient.MetricID]uint64{lbclient.MetricLoginSuccess: 1},
		},
	})

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: lbclient.MetricsSnapshot{
			Counters: map[lbclient.MetricID]uint64{
				lbclient.MetricRequest:        1000,
				lbclient.MetricUnauthorized:   40,
				lbclient.MetricRefreshSuccess: 38,
				lbclient.MetricPollTick:       300,
			},
			Histograms: map[lbclient.MetricID][]uint64{
				lbclient.MetricRequestLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	for b.Loop() {
		_ = exp.Render()
	}
}
