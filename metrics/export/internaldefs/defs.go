package internaldefs

import (
	"github.com/little-brother/lbclient"
)

// CounterDef binds a client counter to its exported name.
type CounterDef struct {
	ID   lbclient.MetricID
	Name string
	Help string
}

// HistogramDef binds a client latency histogram to its exported name.
type HistogramDef struct {
	ID   lbclient.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: lbclient.MetricRequest, Name: "lbclient_requests_total", Help: "HTTP exchanges dispatched to the server, retries included."},
	{ID: lbclient.MetricRequestFailure, Name: "lbclient_request_failures_total", Help: "Exchanges that failed without an HTTP response."},
	{ID: lbclient.MetricUnauthorized, Name: "lbclient_unauthorized_total", Help: "Responses with status 401."},
	{ID: lbclient.MetricRetry, Name: "lbclient_retries_total", Help: "Requests re-sent after a token refresh."},
	{ID: lbclient.MetricRefreshSuccess, Name: "lbclient_refresh_success_total", Help: "Successful token refresh calls."},
	{ID: lbclient.MetricRefreshFailure, Name: "lbclient_refresh_failure_total", Help: "Failed token refresh calls."},
	{ID: lbclient.MetricLoginRedirect, Name: "lbclient_login_redirects_total", Help: "Navigations to the login view."},
	{ID: lbclient.MetricLoginSuccess, Name: "lbclient_login_success_total", Help: "Successful logins."},
	{ID: lbclient.MetricLoginFailure, Name: "lbclient_login_failure_total", Help: "Rejected or failed logins."},
	{ID: lbclient.MetricLogout, Name: "lbclient_logout_total", Help: "Completed logouts."},
	{ID: lbclient.MetricDecodeMiss, Name: "lbclient_decode_miss_total", Help: "Tagged objects with no registered type."},
	{ID: lbclient.MetricPollTick, Name: "lbclient_poll_ticks_total", Help: "Status poll cycles."},
	{ID: lbclient.MetricPollFailure, Name: "lbclient_poll_failures_total", Help: "Status poll cycles that ended in an error."},
}

// DispatcherSource exposes the event dispatcher counters, which live on the
// client rather than in its metrics registry.
type DispatcherSource interface {
	EventsDropped() uint64
	EventsDelivered() uint64
	LoginNavigations() uint64
}

// DispatcherDef binds a dispatcher counter to its exported name.
type DispatcherDef struct {
	Name string
	Help string
	Read func(DispatcherSource) uint64
}

// DispatcherDefs lists the dispatcher counters in export order.
var DispatcherDefs = []DispatcherDef{
	{Name: "lbclient_events_dropped_total", Help: "Events lost to a full dispatcher buffer.", Read: DispatcherSource.EventsDropped},
	{Name: "lbclient_events_delivered_total", Help: "Events handed to the event sink.", Read: DispatcherSource.EventsDelivered},
	{Name: "lbclient_login_navigations_total", Help: "Login navigations the navigator completed.", Read: DispatcherSource.LoginNavigations},
}

// HistogramDefs lists every latency histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: lbclient.MetricRequestLatency, Name: "lbclient_request_latency_seconds", Help: "Latency of single HTTP exchanges."},
	{ID: lbclient.MetricRefreshLatency, Name: "lbclient_refresh_latency_seconds", Help: "Latency of token refresh calls."},
}

// HistogramBounds are the upper bucket bounds in seconds, matching the
// millisecond buckets the client records.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw bucket counts to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals; the last
// element is the sample count.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
