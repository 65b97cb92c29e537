package lbclient

import (
	"net/http"
	"sync/atomic"
	"time"
)

// MetricID identifies a counter or histogram.
type MetricID uint16

const (
	// MetricRequest counts dispatched HTTP exchanges, retries included.
	MetricRequest MetricID = iota
	// MetricRequestFailure counts exchanges that failed below HTTP.
	MetricRequestFailure
	// MetricUnauthorized counts 401 responses.
	MetricUnauthorized
	// MetricRetry counts requests re-sent after a refresh.
	MetricRetry
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricLoginRedirect counts navigations to the login view.
	MetricLoginRedirect
	MetricLoginSuccess
	MetricLoginFailure
	MetricLogout
	// MetricDecodeMiss counts objects with an unregistered type tag.
	MetricDecodeMiss
	MetricPollTick
	MetricPollFailure
	// MetricRequestLatency is a histogram of exchange latency.
	MetricRequestLatency
	// MetricRefreshLatency is a histogram of refresh call latency.
	MetricRefreshLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of counters and latency histograms. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a registry. With cfg.Enabled false every method is a
// no-op and Snapshot is empty.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in a latency histogram. Non-histogram ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, every histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricRequestLatency, MetricRefreshLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricRequestLatency || id == MetricRefreshLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}

// pipelineObserver feeds transport measurements into Metrics.
type pipelineObserver struct {
	metrics *Metrics
}

func (o pipelineObserver) ObserveRequest(status int, err error, d time.Duration) {
	o.metrics.Inc(MetricRequest)
	o.metrics.Observe(MetricRequestLatency, d)
	if err != nil {
		o.metrics.Inc(MetricRequestFailure)
		return
	}
	if status == http.StatusUnauthorized {
		o.metrics.Inc(MetricUnauthorized)
	}
}

func (o pipelineObserver) ObserveRefresh(err error, d time.Duration) {
	o.metrics.Observe(MetricRefreshLatency, d)
	if err != nil {
		o.metrics.Inc(MetricRefreshFailure)
		return
	}
	o.metrics.Inc(MetricRefreshSuccess)
}

func (o pipelineObserver) ObserveRetry() {
	o.metrics.Inc(MetricRetry)
}

func (o pipelineObserver) ObserveLoginRedirect() {
	o.metrics.Inc(MetricLoginRedirect)
}
