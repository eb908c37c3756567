package goRealtime

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricConnectionOpened counts upgraded websocket connections.
	MetricConnectionOpened MetricID = iota
	// MetricConnectionClosed counts connections whose pumps have exited.
	MetricConnectionClosed
	// MetricAuthSuccess counts authenticate messages answered with authorization_success.
	MetricAuthSuccess
	// MetricAuthFailure counts authenticate messages answered with authorization_error.
	MetricAuthFailure
	// MetricTokenExpired counts privileged messages rejected with token_expired.
	MetricTokenExpired
	// MetricTokenNearExpiry counts token_near_expiry hints pushed.
	MetricTokenNearExpiry
	// MetricRenewSuccess counts accepted renew_token messages.
	MetricRenewSuccess
	// MetricRenewFailure counts rejected renew_token messages.
	MetricRenewFailure
	// MetricRoomJoin counts authorized room joins.
	MetricRoomJoin
	// MetricRoomJoinDenied counts room joins rejected by a guard.
	MetricRoomJoinDenied
	// MetricRoomLeave counts room leaves.
	MetricRoomLeave
	// MetricBroadcastDelivered counts frames queued to a member by fan-out.
	MetricBroadcastDelivered
	// MetricBroadcastDropped counts frames dropped because a member's send buffer was full.
	MetricBroadcastDropped
	// MetricPermissionDenied counts privileged messages rejected with permission_denied.
	MetricPermissionDenied
	// MetricForcedDisconnect counts server-forced closes.
	MetricForcedDisconnect
	// MetricIssuerSuccess counts realtime tokens minted by the renew handler.
	MetricIssuerSuccess
	// MetricIssuerFailure counts renew handler requests that failed.
	MetricIssuerFailure
	// MetricIssuerRateLimited counts renew handler requests rejected by the throttle.
	MetricIssuerRateLimited
	// MetricAuthLatency is the authenticate handling latency histogram.
	MetricAuthLatency
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

// Metrics holds lock-free engine counters.
//
// Metrics is safe for concurrent use; a nil *Metrics records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a Metrics from cfg.
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

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram id. Only [MetricAuthLatency] is a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthLatency {
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

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricAuthLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthLatency].buckets[i])
		}
		s.Histograms[MetricAuthLatency] = buckets
	}

	return s
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
