package gatekeeper

import (
	"sort"
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginSecondFactorRequired
	MetricLoginRoleSelectionRequired
	MetricDeviceBlockedRejected
	MetricDeviceCheckFailOpen
	MetricSecondFactorSuccess
	MetricSecondFactorFailure
	MetricSecondFactorLockedOut
	MetricRoleSelected
	MetricRoleSelectionRejected
	MetricBackupCodeUsed
	MetricBackupCodeRegenerated
	MetricOTPSent
	MetricOTPSendThrottled
	MetricFactorEnabled
	MetricFactorDisabled
	MetricDeviceSessionCreated
	MetricDeviceBlocked
	MetricDeviceRevoked
	MetricAuthorizeSuccess
	MetricAuthorizeFailure
	MetricTOTPReplayed
	MetricTokenReplayed
	// MetricLoginLatency is a histogram over Login, VerifySecondFactor and SelectRole.
	MetricLoginLatency
	metricIDCount
)

// LatencyBucketBounds are the upper bounds, in milliseconds, of the first seven
// latency buckets; the eighth is unbounded.
var LatencyBucketBounds = [histBucketCount - 1]int64{25, 50, 100, 250, 500, 1000, 2500}

const histBucketCount = 8

// counterCell keeps each counter on its own cache line; the login path bumps
// several of them concurrently.
type counterCell struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free counters and the login latency histogram. A nil or
// disabled *Metrics ignores writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counterCell
	latency       [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded. A nil Metrics is disabled.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount || id == MetricLoginLatency {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d in the latency histogram. Only MetricLoginLatency is a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricLoginLatency {
		return
	}
	m.latency[latencyBucket(d)].Add(1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter and the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id != MetricLoginLatency {
			snap.Counters[id] = m.counters[id].n.Load()
		}
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[i].Load()
		}
		snap.Histograms[MetricLoginLatency] = buckets
	}
	return snap
}

func latencyBucket(d time.Duration) int {
	ms := d.Milliseconds()
	return sort.Search(len(LatencyBucketBounds), func(i int) bool {
		return ms <= LatencyBucketBounds[i]
	})
}
