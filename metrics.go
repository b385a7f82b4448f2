package hostauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram.
type MetricID uint16

const (
	// MetricRegisterSuccess counts successful registrations.
	MetricRegisterSuccess MetricID = iota
	// MetricRegisterConflict counts registrations rejected for a taken email.
	MetricRegisterConflict
	// MetricLoginSuccess counts completed logins.
	MetricLoginSuccess
	// MetricLoginFailure counts logins rejected for bad credentials or code.
	MetricLoginFailure
	// MetricLoginSecondFactorRequired counts logins paused for a second factor code.
	MetricLoginSecondFactorRequired
	// MetricLoginAccountState counts logins rejected for a suspended or banned identity.
	MetricLoginAccountState
	MetricLogout
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricSecondFactorSetup
	MetricSecondFactorEnabled
	MetricSecondFactorDisabled
	// MetricSecondFactorVerifyFailure counts rejected TOTP or recovery codes outside login.
	MetricSecondFactorVerifyFailure
	// MetricTOTPReplayRejected counts valid codes refused because their step was already used.
	MetricTOTPReplayRejected
	MetricRecoveryCodeUsed
	MetricRecoveryCodeFailed
	MetricRecoveryCodesRegenerated
	MetricSessionIssued
	MetricSessionRevoked
	// MetricSessionRejected counts tokens refused by VerifySession.
	MetricSessionRejected
	MetricNotificationFailed
	// MetricSessionVerifyLatency is a histogram of VerifySession latency.
	MetricSessionVerifyLatency
	// MetricHashLatency is a histogram of argon2 hash and verify latency.
	MetricHashLatency
	metricIDCount
)

const cacheLineSize = 64

var metricNames = [metricIDCount]string{
	MetricRegisterSuccess:            "register_success",
	MetricRegisterConflict:           "register_conflict",
	MetricLoginSuccess:               "login_success",
	MetricLoginFailure:               "login_failure",
	MetricLoginSecondFactorRequired:  "login_second_factor_required",
	MetricLoginAccountState:          "login_account_state",
	MetricLogout:                     "logout",
	MetricPasswordChangeSuccess:      "password_change_success",
	MetricPasswordChangeFailure:      "password_change_failure",
	MetricSecondFactorSetup:          "second_factor_setup",
	MetricSecondFactorEnabled:        "second_factor_enabled",
	MetricSecondFactorDisabled:       "second_factor_disabled",
	MetricSecondFactorVerifyFailure:  "second_factor_verify_failure",
	MetricTOTPReplayRejected:         "totp_replay_rejected",
	MetricRecoveryCodeUsed:           "recovery_code_used",
	MetricRecoveryCodeFailed:         "recovery_code_failed",
	MetricRecoveryCodesRegenerated:   "recovery_codes_regenerated",
	MetricSessionIssued:              "session_issued",
	MetricSessionRevoked:             "session_revoked",
	MetricSessionRejected:            "session_rejected",
	MetricNotificationFailed:         "notification_failed",
	MetricSessionVerifyLatency:       "session_verify_latency",
	MetricHashLatency:                "hash_latency",
}

// String returns the snake_case metric name used by exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs lists every defined metric in declaration order.
func MetricIDs() []MetricID {
	out := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}

// histogramIDs are the metrics recorded with Observe, in slot order.
var histogramIDs = [...]MetricID{MetricSessionVerifyLatency, MetricHashLatency}

func histogramSlot(id MetricID) (int, bool) {
	for i, h := range histogramIDs {
		if h == id {
			return i, true
		}
	}
	return 0, false
}

// IsHistogram reports whether id is recorded with Observe rather than Inc.
func (id MetricID) IsHistogram() bool {
	_, ok := histogramSlot(id)
	return ok
}

// latencyBounds are inclusive bucket upper bounds. Anything slower lands
// in one extra overflow bucket.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBucketCount = len(latencyBounds) + 1

// HistogramBucketBounds returns a copy of the bounded buckets' limits.
func HistogramBucketBounds() []time.Duration {
	return append([]time.Duration(nil), latencyBounds[:]...)
}

func latencyBucket(d time.Duration) int {
	for i, limit := range latencyBounds {
		if d <= limit {
			return i
		}
	}
	return len(latencyBounds)
}

// counterCell keeps each counter on its own cache line.
type counterCell struct {
	n atomic.Uint64
	_ [cacheLineSize - 8]byte
}

type latencyHistogram [latencyBucketCount]atomic.Uint64

// Metrics is a set of lock-free counters and fixed-bucket latency
// histograms. A nil or disabled Metrics accepts every call and records
// nothing.
type Metrics struct {
	enabled   bool
	latency   bool
	counters  [metricIDCount]counterCell
	latencies [len(histogramIDs)]latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of the counters and, when
// latency histograms are on, the per-bucket sample counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc adds one to a counter. Histogram ids are ignored.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount || id.IsHistogram() {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d in a latency histogram. Counter ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() {
		return
	}
	if slot, ok := histogramSlot(id); ok {
		m.latencies[slot][latencyBucket(d)].Add(1)
	}
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if !id.IsHistogram() {
			s.Counters[id] = m.counters[id].n.Load()
		}
	}
	if m.latency {
		for slot, id := range histogramIDs {
			buckets := make([]uint64, latencyBucketCount)
			for i := range buckets {
				buckets[i] = m.latencies[slot][i].Load()
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}
