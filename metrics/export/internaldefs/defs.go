package internaldefs

import (
	"github.com/MrEthical07/hostauth"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   hostauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   hostauth.MetricID
	Name string
	Help string
}

var counterHelp = map[hostauth.MetricID]string{
	hostauth.MetricRegisterSuccess:           "Successful registrations.",
	hostauth.MetricRegisterConflict:          "Registrations rejected because the email is taken.",
	hostauth.MetricLoginSuccess:              "Completed logins.",
	hostauth.MetricLoginFailure:              "Logins rejected for bad credentials or second factor code.",
	hostauth.MetricLoginSecondFactorRequired: "Logins paused for a second factor code.",
	hostauth.MetricLoginAccountState:         "Logins rejected for a suspended or banned account.",
	hostauth.MetricLogout:                    "Logouts.",
	hostauth.MetricPasswordChangeSuccess:     "Successful password changes.",
	hostauth.MetricPasswordChangeFailure:     "Rejected password changes.",
	hostauth.MetricSecondFactorSetup:         "Second factor setups started.",
	hostauth.MetricSecondFactorEnabled:       "Second factor enrollments completed.",
	hostauth.MetricSecondFactorDisabled:      "Second factor removals.",
	hostauth.MetricSecondFactorVerifyFailure: "Rejected second factor codes outside login.",
	hostauth.MetricTOTPReplayRejected:        "Valid TOTP codes refused because their time step was already used.",
	hostauth.MetricRecoveryCodeUsed:          "Recovery codes consumed.",
	hostauth.MetricRecoveryCodeFailed:        "Recovery code attempts that matched no unused code.",
	hostauth.MetricRecoveryCodesRegenerated:  "Recovery code batch regenerations.",
	hostauth.MetricSessionIssued:             "Session tokens issued.",
	hostauth.MetricSessionRevoked:            "Session tokens revoked.",
	hostauth.MetricSessionRejected:           "Session tokens rejected on verification.",
	hostauth.MetricNotificationFailed:        "Security notifications that failed to deliver.",
}

var histogramHelp = map[hostauth.MetricID]string{
	hostauth.MetricSessionVerifyLatency: "Session verification latency.",
	hostauth.MetricHashLatency:          "Argon2 hash and verify latency.",
}

// CounterDefs and HistogramDefs list every engine metric in declaration
// order.
var CounterDefs, HistogramDefs = buildDefs()

func buildDefs() ([]CounterDef, []HistogramDef) {
	var counters []CounterDef
	var histograms []HistogramDef
	for _, id := range hostauth.MetricIDs() {
		if id.IsHistogram() {
			histograms = append(histograms, HistogramDef{
				ID:   id,
				Name: "hostauth_" + id.String() + "_seconds",
				Help: histogramHelp[id],
			})
			continue
		}
		counters = append(counters, CounterDef{
			ID:   id,
			Name: "hostauth_" + id.String() + "_total",
			Help: counterHelp[id],
		})
	}
	return counters, histograms
}

// AuditDroppedName is the counter for audit events discarded under
// backpressure.
const AuditDroppedName = "hostauth_audit_dropped_total"

// HistogramBounds are the Prometheus le labels matching
// hostauth.HistogramBucketBounds plus +Inf.
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

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
