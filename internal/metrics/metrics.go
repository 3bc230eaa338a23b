// Package metrics exposes rdpd's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Sessions               = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "rdpd_sessions", Help: "Live sessions by state"}, []string{"state"})
	SessionsAccepted       = promauto.NewCounter(prometheus.CounterOpts{Name: "rdpd_sessions_accepted_total", Help: "Transport connections turned into sessions"})
	SessionsRejected       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rdpd_sessions_rejected_total", Help: "Transport connections refused before a session was created"}, []string{"reason"})
	LogonDecisions         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rdpd_logon_decisions_total", Help: "Logon outcomes by negotiation callback"}, []string{"callback", "result"})
	AuthAttempts           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rdpd_auth_attempts_total", Help: "Credential checks by method"}, []string{"method", "result"})
	SessionClose           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rdpd_session_close_total", Help: "Session terminations by reason"}, []string{"reason"})
	CapabilityRejections   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rdpd_capability_rejections_total", Help: "Handshakes aborted for missing client capabilities"}, []string{"reason"})
	HostNetworkBytes       = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "rdpd_host_network_bytes", Help: "Host interface byte counters at last sample"}, []string{"direction"})
	HostNetworkThroughput  = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "rdpd_host_network_bytes_per_second", Help: "Host interface throughput between the last two samples"}, []string{"direction"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "rdpd_session_duration_seconds", Help: "Session lifetime from accept to close", Buckets: prometheus.ExponentialBuckets(1, 2, 16)})
)

// Result maps a boolean outcome to a label value.
func Result(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}
