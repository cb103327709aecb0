package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the agent's metrics registry, exposed on the diagnostics
// server's /metrics endpoint.
var Registry = prometheus.NewRegistry()

var (
	// SessionsTotal counts concluded update sessions by outcome
	// (complete, failed, aborted).
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updrift_ota_sessions_total",
			Help: "Total number of concluded OTA sessions by outcome.",
		},
		[]string{"outcome"},
	)

	// BytesWritten counts firmware bytes programmed into slots.
	BytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "updrift_ota_bytes_written_total",
			Help: "Total firmware bytes written into slots.",
		},
	)

	// ChunkRetriesTotal counts per-chunk write retries after transient
	// flash failures.
	ChunkRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "updrift_ota_chunk_retries_total",
			Help: "Total chunk write retries after transient flash errors.",
		},
	)

	// VerifyDuration observes how long image verification takes.
	VerifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "updrift_ota_verify_duration_seconds",
			Help:    "Duration of slot image verification.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RollbacksTotal counts boot-time rollbacks of unconfirmed updates.
	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "updrift_ota_rollbacks_total",
			Help: "Total rollbacks of unconfirmed updates.",
		},
	)
)

func init() {
	Registry.MustRegister(SessionsTotal)
	Registry.MustRegister(BytesWritten)
	Registry.MustRegister(ChunkRetriesTotal)
	Registry.MustRegister(VerifyDuration)
	Registry.MustRegister(RollbacksTotal)
}
