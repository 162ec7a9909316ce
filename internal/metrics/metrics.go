// Package metrics exposes the Prometheus collectors of the decision engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_ingested_total",
			Help: "Total number of security events appended to the history",
		},
		[]string{"event_type"},
	)

	// SuspiciousEventsTotal is labelled with the first signal that fired,
	// or "supplied" for login attempts carrying an upstream verdict.
	SuspiciousEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_suspicious_total",
			Help: "Total number of events flagged suspicious",
		},
		[]string{"signal"},
	)

	ClassificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "security_event_classification_duration_seconds",
			Help:    "Time spent evaluating suspicion signals",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	AccountLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "account_lockouts_total",
			Help: "Total number of accounts locked after repeated failures",
		},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	AuditExportFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_export_failures_total",
			Help: "Audit lines a sink failed to accept",
		},
		[]string{"sink"},
	)

	AuditExportDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_export_dropped_total",
			Help: "Audit lines dropped because the export queue was full",
		},
	)

	GeoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_lookups_total",
			Help: "Geo enrichment lookups by result",
		},
		[]string{"result"},
	)
)

// Login outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeLocked  = "locked"
)

func RecordIngested(eventType string, suspicious bool, signal string) {
	EventsIngestedTotal.WithLabelValues(eventType).Inc()
	if !suspicious {
		return
	}
	if signal == "" {
		signal = "supplied"
	}
	SuspiciousEventsTotal.WithLabelValues(signal).Inc()
}

func ObserveClassification(d time.Duration) {
	ClassificationDuration.Observe(d.Seconds())
}

func RecordLockout() {
	AccountLockoutsTotal.Inc()
}

func RecordLoginAttempt(outcome string) {
	LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}

func RecordExportFailure(sink string) {
	AuditExportFailuresTotal.WithLabelValues(sink).Inc()
}

func RecordExportDropped() {
	AuditExportDroppedTotal.Inc()
}

func RecordGeoLookup(result string) {
	GeoLookupsTotal.WithLabelValues(result).Inc()
}
