// Package metrics provides Prometheus metrics for the DNS failover controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names use the dnsfailover_ prefix.
const (
	Namespace = "dnsfailover"
)

// BuildInfo is set once via SetBuildInfo on startup.
var BuildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information for the DNS failover controller.",
	},
	[]string{"version", "go_version"},
)

// Reconciliation metrics.
var (
	// ReconciliationsTotal counts reconcile() invocations by outcome.
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconciliations_total",
			Help:      "Total number of reconcile runs.",
		},
		[]string{"outcome"}, // "no_change", "transition", "commit", "transient_error"
	)

	// ReconciliationDuration tracks reconcile() wall time.
	ReconciliationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Duration of reconcile runs in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// PhaseTransitionsTotal counts SystemPhase transitions.
	PhaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "phase_transitions_total",
			Help:      "Total number of system phase transitions.",
		},
		[]string{"from", "to"},
	)

	// CurrentPhase mirrors the current SystemPhase as a one-hot gauge vector.
	CurrentPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "current_phase",
			Help:      "1 for the active system phase, 0 for all others.",
		},
		[]string{"phase"},
	)

	// FailoversTotal counts successful PRIMARY to FAILOVER commits.
	FailoversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failovers_total",
			Help:      "Total number of committed failovers.",
		},
	)

	// FailbacksTotal counts successful FAILOVER to PRIMARY commits.
	FailbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failbacks_total",
			Help:      "Total number of committed failbacks.",
		},
	)

	// FailoverCount24h mirrors OperationalState.failover_count_24h.
	FailoverCount24h = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "failover_count_24h",
			Help:      "Current value of the 24h failover counter.",
		},
	)

	// CircuitBreakerTripsTotal counts refused failover stabilizations.
	CircuitBreakerTripsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of times the circuit breaker refused a new failover.",
		},
	)

	// DriftCorrectionsTotal counts drift corrections applied in step 2.
	DriftCorrectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "drift_corrections_total",
			Help:      "Total number of times the authoritative record disagreed with in-memory state.",
		},
	)
)

// Probe and observer metrics.
var (
	// PrimaryHealthy mirrors the last HealthProbe result (1=healthy, 0=unhealthy).
	PrimaryHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "primary_healthy",
			Help:      "Last HealthProbe result (1=healthy, 0=unhealthy).",
		},
	)

	// TunnelReachable mirrors the supplemental tunnel connectivity probe.
	TunnelReachable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tunnel_reachable",
			Help:      "Last tunnel connectivity probe result (1=reachable, 0=unreachable). Informational only.",
		},
	)

	// DNSObservationsTotal counts DNSObserver classifications by result.
	DNSObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dns_observations_total",
			Help:      "Total number of DNSObserver classifications.",
		},
		[]string{"target"}, // "primary", "failover", "unknown"
	)
)

// Provider API metrics.
var (
	// ProviderAPIRequestsTotal counts calls to the authoritative DNS provider.
	ProviderAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "provider_api_requests_total",
			Help:      "Total number of requests to the DNS provider API.",
		},
		[]string{"operation", "status"}, // operation: "get_record", "set_target", "ping"; status: "success", "error"
	)

	// ProviderAPIDuration tracks provider API request duration.
	ProviderAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "provider_api_duration_seconds",
			Help:      "Duration of DNS provider API requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ProviderHealthy tracks provider reachability (1=healthy, 0=unhealthy).
	ProviderHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "provider_healthy",
			Help:      "DNS provider reachability (1=healthy, 0=unhealthy).",
		},
	)
)

// StateStore metrics.
var (
	// StatePersistsTotal counts StateStore.Save outcomes.
	StatePersistsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "state_persists_total",
			Help:      "Total number of operational state persist attempts.",
		},
		[]string{"status"}, // "success", "error"
	)
)

// Webhook metrics.
var (
	// WebhookAlertsTotal counts inbound Alertmanager-style alerts by name and status.
	WebhookAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "webhook_alerts_total",
			Help:      "Total number of alerts received on the webhook endpoint.",
		},
		[]string{"alertname", "status"},
	)
)

// SetBuildInfo sets the build info metric with version and go version.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
