// Package metrics exposes Prometheus counters for the sign-in flow and the
// navigation guard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GuardDecisions counts guard outcomes by decision
	// (allow, login, deny, abort, open).
	GuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_child_guard_decisions_total",
			Help: "Navigation guard decisions by outcome",
		},
		[]string{"decision"},
	)

	// LoginRedirects counts redirects issued to the provider authorization endpoint.
	LoginRedirects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sso_child_login_redirects_total",
			Help: "Redirects to the mother provider authorization endpoint",
		},
	)

	// CodeExchanges counts authorization code exchanges by result.
	CodeExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_child_code_exchanges_total",
			Help: "Authorization code exchanges by result",
		},
		[]string{"result"},
	)

	// ExchangeDuration tracks the token endpoint round trip.
	ExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sso_child_code_exchange_duration_seconds",
			Help:    "Duration of authorization code exchanges",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ProfileFetches counts profile lookups by source (cache, provider) and result.
	ProfileFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_child_profile_fetches_total",
			Help: "Profile lookups by source and result",
		},
		[]string{"source", "result"},
	)

	// SessionResets counts local session resets by reason.
	SessionResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_child_session_resets_total",
			Help: "Local session resets by reason",
		},
		[]string{"reason"},
	)
)

func RecordGuardDecision(decision string) {
	GuardDecisions.WithLabelValues(decision).Inc()
}

func RecordExchange(result string, seconds float64) {
	CodeExchanges.WithLabelValues(result).Inc()
	ExchangeDuration.Observe(seconds)
}

func RecordProfileFetch(source, result string) {
	ProfileFetches.WithLabelValues(source, result).Inc()
}

func RecordSessionReset(reason string) {
	SessionResets.WithLabelValues(reason).Inc()
}
