// Package metrics provides Prometheus metrics for the CRM client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: route names and fixed outcomes only, never task ids.

var (
	// FetchAttemptsTotal counts HTTP attempts made by the authorized fetcher.
	FetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmreports",
		Name:      "fetch_attempts_total",
		Help:      "Total HTTP attempts made by the authorized fetcher, by route.",
	}, []string{"route"})

	// FetchResultsTotal counts completed fetches by route and outcome.
	FetchResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmreports",
		Name:      "fetch_results_total",
		Help:      "Total authorized fetches by route and outcome (ok, forbidden, http_error, unauthenticated).",
	}, []string{"route", "outcome"})

	// TaskPollsTotal counts task status requests by outcome.
	TaskPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmreports",
		Name:      "task_polls_total",
		Help:      "Total task status requests by outcome (pending, ready, failed, error).",
	}, []string{"outcome"})

	// SessionRefreshTotal counts refresh exchanges by result.
	SessionRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmreports",
		Name:      "session_refresh_total",
		Help:      "Total token refresh exchanges by result (ok, expired, error, stale).",
	}, []string{"result"})
)

// Outcome labels
const (
	OutcomeOK              = "ok"
	OutcomeForbidden       = "forbidden"
	OutcomeHTTPError       = "http_error"
	OutcomeUnauthenticated = "unauthenticated"

	PollPending = "pending"
	PollReady   = "ready"
	PollFailed  = "failed"
	PollError   = "error"

	RefreshOK      = "ok"
	RefreshExpired = "expired"
	RefreshError   = "error"
	RefreshStale   = "stale"
)
