// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OK          = "ok"
	Failed      = "failed"
	RateLimited = "rate_limited"
)

var (
	// HTTPRequests counts served requests by route template, method and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_http_requests_total",
		Help: "Total HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	// HTTPDuration tracks request latency per route template.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "todo_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// AuthAttempts counts credential operations (login, register, reset) by outcome.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_auth_attempts_total",
		Help: "Credential operations by kind and outcome.",
	}, []string{"kind", "outcome"})

	// TokenRejections counts bearer tokens refused by the authorization filter.
	TokenRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_token_rejections_total",
		Help: "Rejected bearer tokens by reason.",
	}, []string{"reason"})

	// PurgedAccounts counts accounts physically removed by the purge job.
	PurgedAccounts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "todo_purged_accounts_total",
		Help: "Accounts removed after the deletion grace period.",
	})

	// PurgeRuns counts purge executions by outcome.
	PurgeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_purge_runs_total",
		Help: "Purge job runs by outcome.",
	}, []string{"outcome"})
)
