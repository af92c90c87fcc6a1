// Package metrics holds the prometheus instruments shared across the
// gateway. Everything is registered on the default registry and exposed by
// the /metrics handler in cmd/api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamFetches counts backend reads by source and outcome.
	UpstreamFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolgate_upstream_fetches_total",
		Help: "Backend read attempts by source (students, accounts, attendance, branches) and outcome.",
	}, []string{"source", "outcome"})

	// StaleResponsesDropped counts fetch responses discarded because a newer
	// fetch had already started.
	StaleResponsesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolgate_stale_responses_dropped_total",
		Help: "Fetch responses discarded by the refresh sequence guard.",
	})

	// Commits counts attendance writes by action and outcome
	// (accepted, rejected, network_failure).
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolgate_commits_total",
		Help: "Attendance commits by action and outcome.",
	}, []string{"action", "outcome"})
)
