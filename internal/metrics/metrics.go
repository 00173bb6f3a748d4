// Package metrics exposes Prometheus counters for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchRequests tracks the number of HTTP fetch attempts dispatched.
	FetchRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedscout_fetch_requests_total",
		Help: "The total number of HTTP fetch attempts sent.",
	})
	// FetchRetries tracks how many attempts were retries after a transient failure.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedscout_fetch_retries_total",
		Help: "The total number of fetch retries after transient failures.",
	})
	// FetchErrors tracks terminal fetch failures by classification.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedscout_fetch_errors_total",
		Help: "The total number of terminal fetch failures by kind.",
	}, []string{"kind"})
	// StageItems tracks per-stage item outcomes.
	StageItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedscout_stage_items_total",
		Help: "The total number of stage items by stage and outcome.",
	}, []string{"stage", "outcome"})
)
