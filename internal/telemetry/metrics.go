// Package telemetry exposes the Prometheus metrics for the workflow engine
// and its HTTP surface. Metrics register against the default registry and are
// served by the /metrics endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted counts accepted coding task submissions.
	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codeagentd",
		Name:      "tasks_submitted_total",
		Help:      "Total number of coding tasks accepted for execution.",
	})

	// TasksFinished counts tasks that reached a terminal stage, by outcome.
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeagentd",
		Name:      "tasks_finished_total",
		Help:      "Total number of tasks that reached a terminal stage.",
	}, []string{"outcome"})

	// ActiveTasks tracks tasks currently executing their pipeline.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codeagentd",
		Name:      "active_tasks",
		Help:      "Number of tasks currently running the pipeline.",
	})

	// StageDuration observes wall time spent per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeagentd",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of each pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	// HTTPRequests counts API requests by method, path and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeagentd",
		Name:      "http_requests_total",
		Help:      "Total number of API requests served.",
	}, []string{"method", "path", "status"})
)
