// Package metrics defines the Prometheus metrics exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "presswork"

	sourceLabel  = "source"
	statusLabel  = "status"
	channelLabel = "channel"
	resultLabel  = "result"
)

var jobsEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Number of generation jobs enqueued, by source",
	},
	[]string{sourceLabel},
)

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Number of generation jobs that reached a terminal status",
	},
	[]string{statusLabel},
)

var jobsRecoveredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_recovered_total",
		Help:      "Number of stuck jobs failed by the recovery sweep",
	},
)

var jobDurationSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall-clock time from claim to terminal status",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	},
)

var publishPushesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_pushes_total",
		Help:      "Number of publish channel pushes, by channel and result",
	},
	[]string{channelLabel, resultLabel},
)

var dispatchInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_inflight",
		Help:      "Jobs currently running under the dispatcher",
	},
)

func init() {
	prometheus.MustRegister(jobsEnqueuedTotal)
	prometheus.MustRegister(jobsFinishedTotal)
	prometheus.MustRegister(jobsRecoveredTotal)
	prometheus.MustRegister(jobDurationSeconds)
	prometheus.MustRegister(publishPushesTotal)
	prometheus.MustRegister(dispatchInFlight)
}

func JobEnqueued(source string) {
	jobsEnqueuedTotal.With(prometheus.Labels{sourceLabel: source}).Inc()
}

func JobFinished(status string, took time.Duration) {
	jobsFinishedTotal.With(prometheus.Labels{statusLabel: status}).Inc()
	if took > 0 {
		jobDurationSeconds.Observe(took.Seconds())
	}
}

func JobsRecovered(n int) {
	jobsRecoveredTotal.Add(float64(n))
}

func PublishPush(channel string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	publishPushesTotal.With(prometheus.Labels{channelLabel: channel, resultLabel: result}).Inc()
}

func DispatchStarted() { dispatchInFlight.Inc() }

func DispatchDone() { dispatchInFlight.Dec() }
