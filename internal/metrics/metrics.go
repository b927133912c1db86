// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facerecog",
		Name:      "verifications_total",
		Help:      "Verification requests by terminal outcome.",
	}, []string{"outcome"})

	matcherDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facerecog",
		Name:      "matcher_duration_seconds",
		Help:      "Wall time spent waiting for the matcher.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	attemptsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facerecog",
		Name:      "attempts_recorded_total",
		Help:      "Verification events processed by the worker.",
	}, []string{"result"})

	probesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facerecog",
		Name:      "probes_swept_total",
		Help:      "Probe images removed by the retention sweeper.",
	})
)

// ObserveOutcome counts one finished verification request.
func ObserveOutcome(outcome string) {
	verificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveMatcher records how long one matcher call took.
func ObserveMatcher(d time.Duration) {
	matcherDuration.Observe(d.Seconds())
}

// ObserveAttempt counts one worker-side event, result is "recorded" or "failed".
func ObserveAttempt(result string) {
	attemptsRecorded.WithLabelValues(result).Inc()
}

// ObserveSwept counts removed probe files.
func ObserveSwept(n int) {
	probesSwept.Add(float64(n))
}
