// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feed_notifier"

var (
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_fetches_total",
		Help:      "Feed fetch attempts by outcome",
	}, []string{"outcome"})

	ItemsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_upserted_total",
		Help:      "Feed items written to the store",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Notification sends by outcome",
	}, []string{"outcome"})

	SendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "send_latency_seconds",
		Help:      "Time spent in a single transport send",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
	})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of periodic task cycles",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"task", "outcome"})
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Outcome maps an error to the outcome label value.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
