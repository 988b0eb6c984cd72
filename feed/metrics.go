package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitsync_feed_events_processed_total",
		Help: "Change events handled successfully.",
	}, []string{"kind"})

	eventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitsync_feed_events_failed_total",
		Help: "Change event handler failures (will be retried).",
	}, []string{"kind"})

	eventsDead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitsync_feed_events_dead_total",
		Help: "Change events whose retry budget was exhausted.",
	}, []string{"kind"})

	eventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitsync_feed_events_discarded_total",
		Help: "Change events dropped without retry (unresolvable references).",
	}, []string{"kind"})

	handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splitsync_feed_handle_duration_seconds",
		Help:    "Wall-clock duration of change event handling.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
