package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "presence_tracker",
		Subsystem: "persistence",
		Name:      "last_event_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent status event persisted to Postgres.",
	})
	dedupedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_tracker",
		Subsystem: "persistence",
		Name:      "events_deduplicated_total",
		Help:      "Number of incoming events dropped by per-source deduplication.",
	}, []string{"source"})
	recomputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "presence_tracker",
		Subsystem: "engine",
		Name:      "recompute_duration_seconds",
		Help:      "Time spent re-deriving sleep periods and daily timezones for one identity.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	recomputeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "presence_tracker",
		Subsystem: "engine",
		Name:      "recompute_failures_total",
		Help:      "Number of derived-record recomputations rejected by the store.",
	})
)

func init() {
	prometheus.MustRegister(eventPersistGauge, dedupedCounter, recomputeDuration, recomputeFailures)
}

// RecordEventPersisted updates the persistence watermark gauge.
func RecordEventPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	eventPersistGauge.Set(float64(ts.Unix()))
}

// RecordEventDeduplicated counts a dedup drop for the given source.
func RecordEventDeduplicated(source string) {
	dedupedCounter.WithLabelValues(source).Inc()
}

// ObserveRecomputeDuration records one full-history recompute.
func ObserveRecomputeDuration(d time.Duration) {
	recomputeDuration.Observe(d.Seconds())
}

// RecordRecomputeFailure counts a failed derived-record replace-write.
func RecordRecomputeFailure() {
	recomputeFailures.Inc()
}
