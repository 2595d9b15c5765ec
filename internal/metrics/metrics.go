// Package metrics exposes Prometheus instrumentation for the retrieval
// engine. Recording is optional: a nil *Recorder is safe to call, so the
// engine works unchanged when metrics are disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the engine's Prometheus collectors.
type Recorder struct {
	retrievals       prometheus.Counter
	retrievalErrors  prometheus.Counter
	fallbackFills    prometheus.Counter
	retrievalLatency prometheus.Histogram
	feedbackEvents   prometheus.Counter
	storiesInserted  *prometheus.CounterVec
}

// NewRecorder registers the engine's collectors on the given registerer.
// Pass prometheus.DefaultRegisterer for the process-global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		retrievals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casekb",
			Name:      "retrievals_total",
			Help:      "Number of retrieve_similar calls.",
		}),
		retrievalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casekb",
			Name:      "retrieval_errors_total",
			Help:      "Number of retrievals that degraded to the failure fallback.",
		}),
		fallbackFills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casekb",
			Name:      "fallback_fills_total",
			Help:      "Number of retrievals padded with domain edge cases.",
		}),
		retrievalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "casekb",
			Name:      "retrieval_duration_seconds",
			Help:      "Latency of retrieve_similar calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		feedbackEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "casekb",
			Name:      "feedback_events_total",
			Help:      "Number of applied feedback events.",
		}),
		storiesInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casekb",
			Name:      "stories_inserted_total",
			Help:      "Number of inserted story records by source.",
		}, []string{"source"}),
	}
}

// ObserveRetrieval records one retrieval with its outcome.
func (r *Recorder) ObserveRetrieval(d time.Duration, failed, padded bool) {
	if r == nil {
		return
	}
	r.retrievals.Inc()
	r.retrievalLatency.Observe(d.Seconds())
	if failed {
		r.retrievalErrors.Inc()
	}
	if padded {
		r.fallbackFills.Inc()
	}
}

// IncFeedback records one applied feedback event.
func (r *Recorder) IncFeedback() {
	if r == nil {
		return
	}
	r.feedbackEvents.Inc()
}

// IncStory records one inserted story.
func (r *Recorder) IncStory(source string) {
	if r == nil {
		return
	}
	r.storiesInserted.WithLabelValues(source).Inc()
}
