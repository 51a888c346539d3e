package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records the supervisor loop's throughput and the rule
// registry's cache behavior.
type PipelineMetrics struct {
	queueLag        prometheus.Gauge
	eventsProcessed *prometheus.CounterVec
	processDuration prometheus.Histogram
	awardsIssued    prometheus.Counter
	ruleCacheHits   *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on reg. A nil
// registerer yields a no-op PipelineMetrics, matching NewCronJobMetrics.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	queueLag := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "achievements_queue_lag",
		Help: "Number of event_queue rows currently queued and visible.",
	})
	eventsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "achievements_events_processed_total",
		Help: "Events drained from the queue, by outcome.",
	}, []string{"outcome"})
	processDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "achievements_event_process_duration_seconds",
		Help:    "Time spent running a single event through the pipeline.",
		Buckets: prometheus.DefBuckets,
	})
	awardsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "achievements_awards_issued_total",
		Help: "Awards inserted into the ledger.",
	})
	ruleCacheHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "achievements_rule_cache_requests_total",
		Help: "Rule registry cache lookups, by hit or miss.",
	}, []string{"result"})
	reg.MustRegister(queueLag, eventsProcessed, processDuration, awardsIssued, ruleCacheHits)
	return &PipelineMetrics{
		queueLag:        queueLag,
		eventsProcessed: eventsProcessed,
		processDuration: processDuration,
		awardsIssued:    awardsIssued,
		ruleCacheHits:   ruleCacheHits,
	}
}

// SetQueueLag records the current number of queued-and-visible rows.
func (m *PipelineMetrics) SetQueueLag(lag int64) {
	if m == nil || m.queueLag == nil {
		return
	}
	m.queueLag.Set(float64(lag))
}

// ObserveProcessDuration records the time spent on a single event.
func (m *PipelineMetrics) ObserveProcessDuration(d time.Duration) {
	if m == nil || m.processDuration == nil {
		return
	}
	m.processDuration.Observe(d.Seconds())
}

// IncEventsProcessed increments the processed-event counter for outcome
// ("done" or "retry").
func (m *PipelineMetrics) IncEventsProcessed(outcome string) {
	if m == nil || m.eventsProcessed == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(outcome).Inc()
}

// IncAwardsIssued increments the awards-issued counter.
func (m *PipelineMetrics) IncAwardsIssued() {
	if m == nil || m.awardsIssued == nil {
		return
	}
	m.awardsIssued.Inc()
}

// IncRuleCacheResult increments the rule cache lookup counter for result
// ("hit" or "miss").
func (m *PipelineMetrics) IncRuleCacheResult(result string) {
	if m == nil || m.ruleCacheHits == nil {
		return
	}
	m.ruleCacheHits.WithLabelValues(result).Inc()
}
