// Package metrics holds the Prometheus collectors for the pipeline. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aidigest"

// Metrics groups the pipeline's collectors.
type Metrics struct {
	itemsFetched    *prometheus.CounterVec
	sourceErrors    *prometheus.CounterVec
	enrichErrors    *prometheus.CounterVec
	dedupDropped    *prometheus.CounterVec
	itemsStored     *prometheus.CounterVec
	fetchesSkipped  *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	summaries       *prometheus.CounterVec
	topicsDropped   prometheus.Counter
	snapshotRewrite prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		itemsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Items returned by sources, by source name.",
		}, []string{"source"}),
		sourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Source fetch failures, by source name.",
		}, []string{"source"}),
		enrichErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_errors_total",
			Help:      "Enricher failures, by enricher.",
		}, []string{"enricher"}),
		dedupDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_dropped_total",
			Help:      "Historical items dropped because their cid was already stored.",
		}, []string{"source"}),
		itemsStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_stored_total",
			Help:      "Items written to storage, by source name.",
		}, []string{"source"}),
		fetchesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_skipped_total",
			Help:      "Fetches skipped because the previous fetch was still running.",
		}, []string{"source"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Source fetch latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"source"}),
		summaries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_generated_total",
			Help:      "Summary runs, by result.",
		}, []string{"result"}),
		topicsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_topics_dropped_total",
			Help:      "Per-topic summaries dropped because the model reply could not be parsed.",
		}),
		snapshotRewrite: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_rewrites_total",
			Help:      "Snapshot files rewritten to match the database.",
		}),
	}
}

func (m *Metrics) ItemsFetched(source string, n int) {
	if m == nil {
		return
	}
	m.itemsFetched.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) SourceError(source string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) EnrichError(enricher string) {
	if m == nil {
		return
	}
	m.enrichErrors.WithLabelValues(enricher).Inc()
}

func (m *Metrics) DedupDropped(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dedupDropped.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) ItemsStored(source string, n int) {
	if m == nil {
		return
	}
	m.itemsStored.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) FetchSkipped(source string) {
	if m == nil {
		return
	}
	m.fetchesSkipped.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// Summary records a summary run; result is "generated", "skipped" or "failed".
func (m *Metrics) Summary(result string) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(result).Inc()
}

func (m *Metrics) TopicDropped() {
	if m == nil {
		return
	}
	m.topicsDropped.Inc()
}

func (m *Metrics) SnapshotRewritten() {
	if m == nil {
		return
	}
	m.snapshotRewrite.Inc()
}
