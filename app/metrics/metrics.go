// Package metrics exposes Prometheus collectors for feed ingestion and
// webhook dispatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rss_planner"

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	FeedFetches       *prometheus.CounterVec
	FeedFetchDuration prometheus.Histogram
	FeedsDeactivated  prometheus.Counter
	ItemsProcessed    *prometheus.CounterVec
	RuleMatches       *prometheus.CounterVec
	Dispatches        *prometheus.CounterVec
	DispatchDuration  prometheus.Histogram
	Callbacks         *prometheus.CounterVec
	TasksQueued       prometheus.Gauge
	TaskFailures      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		FeedFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Feed fetch attempts by outcome",
		}, []string{"outcome"}),
		FeedFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Duration of feed fetches",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		FeedsDeactivated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feeds_deactivated_total",
			Help:      "Feeds moved to error status after repeated failures",
		}),
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Parsed feed items by result",
		}, []string{"result"}),
		RuleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_matches_total",
			Help:      "Items matched by a rule",
		}, []string{"rule"}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatches_total",
			Help:      "Webhook dispatches by outcome",
		}, []string{"outcome"}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_duration_seconds",
			Help:      "Duration of outbound webhook requests",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_callbacks_total",
			Help:      "Webhook callbacks by result",
		}, []string{"result"}),
		TasksQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_queued",
			Help:      "Tasks waiting in the worker queue",
		}),
		TaskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed task executions by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) FeedFetched(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FeedFetches.WithLabelValues(outcome).Inc()
	m.FeedFetchDuration.Observe(seconds)
}

func (m *Metrics) FeedDeactivated() {
	if m == nil {
		return
	}
	m.FeedsDeactivated.Inc()
}

func (m *Metrics) ItemProcessed(result string) {
	if m == nil {
		return
	}
	m.ItemsProcessed.WithLabelValues(result).Inc()
}

func (m *Metrics) RuleMatched(rule string) {
	if m == nil {
		return
	}
	m.RuleMatches.WithLabelValues(rule).Inc()
}

func (m *Metrics) Dispatched(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(outcome).Inc()
	m.DispatchDuration.Observe(seconds)
}

func (m *Metrics) CallbackReceived(result string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.TasksQueued.Set(float64(n))
}

func (m *Metrics) TaskFailed(taskType string) {
	if m == nil {
		return
	}
	m.TaskFailures.WithLabelValues(taskType).Inc()
}
