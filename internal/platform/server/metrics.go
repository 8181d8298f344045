package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	eventsAppended  *prometheus.CounterVec
	appendFailures  *prometheus.CounterVec
	queriesTotal    prometheus.Counter
	queryDuration   prometheus.Histogram
	reportsBuilt    *prometheus.CounterVec
	reportCacheHits *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		eventsAppended: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "backoffice_audit",
				Subsystem: "store",
				Name:      "events_appended_total",
				Help:      "Total audit events appended, partitioned by category and status.",
			},
			[]string{"category", "status"},
		),
		appendFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "backoffice_audit",
				Subsystem: "store",
				Name:      "append_failures_total",
				Help:      "Total append attempts rejected, partitioned by reason.",
			},
			[]string{"reason"},
		),
		queriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "backoffice_audit",
				Subsystem: "query",
				Name:      "queries_total",
				Help:      "Total filtered event queries served.",
			},
		),
		queryDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "backoffice_audit",
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Latency of filtered event queries.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		reportsBuilt: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "backoffice_audit",
				Subsystem: "report",
				Name:      "built_total",
				Help:      "Total reports assembled, partitioned by kind.",
			},
			[]string{"kind"},
		),
		reportCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "backoffice_audit",
				Subsystem: "report",
				Name:      "cache_requests_total",
				Help:      "Report cache lookups partitioned by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) ObserveAppend(category, status string) {
	if m == nil {
		return
	}
	m.eventsAppended.WithLabelValues(category, status).Inc()
}

func (m *Metrics) ObserveAppendFailure(reason string) {
	if m == nil {
		return
	}
	m.appendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveQuery(seconds float64) {
	if m == nil {
		return
	}
	m.queriesTotal.Inc()
	m.queryDuration.Observe(seconds)
}

func (m *Metrics) ObserveReport(kind string) {
	if m == nil {
		return
	}
	m.reportsBuilt.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCache(outcome string) {
	if m == nil {
		return
	}
	m.reportCacheHits.WithLabelValues(outcome).Inc()
}
