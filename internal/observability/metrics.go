// Package observability owns the process-wide Prometheus registry and the
// tracing bootstrap.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries every instrument the pipeline touches. One instance is
// built at startup and handed to the services that record into it.
type Metrics struct {
	Registry *prometheus.Registry

	AccountsProcessed  *prometheus.CounterVec
	FindingsTotal      prometheus.Counter
	ReportsFiled       prometheus.Counter
	ReportsDeduped     prometheus.Counter
	ReportsSkippedDry  prometheus.Counter
	ReportsRetried     prometheus.Counter
	UpstreamErrors     *prometheus.CounterVec
	RateLimitWaits     *prometheus.CounterVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	DomainThresholds   prometheus.Counter
	JobsProcessed      *prometheus.CounterVec
	PageDuration       prometheus.Histogram
	EvaluateDuration   prometheus.Histogram
	ReportPostDuration prometheus.Histogram
	QueueDepth         *prometheus.GaugeVec
	RateBudget         *prometheus.GaugeVec
	ActiveScans        prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInflight prometheus.Gauge
}

// ObserveHTTP records one finished API request.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		AccountsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "accounts_processed_total",
			Help:      "Accounts evaluated, labeled by scan kind.",
		}, []string{"scan_kind"}),
		FindingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "findings_total",
			Help:      "Rule findings recorded across all scans.",
		}),
		ReportsFiled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "reports_filed_total",
			Help:      "Reports successfully filed upstream.",
		}),
		ReportsDeduped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "reports_deduped_total",
			Help:      "Report attempts short-circuited by the dedupe key.",
		}),
		ReportsSkippedDry: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "reports_skipped_dry_run_total",
			Help:      "Reportable findings dropped because dry_run is on.",
		}),
		ReportsRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "reports_retried_total",
			Help:      "Retry attempts for reports in pending_retry.",
		}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "upstream_errors_total",
			Help:      "Upstream call failures, labeled by endpoint family and kind.",
		}, []string{"family", "kind"}),
		RateLimitWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "rate_limit_waits_total",
			Help:      "Times a caller blocked on the rate governor.",
		}, []string{"family"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "content_cache_hits_total",
			Help:      "Evaluations skipped because the content scan memo was fresh.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "content_cache_misses_total",
			Help:      "Evaluations that had to run because no fresh memo existed.",
		}),
		DomainThresholds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "domain_threshold_events_total",
			Help:      "domain_threshold_exceeded events published.",
		}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "jobs_processed_total",
			Help:      "Job runs finished, labeled by job type and terminal status.",
		}, []string{"job_type", "status"}),
		PageDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "watcher",
			Name:      "scan_page_duration_seconds",
			Help:      "Wall time to process one scanner page.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		EvaluateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "watcher",
			Name:      "evaluate_duration_seconds",
			Help:      "Wall time to evaluate a single account.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ReportPostDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "watcher",
			Name:      "report_post_duration_seconds",
			Help:      "Wall time for the upstream report POST.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "watcher",
			Name:      "job_queue_depth",
			Help:      "Job runs by status, sampled by the queue stats job.",
		}, []string{"status"}),
		RateBudget: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "watcher",
			Name:      "rate_budget_remaining",
			Help:      "Remaining upstream budget per endpoint family.",
		}, []string{"family"}),
		ActiveScans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "watcher",
			Name:      "active_scan_sessions",
			Help:      "Scan sessions currently in the active state.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watcher",
			Name:      "http_requests_total",
			Help:      "Control API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "watcher",
			Name:      "http_request_duration_seconds",
			Help:      "Control API request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"method", "route"}),
		HTTPInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "watcher",
			Name:      "http_inflight_requests",
			Help:      "Control API requests currently being served.",
		}),
	}
}
