package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryvault_queries_executed_total",
			Help: "Total number of query executions by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queryvault_query_duration_seconds",
			Help:    "End-to-end query execution latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryvault_result_cache_hits_total",
			Help: "Total number of result cache hits.",
		},
	)
	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryvault_result_cache_misses_total",
			Help: "Total number of result cache misses.",
		},
	)
	cacheWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryvault_result_cache_write_failures_total",
			Help: "Total number of swallowed result cache write failures.",
		},
	)
	jobsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryvault_jobs_started_total",
			Help: "Total number of background query jobs registered.",
		},
	)
	jobsInlineTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryvault_jobs_inline_total",
			Help: "Total number of executions that completed within the inline wait.",
		},
	)
	jobsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryvault_jobs_reaped_total",
			Help: "Total number of jobs removed by the reaper.",
		},
	)
	jobsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queryvault_jobs_tracked",
			Help: "Current number of jobs in the job table.",
		},
	)
	revisionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryvault_revisions_created_total",
			Help: "Total number of new query revisions saved.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesExecutedTotal,
		queryDurationSeconds,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheWriteFailuresTotal,
		jobsStartedTotal,
		jobsInlineTotal,
		jobsReapedTotal,
		jobsTracked,
		revisionsCreatedTotal,
	)
}

func ObserveQueryExecution(crossSite, failed bool, elapsed time.Duration) {
	mode := "site"
	if crossSite {
		mode = "cross_site"
	}
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	queriesExecutedTotal.WithLabelValues(mode, outcome).Inc()
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementCacheHit() {
	cacheHitsTotal.Inc()
}

func IncrementCacheMiss() {
	cacheMissesTotal.Inc()
}

func IncrementCacheWriteFailure() {
	cacheWriteFailuresTotal.Inc()
}

func IncrementJobStarted() {
	jobsStartedTotal.Inc()
}

func IncrementInlineCompletion() {
	jobsInlineTotal.Inc()
}

func IncrementJobsReaped(count int) {
	if count > 0 {
		jobsReapedTotal.Add(float64(count))
	}
}

func SetTrackedJobs(count int) {
	if count < 0 {
		count = 0
	}
	jobsTracked.Set(float64(count))
}

func IncrementRevisionCreated() {
	revisionsCreatedTotal.Inc()
}
