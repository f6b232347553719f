// Package metrics holds the prometheus collectors shared by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_pipeline_runs_total",
		Help: "Finished delivery cycles by final status.",
	}, []string{"status"})

	UsersProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "digest_pipeline_users_processed_total",
		Help: "Users visited by the PERSONALIZE stage.",
	})

	StageItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_stage_items_total",
		Help: "Items handled by ingest/enrich/summarize stages.",
	}, []string{"stage", "outcome"})

	LedgerRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_ledger_records_total",
		Help: "Ledger record calls by result (created, existing, rejected).",
	}, []string{"result"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_deliveries_total",
		Help: "Digest deliveries by result.",
	}, []string{"result"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_llm_requests_total",
		Help: "Completion calls by final outcome.",
	}, []string{"outcome"})

	LLMRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "digest_llm_rotations_total",
		Help: "Credential rotations triggered by rate limits.",
	})

	LLMRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "digest_llm_retries_total",
		Help: "Backoff retries issued by the completion client.",
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_pipeline_run_duration_seconds",
		Help:    "Wall-clock duration of delivery cycles.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "digest_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})
)
