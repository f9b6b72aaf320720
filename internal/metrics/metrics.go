package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query metrics
	QueriesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intellistream_queries_started_total",
			Help: "Total number of queries submitted to the pipeline",
		},
	)

	QueriesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intellistream_queries_completed_total",
			Help: "Total number of queries completed",
		},
		[]string{"route", "status"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intellistream_query_duration_seconds",
			Help:    "End-to-end query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Stage metrics
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intellistream_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intellistream_stage_duration_ms",
			Help:    "Stage execution duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"stage"},
	)

	// Research fan-out metrics
	ConnectorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intellistream_connector_requests_total",
			Help: "Connector fetches by outcome",
		},
		[]string{"connector", "outcome"}, // fetched|cache_hit|degraded|empty
	)

	ConnectorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intellistream_connector_latency_ms",
			Help:    "Connector fetch latency in milliseconds",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"connector"},
	)

	EvidenceMerged = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intellistream_evidence_merged",
			Help:    "Number of evidence items after merge-ranking",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// Reflection metrics
	ReflectionPasses = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intellistream_reflection_passes",
			Help:    "Number of revision passes per query",
			Buckets: []float64{0, 1, 2, 3, 4},
		},
	)

	CitationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intellistream_citations_dropped_total",
			Help: "Citations dropped due to unresolvable evidence ids",
		},
	)

	// Streaming metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intellistream_events_published_total",
			Help: "Streaming events published by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intellistream_events_dropped_total",
			Help: "Progress events dropped due to slow subscribers",
		},
	)
)
