// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IntakeRowsTotal tracks consumed intake rows by outcome
	IntakeRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "intake",
			Name:      "rows_total",
			Help:      "Total number of intake rows consumed by outcome",
		},
		[]string{"source_system", "outcome"},
	)

	// CandidatesGeneratedTotal tracks generated match candidates by tier
	CandidatesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "candidates_total",
			Help:      "Total number of match candidates generated by tier",
		},
		[]string{"tier"},
	)

	// GenerationDuration tracks candidate generation pass duration
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "generation_duration_seconds",
			Help:      "Duration of candidate generation passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// CandidatesResolvedTotal tracks review decisions by status
	CandidatesResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "review",
			Name:      "candidates_resolved_total",
			Help:      "Total number of match candidates resolved by status",
		},
		[]string{"status", "auto"},
	)

	// MergesTotal tracks merge operations by method and outcome
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merging",
			Name:      "operations_total",
			Help:      "Total number of merge operations by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// GuardrailBlocksTotal tracks promotion and demotion guardrail rejections
	GuardrailBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "classify",
			Name:      "guardrail_blocks_total",
			Help:      "Total number of operations blocked by classification guardrails",
		},
		[]string{"action"},
	)

	// EventsPublishedTotal tracks events published to the registry topic
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of registry events published by type",
		},
		[]string{"event_type", "status"},
	)
)
