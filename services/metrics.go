package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	fetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_fetch_failures_total",
			Help: "Registry requests that yielded no data, by kind.",
		},
		[]string{"kind"},
	)
	flattenSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_flatten_skipped_total",
			Help: "Records skipped while flattening, by reason.",
		},
		[]string{"reason"},
	)
	validationViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_validation_violations_total",
			Help: "Validation violations, by table and category.",
		},
		[]string{"table", "violation"},
	)
	loadedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_loaded_rows_total",
			Help: "Rows handled by the loader, by table and outcome (inserted, skipped, failed).",
		},
		[]string{"table", "outcome"},
	)
	runsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_runs_total",
			Help: "Pipeline runs, by final stage reached and status.",
		},
		[]string{"stage", "status"},
	)
)

func init() {
	prometheus.MustRegister(fetchFailures, flattenSkipped, validationViolations, loadedRows, runsCompleted)
}

func (r FlattenReport) observe() {
	flattenSkipped.WithLabelValues("study_unreadable").Add(float64(r.StudiesSkipped))
	flattenSkipped.WithLabelValues("ae_document_unreadable").Add(float64(r.AdverseDocumentsSkipped))
	flattenSkipped.WithLabelValues("event_without_term").Add(float64(r.EventsWithoutTerm))
	flattenSkipped.WithLabelValues("event_without_stats").Add(float64(r.EventsWithoutStats))
}
