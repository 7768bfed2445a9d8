// Package metrics provides Prometheus metrics for a VTRIE batch run.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for one VTRIE run. A run creates a
// single Metrics value and shares it read-only across the per-route
// executor's goroutines; every collector below is itself safe for
// concurrent use so no further locking is needed at call sites (spec §5,
// "CPU-bound ... no shared mutable state").
type Metrics struct {
	// Registry is the Prometheus registry for this run.
	Registry *prometheus.Registry

	// RoutesProcessedTotal counts completed (route_id, direction) tasks by
	// outcome ("ok" or "failed").
	RoutesProcessedTotal *prometheus.CounterVec

	// RouteTaskDuration observes wall-clock time per (route_id, direction)
	// task, labeled by outcome.
	RouteTaskDuration *prometheus.HistogramVec

	// FixesIngestedTotal counts raw fix rows read from the day's fix table.
	FixesIngestedTotal prometheus.Counter

	// FixesDroppedTotal counts fixes dropped at a given pipeline stage
	// ("assign", "geolocate", "qaqc", "cleanup"), labeled by reason.
	FixesDroppedTotal *prometheus.CounterVec

	// RowsInterpolatedTotal counts synthesized interpolation rows by travel
	// type (spec §4.6: StationaryRow, BtwnStops, OneStop, SameStopDiffSeg,
	// SameStopSameSeg, TerminusRow, WrapArtifact).
	RowsInterpolatedTotal *prometheus.CounterVec

	// ErrorsTotal counts non-fatal errors recorded during a run, labeled by
	// kind (spec §7: Geometric, DataIntegrity, NumericAnomaly, TaskFailure).
	ErrorsTotal *prometheus.CounterVec

	// RetentionRatio is the last-observed QA/QC retention (fixes kept by
	// C4 over fixes entering C4), labeled by route_id.
	RetentionRatio *prometheus.GaugeVec

	logger *slog.Logger
}

// New creates and registers all run metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	routesProcessedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vtrie_routes_processed_total",
			Help: "Total number of (route_id, direction) tasks completed, by outcome",
		},
		[]string{"outcome"},
	)

	routeTaskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vtrie_route_task_duration_seconds",
			Help:    "Per-route task wall-clock duration distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	fixesIngestedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vtrie_fixes_ingested_total",
		Help: "Total number of raw fix rows read from the day's fix table",
	})

	fixesDroppedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vtrie_fixes_dropped_total",
			Help: "Total number of fixes dropped, by pipeline stage and reason",
		},
		[]string{"stage", "reason"},
	)

	rowsInterpolatedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vtrie_rows_interpolated_total",
			Help: "Total number of interpolated rows synthesized, by travel type",
		},
		[]string{"travel_type"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vtrie_errors_total",
			Help: "Total number of non-fatal errors recorded, by kind",
		},
		[]string{"kind"},
	)

	retentionRatio := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vtrie_retention_ratio",
			Help: "Fraction of fixes retained by QA/QC, by route",
		},
		[]string{"route_id"},
	)

	registry.MustRegister(
		routesProcessedTotal,
		routeTaskDuration,
		fixesIngestedTotal,
		fixesDroppedTotal,
		rowsInterpolatedTotal,
		errorsTotal,
		retentionRatio,
	)

	return &Metrics{
		Registry:              registry,
		RoutesProcessedTotal:  routesProcessedTotal,
		RouteTaskDuration:     routeTaskDuration,
		FixesIngestedTotal:    fixesIngestedTotal,
		FixesDroppedTotal:     fixesDroppedTotal,
		RowsInterpolatedTotal: rowsInterpolatedTotal,
		ErrorsTotal:           errorsTotal,
		RetentionRatio:        retentionRatio,
		logger:                logger,
	}
}

// ObserveRouteTask records the outcome and duration of one completed
// (route_id, direction) task.
func (m *Metrics) ObserveRouteTask(outcome string, seconds float64) {
	m.RoutesProcessedTotal.WithLabelValues(outcome).Inc()
	m.RouteTaskDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordError increments the error counter for the given kind and logs it,
// if a logger was supplied.
func (m *Metrics) RecordError(kind string, err error) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
	if m.logger != nil && err != nil {
		m.logger.Warn("pipeline error recorded", "kind", kind, "error", err.Error())
	}
}
