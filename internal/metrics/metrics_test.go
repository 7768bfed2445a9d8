package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	m := New()

	assert.NotNil(t, m.Registry)
	assert.NotNil(t, m.RoutesProcessedTotal)
	assert.NotNil(t, m.RouteTaskDuration)
	assert.NotNil(t, m.FixesIngestedTotal)
	assert.NotNil(t, m.FixesDroppedTotal)
	assert.NotNil(t, m.RowsInterpolatedTotal)
	assert.NotNil(t, m.ErrorsTotal)
	assert.NotNil(t, m.RetentionRatio)
}

func TestNewWithLogger(t *testing.T) {
	m := NewWithLogger(nil)
	assert.NotNil(t, m)
	assert.Nil(t, m.logger)
}

func TestObserveRouteTask(t *testing.T) {
	m := New()

	m.ObserveRouteTask("ok", 1.5)
	m.ObserveRouteTask("ok", 2.0)
	m.ObserveRouteTask("failed", 0.1)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RoutesProcessedTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RoutesProcessedTotal.WithLabelValues("failed")))
}

func TestRecordError(t *testing.T) {
	m := New()

	m.RecordError("geometric", errors.New("snap distance exceeded bound"))
	m.RecordError("geometric", errors.New("another geometric error"))
	m.RecordError("data_integrity", errors.New("missing stop_id"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("geometric")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("data_integrity")))
}

func TestRecordError_NilLoggerDoesNotPanic(t *testing.T) {
	m := New()
	assert.NotPanics(t, func() {
		m.RecordError("task_failure", errors.New("route task panicked"))
	})
}

func TestFixesDroppedTotal_LabeledByStageAndReason(t *testing.T) {
	m := New()

	m.FixesDroppedTotal.WithLabelValues("geolocate", "beyond_snap_distance").Inc()
	m.FixesDroppedTotal.WithLabelValues("qaqc", "back_step").Add(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FixesDroppedTotal.WithLabelValues("geolocate", "beyond_snap_distance")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.FixesDroppedTotal.WithLabelValues("qaqc", "back_step")))
}

func TestRetentionRatio_PerRoute(t *testing.T) {
	m := New()

	m.RetentionRatio.WithLabelValues("100").Set(0.92)
	m.RetentionRatio.WithLabelValues("200").Set(0.81)

	assert.InDelta(t, 0.92, testutil.ToFloat64(m.RetentionRatio.WithLabelValues("100")), 1e-9)
	assert.InDelta(t, 0.81, testutil.ToFloat64(m.RetentionRatio.WithLabelValues("200")), 1e-9)
}

func TestRowsInterpolatedTotal_ByTravelType(t *testing.T) {
	m := New()

	m.RowsInterpolatedTotal.WithLabelValues("OneStop").Inc()
	m.RowsInterpolatedTotal.WithLabelValues("BtwnStops").Add(4)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RowsInterpolatedTotal.WithLabelValues("OneStop")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.RowsInterpolatedTotal.WithLabelValues("BtwnStops")))
}
