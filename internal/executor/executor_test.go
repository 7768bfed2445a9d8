package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitmetrics/vtrie/internal/appconf"
	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/metrics"
	"github.com/transitmetrics/vtrie/internal/models"
)

// testRoute builds a straight east-west route at lat 51.0525 with one
// segment per stop, stops spaced 0.002 degrees of longitude apart.
func testRoute(t *testing.T, routeID string, trips []string, stopCount int) *catalog.RouteCatalog {
	t.Helper()
	segments := make([]catalog.Segment, 0, stopCount-1)
	for i := 0; i < stopCount-1; i++ {
		segments = append(segments, catalog.Segment{
			SegIndex:     i,
			Start:        geometry.Point{X: -114.114 + float64(i)*0.002, Y: 51.0525},
			End:          geometry.Point{X: -114.114 + float64(i+1)*0.002, Y: 51.0525},
			StopSequence: i + 1,
			StopID:       "S" + string(rune('A'+i)),
		})
	}

	base := time.Date(2026, 8, 6, 15, 40, 0, 0, time.UTC)
	table := catalog.StopTable{}
	for _, trip := range trips {
		for seq := 1; seq < stopCount; seq++ {
			table[catalog.StopTimeKey{TripID: trip, StopSequence: seq}] = catalog.ScheduledStop{
				StopID:             "S" + string(rune('A'+seq-1)),
				ScheduledArrival:   base.Add(time.Duration(seq) * time.Minute),
				ScheduledDeparture: base.Add(time.Duration(seq)*time.Minute + 20*time.Second),
			}
		}
	}

	return catalog.Build(routeID, "0", 4326, segments, table, stopCount-1)
}

func fixAt(trip string, lon float64, at time.Time) models.Fix {
	return models.Fix{TripID: trip, Timestamp: at, Lat: 51.0525, Lon: lon}
}

func TestRunProcessesRoutesAndReduces(t *testing.T) {
	catalogs := map[catalog.RouteKey]*catalog.RouteCatalog{
		{RouteID: "202", Direction: "0"}: testRoute(t, "202", []string{"t1"}, 6),
		{RouteID: "303", Direction: "0"}: testRoute(t, "303", []string{"u1"}, 6),
	}

	base := time.Date(2026, 8, 6, 15, 41, 0, 0, time.UTC)
	fixes := []models.Fix{
		fixAt("t1", -114.1135, base),
		fixAt("t1", -114.1095, base.Add(90*time.Second)),
		fixAt("u1", -114.1135, base),
		fixAt("u1", -114.1095, base.Add(90*time.Second)),
		fixAt("ghost-trip", -114.1135, base),
	}

	res, err := Run(context.Background(), catalogs, fixes, Options{
		Config:  appconf.Config{MaxTaskConcurrency: 2},
		Metrics: metrics.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.UnroutableFixes)
	require.Len(t, res.Reports, 2)
	assert.Equal(t, "202", res.Reports[0].RouteID)
	assert.Equal(t, "303", res.Reports[1].RouteID)
	for _, report := range res.Reports {
		assert.False(t, report.Failed)
		assert.Equal(t, 2, report.InputFixes)
		assert.Equal(t, 2, report.KeptFixes)
		assert.InDelta(t, 1.0, report.Retention, 1e-9)
	}

	assert.NotEmpty(t, res.Level1)
	assert.NotEmpty(t, res.Hourly)
	assert.NotEmpty(t, res.Daily)
	assert.Contains(t, res.LastSnap, catalog.RouteKey{RouteID: "202", Direction: "0"})
}

func TestRunIsDeterministic(t *testing.T) {
	catalogs := map[catalog.RouteKey]*catalog.RouteCatalog{
		{RouteID: "202", Direction: "0"}: testRoute(t, "202", []string{"t1", "t2"}, 6),
	}

	base := time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC)
	fixes := []models.Fix{
		fixAt("t2", -114.1135, base),
		fixAt("t1", -114.1115, base.Add(time.Minute)),
		fixAt("t2", -114.1075, base.Add(2*time.Minute)),
		fixAt("t1", -114.1095, base.Add(3*time.Minute)),
	}

	run := func() *Result {
		res, err := Run(context.Background(), catalogs, fixes, Options{
			Config: appconf.Config{MaxTaskConcurrency: 4},
		})
		require.NoError(t, err)
		return res
	}

	first := run()
	second := run()
	assert.Equal(t, first.Level1, second.Level1)
	assert.Equal(t, first.Hourly, second.Hourly)
	assert.Equal(t, first.Daily, second.Daily)

	// Reports match up to wall-clock task duration.
	for i := range first.Reports {
		first.Reports[i].Duration = 0
		second.Reports[i].Duration = 0
	}
	assert.Equal(t, first.Reports, second.Reports)
}

func TestRunRecordsTaskFailureAndContinues(t *testing.T) {
	healthy := testRoute(t, "202", []string{"t1"}, 6)

	// A catalog whose spatial index disagrees with its segment slice
	// crashes the geolocator mid-task; the executor must recover it into a
	// failed report and keep reducing the healthy route.
	corrupted := testRoute(t, "303", []string{"u1"}, 6)
	corrupted.Segments = nil

	catalogs := map[catalog.RouteKey]*catalog.RouteCatalog{
		{RouteID: "202", Direction: "0"}: healthy,
		{RouteID: "303", Direction: "0"}: corrupted,
	}

	base := time.Date(2026, 8, 6, 15, 41, 0, 0, time.UTC)
	fixes := []models.Fix{
		fixAt("t1", -114.1135, base),
		fixAt("t1", -114.1095, base.Add(time.Minute)),
		fixAt("u1", -114.1135, base),
		fixAt("u1", -114.1095, base.Add(time.Minute)),
	}

	res, err := Run(context.Background(), catalogs, fixes, Options{
		Config: appconf.Config{MaxTaskConcurrency: 1},
	})
	require.NoError(t, err)

	require.Len(t, res.Reports, 2)
	assert.False(t, res.Reports[0].Failed)
	assert.True(t, res.Reports[1].Failed)
	assert.NotEmpty(t, res.Reports[1].FailureMsg)
	assert.Equal(t, 1, res.Reports[1].ErrorCounts[models.TaskFailure.String()])

	// The failed route is excluded from aggregates; the healthy one is not.
	for _, agg := range res.Level1 {
		assert.Equal(t, "202", agg.RouteID)
	}
}

func TestRunTimeoutMarksRemainingRoutesFailed(t *testing.T) {
	catalogs := map[catalog.RouteKey]*catalog.RouteCatalog{
		{RouteID: "202", Direction: "0"}: testRoute(t, "202", []string{"t1"}, 6),
	}
	fixes := []models.Fix{fixAt("t1", -114.1135, time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC))}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, catalogs, fixes, Options{Config: appconf.Config{MaxTaskConcurrency: 1}})
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	assert.True(t, res.Reports[0].Failed)
	assert.Empty(t, res.Level1)
}

func TestAssignFixesFillsRouteIdentity(t *testing.T) {
	catalogs := map[catalog.RouteKey]*catalog.RouteCatalog{
		{RouteID: "202", Direction: "0"}: testRoute(t, "202", []string{"t1"}, 4),
	}
	byRoute, unroutable := assignFixes(catalogs, []models.Fix{
		{TripID: "t1"},
		{TripID: "nope"},
	})

	assert.Equal(t, 1, unroutable)
	routeFixes := byRoute[catalog.RouteKey{RouteID: "202", Direction: "0"}]
	require.Len(t, routeFixes, 1)
	assert.Equal(t, "202", routeFixes[0].RouteID)
	assert.Equal(t, "0", routeFixes[0].Direction)
}
