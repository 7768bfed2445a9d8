package cleanup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/models"
)

func testCatalog(t *testing.T, maxStopSeq int) *catalog.RouteCatalog {
	t.Helper()
	segments := make([]catalog.Segment, 0, maxStopSeq)
	for i := 0; i < maxStopSeq; i++ {
		segments = append(segments, catalog.Segment{
			SegIndex:     i,
			Start:        geometry.Point{X: -114.0 + float64(i)*0.001, Y: 51.0},
			End:          geometry.Point{X: -114.0 + float64(i+1)*0.001, Y: 51.0},
			StopSequence: i + 1,
			StopID:       "S" + string(rune('A'+i)),
		})
	}
	return catalog.Build("202", "0", 4326, segments, catalog.StopTable{}, maxStopSeq)
}

func row(trip string, stopSeq int, speed, arrdif float64) models.InterpolatedRow {
	return models.InterpolatedRow{
		RouteID:      "202",
		TripID:       trip,
		StopSequence: stopSeq,
		TravelType:   models.OneStop,
		ProjSpeedKmh: speed,
		OffArrdifS:   arrdif,
		OffEarr:      time.Date(2026, 8, 6, 15, 43, 0, 0, time.UTC),
	}
}

func TestRunDropsImplausibleSpeed(t *testing.T) {
	cat := testCatalog(t, 5)
	rows := []models.InterpolatedRow{
		row("t1", 2, 30, 50),
		row("t1", 3, 121, 50),
		row("t1", 4, 119.9, 50),
	}

	res := Run(cat, rows)

	assert.Len(t, res.Kept, 2)
	assert.Equal(t, 1, res.DroppedSpeed)
	assert.Equal(t, 1, res.Dropped())
}

func TestRunDropsRunawayArrdif(t *testing.T) {
	cat := testCatalog(t, 5)
	rows := []models.InterpolatedRow{
		row("t1", 2, 30, 20*60),
		row("t1", 3, 30, 20*60+1),
		row("t1", 4, 30, -(20*60 + 1)),
	}

	res := Run(cat, rows)

	assert.Len(t, res.Kept, 1)
	assert.Equal(t, 2, res.DroppedArrdif)
}

func TestRunDropsWrapAroundAfterTerminusApproach(t *testing.T) {
	cat := testCatalog(t, 5)
	rows := []models.InterpolatedRow{
		row("t1", 3, 30, 10),
		row("t1", 5, 30, 10), // past max_stop_sequence - 1
		row("t1", 1, 30, 10), // wrap back toward the start of the loop
		row("t2", 1, 30, 10), // other trips keep their own high-water mark
	}

	res := Run(cat, rows)

	assert.Len(t, res.Kept, 3)
	assert.Equal(t, 1, res.DroppedWrap)
	for _, kept := range res.Kept {
		if kept.TripID == "t1" {
			assert.NotEqual(t, 1, kept.StopSequence)
		}
	}
}

func TestRunKeepsEarlyBackstepBelowHighWater(t *testing.T) {
	// A drop in stop_sequence before the trip nears the terminus is not a
	// wrap-around per spec §4.7(c); those rows are C4's problem, not C7's.
	cat := testCatalog(t, 10)
	rows := []models.InterpolatedRow{
		row("t1", 2, 30, 10),
		row("t1", 3, 30, 10),
		row("t1", 2, 30, 10),
	}

	res := Run(cat, rows)

	assert.Len(t, res.Kept, 3)
	assert.Zero(t, res.DroppedWrap)
}

func TestRunDropsWrapArtifactRowsRegardlessOfHighWater(t *testing.T) {
	cat := testCatalog(t, 5)
	r := row("t1", 2, 30, 10)
	r.TravelType = models.WrapArtifact

	res := Run(cat, []models.InterpolatedRow{r})

	assert.Empty(t, res.Kept)
	assert.Equal(t, 1, res.DroppedWrap)
}
