// Package cleanup implements C7: dropping residual artefacts from the
// interpolated table — implausible speeds, runaway arrival differences,
// and loop-route wrap-arounds (spec §4.7).
package cleanup

import (
	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/interpolate"
	"github.com/transitmetrics/vtrie/internal/models"
)

// maxAbsArrdifS is the arrival-difference magnitude past which a row is
// considered an artefact rather than a measurement: 20 minutes.
const maxAbsArrdifS = 20 * 60

// Result is the output of Run: the surviving rows plus drop counts by
// rule, reported (not fatal) per spec §4.7.
type Result struct {
	Kept []models.InterpolatedRow

	DroppedSpeed  int
	DroppedArrdif int
	DroppedWrap   int
}

// Dropped is the total row count removed across all three rules.
func (r Result) Dropped() int {
	return r.DroppedSpeed + r.DroppedArrdif + r.DroppedWrap
}

// Run filters one route's interpolated rows in order. Rows must arrive in
// C6's emission order (grouped by trip, ascending idx) so the wrap rule's
// per-trip high-water mark sees the trip's progression the way it
// happened.
func Run(cat *catalog.RouteCatalog, rows []models.InterpolatedRow) Result {
	res := Result{Kept: make([]models.InterpolatedRow, 0, len(rows))}

	// highWater tracks, per trip, the largest stop_sequence seen so far;
	// once a trip has exceeded max_stop_sequence-1, any later drop in
	// stop_sequence is a loop wrap-around (spec §4.7(c)).
	highWater := make(map[string]int)

	for _, row := range rows {
		if row.ProjSpeedKmh > interpolate.MaxPlausibleSpeedKmh {
			res.DroppedSpeed++
			continue
		}
		if row.OffArrdifS > maxAbsArrdifS || row.OffArrdifS < -maxAbsArrdifS {
			res.DroppedArrdif++
			continue
		}

		hw := highWater[row.TripID]
		wrapped := row.TravelType == models.WrapArtifact ||
			(hw > cat.MaxStopSequence-1 && row.StopSequence < hw)
		if wrapped {
			res.DroppedWrap++
			continue
		}
		if row.StopSequence > hw {
			highWater[row.TripID] = row.StopSequence
		}

		res.Kept = append(res.Kept, row)
	}
	return res
}
