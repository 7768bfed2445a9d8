// Package enrich implements C5: per-consecutive-pair delta computation and
// mobility classification (spec §4.5).
package enrich

import (
	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/models"
)

// stationaryDistThresholdM is the distance confirmation threshold from
// spec §3: a Stationary classification additionally requires the
// measured distance between the pair's snap points to be at most this.
const stationaryDistThresholdM = 20.0

// Run builds one EnrichedPair per consecutive pair of SnappedFixes within
// each trip in fixes (already monotonic after C4), using cat's route
// maxima to classify terminus and mobility status. fixes need not be
// pre-grouped; Run groups by trip_id and preserves input order within a
// trip (spec §4.4/§4.5 require fixes already sorted by timestamp).
func Run(cat *catalog.RouteCatalog, fixes []models.SnappedFix) []models.EnrichedPair {
	byTrip := make(map[string][]models.SnappedFix)
	order := make([]string, 0)
	for _, f := range fixes {
		if _, ok := byTrip[f.TripID]; !ok {
			order = append(order, f.TripID)
		}
		byTrip[f.TripID] = append(byTrip[f.TripID], f)
	}

	var pairs []models.EnrichedPair
	for _, trip := range order {
		rows := byTrip[trip]
		pairs = append(pairs, enrichTrip(cat, rows)...)
	}
	return pairs
}

func enrichTrip(cat *catalog.RouteCatalog, rows []models.SnappedFix) []models.EnrichedPair {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) == 1 {
		// Single-fix trip: no pair to form; the caller's interpolator emits
		// a lone Stationary/Terminus row directly from the fix (spec §8
		// boundary case).
		return nil
	}

	out := make([]models.EnrichedPair, 0, len(rows)-1)
	var prevStopLeft, prevIdxLeft int
	haveprev := false
	idx := 0

	for i := 0; i < len(rows)-1; i++ {
		a, b := rows[i], rows[i+1]

		deltaTimeS := b.Timestamp.Sub(a.Timestamp).Seconds()

		stopLeft := cat.MaxStopSequence - a.StopSequence
		idxLeft := cat.MaxSegIndex - a.SegIndex
		stopDiff, idxDiff := 0, 0
		if haveprev {
			stopDiff = stopLeft - prevStopLeft
			idxDiff = idxLeft - prevIdxLeft
		}
		prevStopLeft, prevIdxLeft, haveprev = stopLeft, idxLeft, true

		isTerminus := a.StopSequence == cat.MaxStopSequence
		tentativeStationary := !isTerminus && b.SegIndex-a.SegIndex == 0 && b.StopSequence-a.StopSequence == 0

		var deltaDistM float64
		if tentativeStationary {
			// delta_dist_m is only computed for pairs whose tentative
			// classification is Stationary — the distance confirmation
			// spec §4.5 describes — since it's the only case where the
			// frozen status still depends on it.
			deltaDistM = geometry.SegmentLengthM(
				geometry.Segment{
					A: geometry.Point{X: a.ProjX, Y: a.ProjY},
					B: geometry.Point{X: b.ProjX, Y: b.ProjY},
				}, cat.WKID)
		}

		status := finalizeStatus(isTerminus, tentativeStationary, deltaDistM)

		pairs := models.EnrichedPair{
			A:                   a,
			B:                   b,
			DeltaTimeS:          deltaTimeS,
			DeltaDistM:          deltaDistM,
			Status:              status,
			StopLeft:            stopLeft,
			StopDiff:            stopDiff,
			IdxLeft:             idxLeft,
			IdxDiff:             idxDiff,
			Idx:                 idx,
			MaxStopSeqValidated: cat.MaxStopSeqValidated,
		}
		out = append(out, pairs)
		idx++
	}
	return out
}

// finalizeStatus freezes the final status per spec §3: Terminus wins
// outright when A has reached the route's max stop sequence (the
// polyline's maximum when the schedule claims more, see
// RouteCatalog.MaxStopSeqValidated);
// otherwise Stationary requires both zero seg/stop progress between A and
// B (tentativeStationary) and a confirmed delta_dist_m <= 20m; everything
// else is Movement (spec §9, "status classification couples to distance"
// — the tentative-then-finalized shape is one logical step, not two
// independent passes).
func finalizeStatus(isTerminus, tentativeStationary bool, deltaDistM float64) models.MobilityStatus {
	switch {
	case isTerminus:
		return models.StatusTerminus
	case tentativeStationary && deltaDistM <= stationaryDistThresholdM:
		return models.StatusStationary
	default:
		return models.StatusMovement
	}
}
