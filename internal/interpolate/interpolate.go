// Package interpolate implements C6, the core algorithm: reconstructing
// stop-by-stop arrival estimates from consecutive SnappedFix pairs and
// classifying each InterpolatedRow's on-time performance (spec §4.6).
package interpolate

import (
	"math"
	"sort"
	"time"

	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/models"
)

// maxPlausibleSpeedKmh is the speed past which a pair is considered
// illogical (spec §4.6); C6 still emits a row for it, flagged via an
// implausible ProjSpeedKmh, and C7 drops it.
const maxPlausibleSpeedKmh = 120.0

// tripState threads the one value perc_chge depends on — the previous
// row's off_arrdif_s — across every row emitted for a trip, in emission
// order (spec §4.6's perc_chge formula).
type tripState struct {
	lastOffArrdifS float64
	have           bool
}

// Run reconstructs InterpolatedRows for one route: a StationaryRow or
// TerminusRow for every single-fix trip (spec §8 boundary case), and the
// full travel-type dispatch of spec §4.6 for every EnrichedPair. fixes is
// the route's post-QAQC SnappedFixes (used only to detect single-fix
// trips); pairs is C5's output.
func Run(cat *catalog.RouteCatalog, fixes []models.SnappedFix, pairs []models.EnrichedPair) []models.InterpolatedRow {
	fixCountByTrip := make(map[string]int)
	firstFixByTrip := make(map[string]models.SnappedFix)
	for _, f := range fixes {
		fixCountByTrip[f.TripID]++
		if _, ok := firstFixByTrip[f.TripID]; !ok {
			firstFixByTrip[f.TripID] = f
		}
	}

	pairsByTrip := make(map[string][]models.EnrichedPair)
	for _, p := range pairs {
		pairsByTrip[p.A.TripID] = append(pairsByTrip[p.A.TripID], p)
	}

	trips := make([]string, 0, len(fixCountByTrip))
	for trip := range fixCountByTrip {
		trips = append(trips, trip)
	}
	sort.Strings(trips) // determinism (spec §8 round-trip invariant)

	var out []models.InterpolatedRow
	for _, trip := range trips {
		state := &tripState{}
		if tripPairs, ok := pairsByTrip[trip]; ok {
			for _, p := range tripPairs {
				out = append(out, emitForPair(cat, p, state)...)
			}
			continue
		}
		if fixCountByTrip[trip] == 1 {
			out = append(out, finish(state, singleFixRow(cat, firstFixByTrip[trip])))
		}
	}
	return out
}

func emitForPair(cat *catalog.RouteCatalog, pair models.EnrichedPair, state *tripState) []models.InterpolatedRow {
	switch {
	case pair.Status == models.StatusStationary:
		return []models.InterpolatedRow{finish(state, stationaryRow(cat, pair))}
	case pair.Status == models.StatusTerminus:
		return []models.InterpolatedRow{finish(state, terminusRow(cat, pair))}
	}

	diff := pair.B.StopSequence - pair.A.StopSequence
	switch {
	case diff <= -1:
		// Post-QAQC monotonicity means diff should never be negative;
		// when it is (a loop route's stop_sequence wrapping from its max
		// back toward 1), don't attempt to interpolate across it — emit a
		// single marker row and let C7's wrap-around rule drop it.
		return []models.InterpolatedRow{finish(state, wrapRow(cat, pair))}
	case diff == 0 && pair.B.SegIndex != pair.A.SegIndex:
		return []models.InterpolatedRow{finish(state, sameStopRow(cat, pair, models.SameStopDiffSeg))}
	case diff == 0:
		return []models.InterpolatedRow{finish(state, sameStopRow(cat, pair, models.SameStopSameSeg))}
	default:
		rows := betweenStopsRows(cat, pair)
		out := make([]models.InterpolatedRow, len(rows))
		for i, r := range rows {
			out[i] = finish(state, r)
		}
		return out
	}
}

// pairSpeed computes the per-pair basis quantities shared by every
// non-stationary, non-terminus travel type: the arc-length distance
// between A and B's snap points, the elapsed time, and the implied speed.
// A non-positive delta_time_s or a speed over 120 km/h is illogical (spec
// §4.6); the caller still gets a (flagged) speed value rather than an
// error, since C7 is where illogical pairs are dropped.
func pairSpeed(cat *catalog.RouteCatalog, a, b models.SnappedFix) (totDistM, deltaTimeS, speedKmh float64) {
	arcA := cat.ArcLengthAt(a.SegIndex, geometry.Point{X: a.ProjX, Y: a.ProjY})
	arcB := cat.ArcLengthAt(b.SegIndex, geometry.Point{X: b.ProjX, Y: b.ProjY})
	totDistM = arcB - arcA
	deltaTimeS = b.Timestamp.Sub(a.Timestamp).Seconds()
	if deltaTimeS <= 0 {
		return totDistM, deltaTimeS, math.Inf(1)
	}
	speedKmh = (totDistM / deltaTimeS) * 3.6
	return totDistM, deltaTimeS, speedKmh
}

func travelSeconds(distM, speedKmh float64) float64 {
	if speedKmh <= 0 || math.IsInf(speedKmh, 1) || math.IsNaN(speedKmh) {
		return 0
	}
	return (distM / 1000) / speedKmh * 3600
}

func addSeconds(t time.Time, s float64) time.Time {
	return t.Add(time.Duration(math.Round(s * float64(time.Second))))
}

// betweenStopsRows unifies OneStop (exactly one crossed stop) and
// BtwnStops (two or more): both partition Tot_Dist_m across the stops from
// A.stop_sequence+1 through B.stop_sequence using cumulative arc length,
// every crossed stop's arrival accumulating from A's timestamp. A final
// row for B closes the group, carrying B's timestamp plus the future leg
// to the next stop, so downstream can identify the final projected
// observation per (trip, idx) (spec §4.6's idempotence note).
func betweenStopsRows(cat *catalog.RouteCatalog, pair models.EnrichedPair) []models.InterpolatedRow {
	a, b := pair.A, pair.B
	_, _, speedKmh := pairSpeed(cat, a, b)

	travelType := models.BtwnStops
	if b.StopSequence-a.StopSequence == 1 {
		travelType = models.OneStop
	}

	prevArc := cat.ArcLengthAt(a.SegIndex, geometry.Point{X: a.ProjX, Y: a.ProjY})
	arcB := cat.ArcLengthAt(b.SegIndex, geometry.Point{X: b.ProjX, Y: b.ProjY})
	cumTravelS := 0.0
	rows := make([]models.InterpolatedRow, 0, b.StopSequence-a.StopSequence+1)

	for seq := a.StopSequence + 1; seq <= b.StopSequence; seq++ {
		stopArc, ok := cat.StopArc(seq)
		if !ok {
			stopArc = prevArc
		}
		legDist := stopArc - prevArc
		legTravelS := travelSeconds(legDist, speedKmh)
		cumTravelS += legTravelS

		row := models.InterpolatedRow{
			RouteID:      cat.RouteID,
			Direction:    cat.Direction,
			TripID:       a.TripID,
			Idx:          pair.Idx,
			StopSequence: seq,
			StopID:       cat.StopIDAt(seq),
			TravelType:   travelType,
			ProjSpeedKmh: speedKmh,
			DistM:        legDist,
			ProjTravelS:  legTravelS,
		}
		if sched, ok := cat.Scheduled(a.TripID, seq); ok {
			row.SchedArr = sched.ScheduledArrival
		}
		row.OffEarr = addSeconds(a.Timestamp, cumTravelS)
		row.EstArr = row.OffEarr

		rows = append(rows, row)
		prevArc = stopArc
	}

	// The stop_m -> B remainder of the partition: B's own row, anchored to
	// the observed B timestamp rather than an accumulated estimate.
	finalDist := arcB - prevArc
	final := models.InterpolatedRow{
		RouteID:      cat.RouteID,
		Direction:    cat.Direction,
		TripID:       a.TripID,
		Idx:          pair.Idx,
		StopSequence: b.StopSequence,
		StopID:       b.StopID,
		TravelType:   travelType,
		ProjSpeedKmh: speedKmh,
		DistM:        finalDist,
		ProjTravelS:  travelSeconds(finalDist, speedKmh),
	}
	nextArc, hasNext := cat.StopArc(b.StopSequence + 1)
	distFutr := 0.0
	if hasNext {
		distFutr = nextArc - arcB
	}
	futrTravelS := travelSeconds(distFutr, speedKmh)
	final.DistFutrM = distFutr
	final.FutrTravelS = futrTravelS
	if sched, ok := cat.Scheduled(a.TripID, b.StopSequence); ok {
		final.SchedArr = sched.ScheduledArrival
	}
	final.OffEarr = addSeconds(b.Timestamp, futrTravelS)
	final.EstArr = final.OffEarr

	return append(rows, final)
}

// sameStopRow synthesizes the single row for SameStopDiffSeg/SameStopSameSeg
// (spec §4.6): dist_m is the straight-line distance between A's and B's
// snap points (not an arc length), and the future leg is measured starting
// from A rather than B, since both fixes are between the same pair of
// stops.
func sameStopRow(cat *catalog.RouteCatalog, pair models.EnrichedPair, travelType models.TravelType) models.InterpolatedRow {
	a, b := pair.A, pair.B
	distM := geometry.SegmentLengthM(geometry.Segment{
		A: geometry.Point{X: a.ProjX, Y: a.ProjY},
		B: geometry.Point{X: b.ProjX, Y: b.ProjY},
	}, cat.WKID)
	deltaTimeS := b.Timestamp.Sub(a.Timestamp).Seconds()
	speedKmh := math.Inf(1)
	if deltaTimeS > 0 {
		speedKmh = (distM / deltaTimeS) * 3.6
	}

	arcA := cat.ArcLengthAt(a.SegIndex, geometry.Point{X: a.ProjX, Y: a.ProjY})
	nextArc, hasNext := cat.StopArc(b.StopSequence + 1)
	distFutr := 0.0
	if hasNext {
		distFutr = nextArc - arcA
	}
	futrTravelS := travelSeconds(distFutr, speedKmh)

	row := models.InterpolatedRow{
		RouteID:      cat.RouteID,
		Direction:    cat.Direction,
		TripID:       a.TripID,
		Idx:          pair.Idx,
		StopSequence: b.StopSequence,
		StopID:       b.StopID,
		TravelType:   travelType,
		ProjSpeedKmh: speedKmh,
		DistM:        distM,
		DistFutrM:    distFutr,
		FutrTravelS:  futrTravelS,
	}
	if sched, ok := cat.Scheduled(a.TripID, b.StopSequence); ok {
		row.SchedArr = sched.ScheduledArrival
	}
	row.OffEarr = addSeconds(b.Timestamp, futrTravelS)
	row.EstArr = row.OffEarr
	return row
}

// stationaryRow emits the single row for A.status == Stationary: no
// interpolation, echoing B's observed position and timestamp (spec §4.6).
func stationaryRow(cat *catalog.RouteCatalog, pair models.EnrichedPair) models.InterpolatedRow {
	b := pair.B
	row := models.InterpolatedRow{
		RouteID:      cat.RouteID,
		Direction:    cat.Direction,
		TripID:       b.TripID,
		Idx:          pair.Idx,
		StopSequence: b.StopSequence,
		StopID:       b.StopID,
		TravelType:   models.StationaryRow,
		DistM:        pair.DeltaDistM,
	}
	if sched, ok := cat.Scheduled(b.TripID, b.StopSequence); ok {
		row.SchedArr = sched.ScheduledArrival
	}
	row.OffEarr = b.Timestamp
	row.EstArr = row.OffEarr
	return row
}

// terminusRow echoes the trip's last known state rather than extrapolating
// past the route's final stop (spec §4.6's "TerminusRow — echo last
// state").
func terminusRow(cat *catalog.RouteCatalog, pair models.EnrichedPair) models.InterpolatedRow {
	a := pair.A
	row := models.InterpolatedRow{
		RouteID:      cat.RouteID,
		Direction:    cat.Direction,
		TripID:       a.TripID,
		Idx:          pair.Idx,
		StopSequence: a.StopSequence,
		StopID:       a.StopID,
		TravelType:   models.TerminusRow,
	}
	if sched, ok := cat.Scheduled(a.TripID, a.StopSequence); ok {
		row.SchedArr = sched.ScheduledArrival
	}
	row.OffEarr = a.Timestamp
	row.EstArr = row.OffEarr
	return row
}

// wrapRow marks a pair whose stop_sequence regressed — a loop route
// artefact that C7 drops rather than interpolates across (spec §4.6,
// §4.7(c)).
func wrapRow(cat *catalog.RouteCatalog, pair models.EnrichedPair) models.InterpolatedRow {
	b := pair.B
	_, _, speedKmh := pairSpeed(cat, pair.A, b)
	row := models.InterpolatedRow{
		RouteID:      cat.RouteID,
		Direction:    cat.Direction,
		TripID:       b.TripID,
		Idx:          pair.Idx,
		StopSequence: b.StopSequence,
		StopID:       b.StopID,
		TravelType:   models.WrapArtifact,
		ProjSpeedKmh: speedKmh,
	}
	if sched, ok := cat.Scheduled(b.TripID, b.StopSequence); ok {
		row.SchedArr = sched.ScheduledArrival
	}
	row.OffEarr = b.Timestamp
	row.EstArr = row.OffEarr
	return row
}

// singleFixRow handles the spec §8 boundary case: a trip with exactly one
// retained fix emits only a Stationary or Terminus row, no interpolation.
func singleFixRow(cat *catalog.RouteCatalog, fix models.SnappedFix) models.InterpolatedRow {
	row := models.InterpolatedRow{
		RouteID:      cat.RouteID,
		Direction:    cat.Direction,
		TripID:       fix.TripID,
		StopSequence: fix.StopSequence,
		StopID:       fix.StopID,
	}
	if fix.StopSequence == cat.MaxStopSequence {
		row.TravelType = models.TerminusRow
	} else {
		row.TravelType = models.StationaryRow
	}
	if sched, ok := cat.Scheduled(fix.TripID, fix.StopSequence); ok {
		row.SchedArr = sched.ScheduledArrival
	}
	row.OffEarr = fix.Timestamp
	row.EstArr = row.OffEarr
	return row
}

// finish computes the fields that depend on the trip's running state —
// off_arrdif_s, perc_chge (undefined for the first row, per spec §4.6),
// and perf_rate — and advances state for the next row.
func finish(state *tripState, row models.InterpolatedRow) models.InterpolatedRow {
	row.OffArrdifS = row.SchedArr.Sub(row.OffEarr).Seconds()
	if state.have && state.lastOffArrdifS != 0 {
		row.PercChge = (row.OffArrdifS - state.lastOffArrdifS) / math.Abs(state.lastOffArrdifS) * 100
		row.PercChgeOK = true
	}
	row.PerfRate = models.ClassifyPerfRate(row.OffArrdifS)
	state.lastOffArrdifS = row.OffArrdifS
	state.have = true
	return row
}

// MaxPlausibleSpeedKmh exposes the illogical-speed threshold to C7.
const MaxPlausibleSpeedKmh = maxPlausibleSpeedKmh
