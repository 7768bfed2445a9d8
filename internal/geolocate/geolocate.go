// Package geolocate implements C3: snapping raw vehicle fixes onto a
// route's dissolved polyline and resolving which undissolved segment (and
// therefore which stop) each fix belongs to (spec §4.3).
package geolocate

import (
	"log/slog"
	"sort"

	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/logging"
	"github.com/transitmetrics/vtrie/internal/models"
)

// candidateTol is the bounding-box slack, in the catalog's WKID units,
// used to pull candidate segments from the spatial index around a snap
// point. It is intentionally larger than geometry.ContainmentTolDeg so the
// rtree query over-fetches rather than missing a true containing segment.
const candidateTol = 1e-4

// Result is the output of Run: the route's fixes, snapped and annotated
// with the state the trip-local resolution machine needs, plus any
// non-geolocatable fixes dropped along the way.
type Result struct {
	Snapped []models.SnappedFix
	Dropped int
}

// tripState is the per-trip monotonic state the ambiguity resolver
// consults: the only state carried between fixes of the same trip is the
// last accepted segment index (spec §9, "trip-local state machine").
type tripState struct {
	lastSegIndex int
	hasAccepted  bool
}

// Run geolocates every fix for one (route_id, direction) task. Fixes must
// already be sorted by (trip_id, timestamp) — the executor guarantees this
// ordering before C3 runs (spec §5). maxSnapDistanceM is the route-dependent
// bound past which a fix is considered non-geolocatable and dropped.
func Run(logger *slog.Logger, cat *catalog.RouteCatalog, fixes []models.Fix, maxSnapDistanceM float64) Result {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cat.Dissolved) == 0 {
		logging.LogError(logger, "route_has_empty_polyline",
			errEmptyPolyline(cat.RouteID, cat.Direction))
		return Result{Dropped: len(fixes)}
	}

	states := make(map[string]*tripState)
	out := make([]models.SnappedFix, 0, len(fixes))
	barcode := 0
	dropped := 0

	for _, fix := range fixes {
		pt := geometry.Point{X: fix.Lon, Y: fix.Lat}

		projected, _, dissolvedSegIdx := cat.SnapToDissolved(pt)
		if dissolvedSegIdx < 0 {
			dropped++
			continue
		}

		snapDist := geometry.SegmentLengthM(geometry.Segment{A: pt, B: projected}, cat.WKID)
		if snapDist > maxSnapDistanceM {
			logging.LogError(logger, "fix_beyond_snap_distance_bound",
				errBeyondBound(fix.TripID, snapDist, maxSnapDistanceM))
			dropped++
			continue
		}

		candidates := cat.CandidateSegments(projected, candidateTol)
		if len(candidates) == 0 {
			// The dissolved and undissolved polylines are built from the
			// same segment list (spec §3), so the dissolved segment index
			// is itself a valid undissolved candidate whenever the rtree
			// query comes up empty (e.g. a snap point that lands exactly
			// on a shared vertex between two segments).
			if dissolvedSegIdx < len(cat.Segments) {
				candidates = []catalog.Segment{cat.Segments[dissolvedSegIdx]}
			} else {
				dropped++
				continue
			}
		}

		st, ok := states[fix.TripID]
		if !ok {
			st = &tripState{}
			states[fix.TripID] = st
		}

		chosen := resolveCandidate(candidates, st)

		out = append(out, models.SnappedFix{
			Fix:          fix,
			SegIndex:     chosen.SegIndex,
			StopID:       chosen.StopID,
			StopSequence: chosen.StopSequence,
			ProjX:        projected.X,
			ProjY:        projected.Y,
			Barcode:      barcode,
		})
		barcode++

		st.lastSegIndex = chosen.SegIndex
		st.hasAccepted = true
	}

	return Result{Snapped: out, Dropped: dropped}
}

// resolveCandidate picks the undissolved segment that keeps the trip's
// seg_index monotonically non-decreasing relative to the prior accepted
// fix (spec §4.3 step 3). On the first fix of a trip it chooses the lowest
// SegIndex candidate.
func resolveCandidate(candidates []catalog.Segment, st *tripState) catalog.Segment {
	sorted := make([]catalog.Segment, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SegIndex < sorted[j].SegIndex })

	if !st.hasAccepted {
		return sorted[0]
	}

	best := sorted[0]
	bestFound := false
	for _, c := range sorted {
		if c.SegIndex >= st.lastSegIndex {
			best = c
			bestFound = true
			break
		}
	}
	if !bestFound {
		// Every candidate would regress seg_index; accept the one closest
		// to (but below) the prior state rather than the smallest index, so
		// a momentary geometry mismatch doesn't snap the trip backward to
		// the start of the loop.
		best = sorted[len(sorted)-1]
	}
	return best
}
