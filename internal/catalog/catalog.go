// Package catalog builds and serves the per-route geometry and schedule
// catalog (spec §4.2): an ordered sequence of segments, the dissolved
// polyline formed from them, and a stop-time table, all keyed by
// (route_id, direction) and shared read-only across the executor's
// per-route tasks.
package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/rtree"

	"github.com/transitmetrics/vtrie/internal/geometry"
)

// RouteKey identifies one (route_id, direction) catalog entry.
type RouteKey struct {
	RouteID   string
	Direction string
}

func (k RouteKey) String() string {
	return fmt.Sprintf("%s/%s", k.RouteID, k.Direction)
}

// Segment is a two-point piece of the route's undissolved polyline,
// carrying the stop it arrives at (spec §3).
type Segment struct {
	SegIndex     int
	Start, End   geometry.Point
	StopSequence int
	StopID       string
}

func (s Segment) asGeometrySegment() geometry.Segment {
	return geometry.Segment{A: s.Start, B: s.End}
}

// StopTimeKey identifies one scheduled stop visit.
type StopTimeKey struct {
	TripID       string
	StopSequence int
}

// ScheduledStop is the scheduled arrival/departure for one
// (trip_id, stop_sequence), resolved to absolute UTC instants at
// catalog-build time so downstream stages never have to reason about
// service-day boundaries (spec §9's cross-midnight design note).
type ScheduledStop struct {
	StopID             string
	ScheduledArrival   time.Time
	ScheduledDeparture time.Time
}

// StopTable maps (trip_id, stop_sequence) to its scheduled times.
type StopTable map[StopTimeKey]ScheduledStop

// RouteCatalog is the read-only geometry and schedule catalog for one
// (route_id, direction), built once per job and shared across workers.
type RouteCatalog struct {
	RouteID   string
	Direction string
	WKID      int

	// Segments is ordered by SegIndex, strictly increasing along the
	// dissolved polyline (spec §3 invariant).
	Segments []Segment

	// Dissolved is the concatenation of all segment paths in traversal
	// order. Dissolved[i] and Dissolved[i+1] are the endpoints of the
	// polyline segment whose index is i, which equals Segments[i].SegIndex
	// by construction.
	Dissolved []geometry.Point

	StopTable StopTable

	MaxStopSequence     int
	MaxSegIndex         int
	MaxStopSeqValidated bool

	// stopArc maps a stop_sequence to its cumulative arc length (meters)
	// along Dissolved, precomputed once so the interpolator's per-pair
	// partitioning (spec §4.6) never re-walks the polyline.
	stopArc map[int]float64
	// stopIDBySeq maps a stop_sequence to its stop_id.
	stopIDBySeq map[int]string

	index *rtree.RTreeG[int]
}

// Build assembles a RouteCatalog from already-extracted segments and a
// stop table, validating the max-stop-sequence invariant from spec §4.2
// and constructing the spatial index used by the geolocator.
func Build(routeID, direction string, wkid int, segments []Segment, stopTable StopTable, scheduledMaxStopSequence int) *RouteCatalog {
	sort.Slice(segments, func(i, j int) bool { return segments[i].SegIndex < segments[j].SegIndex })

	dissolved := make([]geometry.Point, 0, len(segments)+1)
	maxSegIndex := 0
	maxStopSeqOnPolyline := 0
	for i, seg := range segments {
		if i == 0 {
			dissolved = append(dissolved, seg.Start)
		}
		dissolved = append(dissolved, seg.End)
		if seg.SegIndex > maxSegIndex {
			maxSegIndex = seg.SegIndex
		}
		if seg.StopSequence > maxStopSeqOnPolyline {
			maxStopSeqOnPolyline = seg.StopSequence
		}
	}

	maxStopSequence := scheduledMaxStopSequence
	validated := true
	if scheduledMaxStopSequence > maxStopSeqOnPolyline {
		maxStopSequence = maxStopSeqOnPolyline
		validated = false
	}

	idx := &rtree.RTreeG[int]{}
	for i, seg := range segments {
		minX, maxX := seg.Start.X, seg.End.X
		if minX > maxX {
			minX, maxX = maxX, minX
		}
		minY, maxY := seg.Start.Y, seg.End.Y
		if minY > maxY {
			minY, maxY = maxY, minY
		}
		idx.Insert([2]float64{minX, minY}, [2]float64{maxX, maxY}, i)
	}

	arcAtVertex := make([]float64, len(dissolved))
	var running float64
	for i := 1; i < len(dissolved); i++ {
		running += geometry.SegmentLengthM(geometry.Segment{A: dissolved[i-1], B: dissolved[i]}, wkid)
		arcAtVertex[i] = running
	}
	stopArc := make(map[int]float64, len(segments))
	stopIDs := make(map[int]string, len(segments))
	for i, seg := range segments {
		stopArc[seg.StopSequence] = arcAtVertex[i+1]
		stopIDs[seg.StopSequence] = seg.StopID
	}

	return &RouteCatalog{
		RouteID:             routeID,
		Direction:           direction,
		WKID:                wkid,
		Segments:            segments,
		Dissolved:           dissolved,
		StopTable:           stopTable,
		MaxStopSequence:     maxStopSequence,
		MaxSegIndex:         maxSegIndex,
		MaxStopSeqValidated: validated,
		stopArc:             stopArc,
		stopIDBySeq:         stopIDs,
		index:               idx,
	}
}

// SnapToDissolved projects pt onto the dissolved polyline, returning the
// globally-closest projection, its cumulative arc length, and the
// dissolved segment index (which equals the corresponding Segment's
// SegIndex). Returns segIdx -1 if the catalog has no geometry.
func (c *RouteCatalog) SnapToDissolved(pt geometry.Point) (projected geometry.Point, cumArc float64, segIdx int) {
	return geometry.ProjectPointToPolyline(pt, c.Dissolved, c.WKID)
}

// CandidateSegments returns every Segment whose bounding box (expanded by
// tol) contains pt and which contains pt within tol by
// geometry.PointInSegment, i.e. the set of segments a self-overlapping loop
// route's geometry makes plausible matches for a snap point (spec §4.3
// step 2-3). The rtree index makes the bounding-box search sub-linear in
// route segment count (spec §9).
func (c *RouteCatalog) CandidateSegments(pt geometry.Point, tol float64) []Segment {
	var out []Segment
	min := [2]float64{pt.X - tol, pt.Y - tol}
	max := [2]float64{pt.X + tol, pt.Y + tol}
	c.index.Search(min, max, func(_, _ [2]float64, data int) bool {
		seg := c.Segments[data]
		if geometry.PointInSegment(pt, seg.asGeometrySegment(), tol) {
			out = append(out, seg)
		}
		return true
	})
	return out
}

// PolylineLengthBetween returns the signed arc length between two segment
// indices along the dissolved polyline.
func (c *RouteCatalog) PolylineLengthBetween(segIndexA, segIndexB int) float64 {
	return geometry.PolylineLengthBetweenWKID(c.Dissolved, segIndexA, segIndexB, c.WKID)
}

// Scheduled returns the scheduled arrival/departure for (tripID, stopSeq),
// and whether an entry exists.
func (c *RouteCatalog) Scheduled(tripID string, stopSeq int) (ScheduledStop, bool) {
	s, ok := c.StopTable[StopTimeKey{TripID: tripID, StopSequence: stopSeq}]
	return s, ok
}

// StopArc returns the cumulative arc length (meters) along Dissolved to
// the location of stopSeq, and whether that stop_sequence appears on the
// route's polyline.
func (c *RouteCatalog) StopArc(stopSeq int) (float64, bool) {
	arc, ok := c.stopArc[stopSeq]
	return arc, ok
}

// StopIDAt returns the stop_id that arrives at stopSeq, or "" if none.
func (c *RouteCatalog) StopIDAt(stopSeq int) string {
	return c.stopIDBySeq[stopSeq]
}

// ArcLengthAt returns the cumulative arc length (meters) along Dissolved
// from Dissolved[0] to pt, given that pt lies on the dissolved segment
// segIndex (i.e. between Dissolved[segIndex] and Dissolved[segIndex+1]) —
// the basis for the interpolator's per-pair distance partitioning (spec
// §4.6's Tot_Dist_m and per-leg dist_m).
func (c *RouteCatalog) ArcLengthAt(segIndex int, pt geometry.Point) float64 {
	if len(c.Dissolved) == 0 {
		return 0
	}
	if segIndex < 0 {
		segIndex = 0
	}
	if segIndex > len(c.Dissolved)-1 {
		segIndex = len(c.Dissolved) - 1
	}
	before := c.PolylineLengthBetween(0, segIndex)
	partial := geometry.SegmentLengthM(geometry.Segment{A: c.Dissolved[segIndex], B: pt}, c.WKID)
	return before + partial
}
