package geometry

import "math"

// WKID4326 is the WGS84 geographic spatial reference. It is the only WKID for
// which segment and polyline lengths are computed with the great-circle
// formula in Distance; every other WKID is treated as a projected coordinate
// system measured in linear meters.
const WKID4326 = 4326

// ContainmentTolDeg is the default perpendicular-distance tolerance, in
// degrees, used by PointInSegment to decide whether a snap point lies on a
// candidate segment.
const ContainmentTolDeg = 1e-7

// Point is a single (X, Y) coordinate. For WKID 4326, X is longitude and Y is
// latitude; for a projected WKID, X and Y are planar easting/northing in
// meters.
type Point struct {
	X float64
	Y float64
}

// Segment is a two-point line piece, the unit the undissolved route polyline
// is built from.
type Segment struct {
	A Point
	B Point
}

// SegmentLengthM returns the length of a segment in meters: great-circle
// distance for WKID 4326, Euclidean distance (already in meters) for a
// projected WKID.
func SegmentLengthM(seg Segment, wkid int) float64 {
	if wkid == WKID4326 {
		return Distance(seg.A.Y, seg.A.X, seg.B.Y, seg.B.X)
	}
	dx := seg.B.X - seg.A.X
	dy := seg.B.Y - seg.A.Y
	return math.Hypot(dx, dy)
}

// distanceBetween measures the distance between two points of the same WKID,
// in meters.
func distanceBetween(a, b Point, wkid int) float64 {
	return SegmentLengthM(Segment{A: a, B: b}, wkid)
}

// projectOntoSegment projects p onto the infinite line through seg.A/seg.B in
// the segment's own coordinate units, then clamps the parametric position t
// to [0, 1] so the returned point always lies on the segment itself. It
// returns the clamped point and the unclamped t, so callers can tell whether
// the closest point fell beyond an endpoint.
func projectOntoSegment(p Point, seg Segment) (projected Point, t float64) {
	dx := seg.B.X - seg.A.X
	dy := seg.B.Y - seg.A.Y
	lenSq := dx*dx + dy*dy

	if lenSq == 0 {
		return seg.A, 0
	}

	t = ((p.X-seg.A.X)*dx + (p.Y-seg.A.Y)*dy) / lenSq

	clamped := t
	if clamped < 0 {
		clamped = 0
	} else if clamped > 1 {
		clamped = 1
	}

	projected = Point{
		X: seg.A.X + clamped*dx,
		Y: seg.A.Y + clamped*dy,
	}
	return projected, t
}

// PointInSegment reports whether p's perpendicular projection onto seg falls
// within the segment (0 <= t <= 1, with a small slack for floating point
// error at the endpoints) and within tol of the segment line. tol is in
// source-WKID units: degrees for WKID 4326, meters for a projected WKID.
func PointInSegment(p Point, seg Segment, tol float64) bool {
	projected, t := projectOntoSegment(p, seg)
	if t < -1e-9 || t > 1+1e-9 {
		return false
	}
	dx := p.X - projected.X
	dy := p.Y - projected.Y
	perp := math.Hypot(dx, dy)
	return perp <= tol
}

// ProjectPointToPolyline finds the closest point on poly (a sequence of
// connected vertices, not individual disjoint segments) to p, minimizing
// Euclidean distance in the source WKID. It returns the projected point, the
// cumulative arc length from poly[0] to the projection (measured in meters
// along the polyline), and the index of the segment (poly[i], poly[i+1]) that
// contains the closest point. Snap always returns the globally closest
// projection; it does not stop at the first segment within tolerance.
func ProjectPointToPolyline(p Point, poly []Point, wkid int) (projected Point, cumArc float64, segIdx int) {
	if len(poly) == 0 {
		return Point{}, 0, -1
	}
	if len(poly) == 1 {
		return poly[0], 0, 0
	}

	bestDist := math.Inf(1)
	bestSeg := 0
	var bestPoint Point
	var bestArcBefore float64

	var arcBefore float64
	for i := 0; i < len(poly)-1; i++ {
		seg := Segment{A: poly[i], B: poly[i+1]}
		proj, _ := projectOntoSegment(p, seg)
		d := distanceBetween(p, proj, wkid)
		if d < bestDist {
			bestDist = d
			bestSeg = i
			bestPoint = proj
			bestArcBefore = arcBefore
		}
		arcBefore += SegmentLengthM(seg, wkid)
	}

	partial := distanceBetween(poly[bestSeg], bestPoint, wkid)
	return bestPoint, bestArcBefore + partial, bestSeg
}

// PolylineLengthBetween returns the arc length, in meters, along poly from
// the start of segment segIndexA to the start of segment segIndexB. If
// segIndexB < segIndexA, the result is negative (callers that need a
// direction-agnostic distance should take math.Abs of the result).
func PolylineLengthBetween(poly []Point, segIndexA, segIndexB int) float64 {
	return PolylineLengthBetweenWKID(poly, segIndexA, segIndexB, WKID4326)
}

// PolylineLengthBetweenWKID is PolylineLengthBetween parameterized by WKID,
// for projected-coordinate catalogs.
func PolylineLengthBetweenWKID(poly []Point, segIndexA, segIndexB, wkid int) float64 {
	if segIndexA == segIndexB {
		return 0
	}
	sign := 1.0
	a, b := segIndexA, segIndexB
	if a > b {
		a, b = b, a
		sign = -1
	}
	if a < 0 {
		a = 0
	}
	if b > len(poly)-1 {
		b = len(poly) - 1
	}
	var total float64
	for i := a; i < b; i++ {
		total += SegmentLengthM(Segment{A: poly[i], B: poly[i+1]}, wkid)
	}
	return sign * total
}
