package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitmetrics/vtrie/internal/geometry"
)

func lineSegments(count int) []Segment {
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		segments = append(segments, Segment{
			SegIndex:     i,
			Start:        geometry.Point{X: -114.114 + float64(i)*0.002, Y: 51.0525},
			End:          geometry.Point{X: -114.114 + float64(i+1)*0.002, Y: 51.0525},
			StopSequence: i + 1,
			StopID:       "S" + string(rune('A'+i)),
		})
	}
	return segments
}

func TestBuildValidatesMaxStopSequence(t *testing.T) {
	// The schedule claims 63 stops but the polyline tops out at 62: the
	// effective max must drop to the polyline's and the catalog must say so.
	segments := lineSegments(62)
	cat := Build("202", "0", 4326, segments, StopTable{}, 63)

	assert.Equal(t, 62, cat.MaxStopSequence)
	assert.False(t, cat.MaxStopSeqValidated)

	agreed := Build("202", "0", 4326, lineSegments(62), StopTable{}, 62)
	assert.Equal(t, 62, agreed.MaxStopSequence)
	assert.True(t, agreed.MaxStopSeqValidated)
}

func TestBuildDissolvedAndMaxima(t *testing.T) {
	cat := Build("202", "0", 4326, lineSegments(4), StopTable{}, 4)

	assert.Len(t, cat.Dissolved, 5)
	assert.Equal(t, 3, cat.MaxSegIndex)
	assert.Equal(t, cat.Segments[0].Start, cat.Dissolved[0])
	assert.Equal(t, cat.Segments[3].End, cat.Dissolved[4])
}

func TestStopArcIsIncreasing(t *testing.T) {
	cat := Build("202", "0", 4326, lineSegments(4), StopTable{}, 4)

	prev := 0.0
	for seq := 1; seq <= 4; seq++ {
		arc, ok := cat.StopArc(seq)
		require.True(t, ok)
		assert.Greater(t, arc, prev)
		prev = arc
	}
	_, ok := cat.StopArc(5)
	assert.False(t, ok)
}

func TestArcLengthAtMatchesStopArc(t *testing.T) {
	cat := Build("202", "0", 4326, lineSegments(4), StopTable{}, 4)

	// A point at the end of segment 1 sits at stop 2's arc length.
	endOfSeg1 := cat.Segments[1].End
	arc := cat.ArcLengthAt(2, endOfSeg1)
	stopArc, ok := cat.StopArc(2)
	require.True(t, ok)
	assert.InDelta(t, stopArc, arc, 1e-3)
}

func TestCandidateSegmentsOnOverlap(t *testing.T) {
	// A loop: segment 0 outbound and segment 3 inbound share the same
	// geometry, so a snap point there must surface both candidates.
	shared := Segment{
		SegIndex:     0,
		Start:        geometry.Point{X: -114.114, Y: 51.0525},
		End:          geometry.Point{X: -114.112, Y: 51.0525},
		StopSequence: 1,
		StopID:       "SA",
	}
	segments := []Segment{
		shared,
		{SegIndex: 1, Start: shared.End, End: geometry.Point{X: -114.112, Y: 51.0545}, StopSequence: 2, StopID: "SB"},
		{SegIndex: 2, Start: geometry.Point{X: -114.112, Y: 51.0545}, End: geometry.Point{X: -114.114, Y: 51.0545}, StopSequence: 3, StopID: "SC"},
		{SegIndex: 3, Start: shared.Start, End: shared.End, StopSequence: 4, StopID: "SD"},
	}
	cat := Build("202", "0", 4326, segments, StopTable{}, 4)

	onShared := geometry.Point{X: -114.113, Y: 51.0525}
	candidates := cat.CandidateSegments(onShared, 1e-4)
	require.Len(t, candidates, 2)
	indices := []int{candidates[0].SegIndex, candidates[1].SegIndex}
	assert.ElementsMatch(t, []int{0, 3}, indices)
}

func TestScheduledLookup(t *testing.T) {
	arr := time.Date(2026, 8, 6, 15, 44, 0, 0, time.UTC)
	table := StopTable{
		{TripID: "t1", StopSequence: 3}: {
			StopID:             "SC",
			ScheduledArrival:   arr,
			ScheduledDeparture: arr.Add(20 * time.Second),
		},
	}
	cat := Build("202", "0", 4326, lineSegments(4), table, 4)

	sched, ok := cat.Scheduled("t1", 3)
	require.True(t, ok)
	assert.Equal(t, "SC", sched.StopID)
	assert.Equal(t, arr, sched.ScheduledArrival)

	_, ok = cat.Scheduled("t1", 4)
	assert.False(t, ok)
}
