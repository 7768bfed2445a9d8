// Package qaqc implements C4: the three-pass decreasing-lookback filter
// that enforces monotonic trip progression and drops duplicate fixes
// (spec §4.4).
package qaqc

import (
	"sort"

	"github.com/transitmetrics/vtrie/internal/models"
)

// lookbackOrders are applied in this order — 3, then 2, then 1 — per spec
// §4.4: GPS jitter around overlapping route sections produces brief
// back-steps, and a decreasing-lookback sweep removes them without
// eroding legitimate near-stationary sequences.
var lookbackOrders = []int{3, 2, 1}

// Result is the output of Run: the retained fixes (sorted by timestamp
// within each trip) and the retention ratio (kept / input).
type Result struct {
	Kept      []models.SnappedFix
	Retention float64
}

// Run filters fixes for one route: sorts each trip's fixes by timestamp,
// drops exact duplicates, then applies the three-pass lookback filter.
func Run(fixes []models.SnappedFix) Result {
	if len(fixes) == 0 {
		return Result{Retention: 1}
	}

	byTrip := groupByTrip(fixes)
	for trip, rows := range byTrip {
		sort.SliceStable(rows, func(i, j int) bool {
			if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
				return rows[i].Timestamp.Before(rows[j].Timestamp)
			}
			return rows[i].Barcode < rows[j].Barcode
		})
		byTrip[trip] = rows
	}

	input := 0
	for _, rows := range byTrip {
		input += len(rows)
	}

	for trip, rows := range byTrip {
		byTrip[trip] = dropDuplicates(rows)
	}

	for _, k := range lookbackOrders {
		for trip, rows := range byTrip {
			byTrip[trip] = applyLookback(rows, k)
		}
	}

	kept := make([]models.SnappedFix, 0, input)
	for _, rows := range byTrip {
		kept = append(kept, rows...)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Barcode < kept[j].Barcode })

	retention := 1.0
	if input > 0 {
		retention = float64(len(kept)) / float64(input)
	}

	return Result{Kept: kept, Retention: retention}
}

func groupByTrip(fixes []models.SnappedFix) map[string][]models.SnappedFix {
	byTrip := make(map[string][]models.SnappedFix)
	for _, f := range fixes {
		byTrip[f.TripID] = append(byTrip[f.TripID], f)
	}
	return byTrip
}

// dropDuplicates removes exact duplicates: same trip (implicit, already
// grouped), same timestamp, same snap point.
func dropDuplicates(rows []models.SnappedFix) []models.SnappedFix {
	out := make([]models.SnappedFix, 0, len(rows))
	for i, r := range rows {
		if i > 0 {
			prev := rows[i-1]
			if r.Timestamp.Equal(prev.Timestamp) && r.ProjX == prev.ProjX && r.ProjY == prev.ProjY {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// applyLookback runs one pass at lookback order k: for every row, examine
// the k-th prior retained row of the same trip; if the difference in
// either stop_sequence or seg_index is negative, drop the current row.
func applyLookback(rows []models.SnappedFix, k int) []models.SnappedFix {
	if len(rows) <= k {
		return rows
	}
	out := make([]models.SnappedFix, 0, len(rows))
	for _, r := range rows {
		if len(out) >= k {
			prior := out[len(out)-k]
			if r.StopSequence-prior.StopSequence < 0 || r.SegIndex-prior.SegIndex < 0 {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
