// Package aggregate implements C8: the three rollups over the cleaned
// interpolated table — per (trip, stop), per (route, stop, hour), and per
// (route, stop, day) (spec §4.8).
package aggregate

import (
	"sort"

	"github.com/transitmetrics/vtrie/internal/models"
)

type level1Key struct {
	routeID      string
	direction    string
	tripID       string
	stopSequence int
	stopID       string
	schedArrUnix int64
}

// Level1 reduces one route's cleaned InterpolatedRows into
// TripStopAggregates, one per (route, trip, stop_seq, stop_id, sched_arr).
// Rows must arrive in C6's emission order so the "last" off_earr and
// perf_rate, and the spd/arrdif lists, reflect row order. Idx is assigned
// as a cumulative group index within the route, in group first-appearance
// order.
func Level1(rows []models.InterpolatedRow) []models.TripStopAggregate {
	byKey := make(map[level1Key]*models.TripStopAggregate)
	order := make([]level1Key, 0)
	idxByRoute := make(map[string]int)

	for _, row := range rows {
		key := level1Key{
			routeID:      row.RouteID,
			direction:    row.Direction,
			tripID:       row.TripID,
			stopSequence: row.StopSequence,
			stopID:       row.StopID,
			schedArrUnix: row.SchedArr.Unix(),
		}
		agg, ok := byKey[key]
		if !ok {
			agg = &models.TripStopAggregate{
				RouteID:      row.RouteID,
				Direction:    row.Direction,
				TripID:       row.TripID,
				StopSequence: row.StopSequence,
				StopID:       row.StopID,
				SchedArr:     row.SchedArr,
				Idx:          idxByRoute[row.RouteID],
			}
			idxByRoute[row.RouteID]++
			byKey[key] = agg
			order = append(order, key)
		}

		switch row.PerfRate {
		case models.Late:
			agg.Late++
		case models.Early:
			agg.Early++
		default:
			agg.OnTime++
		}
		agg.TotalObs++
		agg.LastOffEarr = row.OffEarr
		agg.Lprfrte = row.PerfRate
		agg.SpdList = append(agg.SpdList, row.ProjSpeedKmh)
		agg.ArrdifList = append(agg.ArrdifList, row.OffArrdifS)
	}

	out := make([]models.TripStopAggregate, 0, len(order))
	for _, key := range order {
		agg := byKey[key]
		agg.Satis = agg.OnTime
		agg.Unsatis = agg.Late + agg.Early
		if agg.TotalObs > 0 {
			agg.PrcObsSat = float64(agg.Satis) / float64(agg.TotalObs) * 100
			agg.PrcObsUns = float64(agg.Unsatis) / float64(agg.TotalObs) * 100
			agg.AvgSpd = mean(agg.SpdList)
			agg.AvgArrDif = mean(agg.ArrdifList)
		}
		out = append(out, *agg)
	}
	return out
}

type level2Key struct {
	routeID      string
	direction    string
	stopID       string
	stopSequence int
	refHr        int
}

// Level2 reduces level-1 rows into hourly rollups keyed by
// (route, stop_id, stop_seq, ref_hr) where ref_hr = hour(sched_arr).
// Unweighted means weight each trip equally; the _w variants weight by
// each trip's TotalObs (spec §9, "aggregation weights").
func Level2(level1 []models.TripStopAggregate) []models.RouteStopHourAggregate {
	groups := make(map[level2Key][]models.TripStopAggregate)
	for _, agg := range level1 {
		key := level2Key{
			routeID:      agg.RouteID,
			direction:    agg.Direction,
			stopID:       agg.StopID,
			stopSequence: agg.StopSequence,
			refHr:        agg.SchedArr.UTC().Hour(),
		}
		groups[key] = append(groups[key], agg)
	}

	out := make([]models.RouteStopHourAggregate, 0, len(groups))
	for key, members := range groups {
		row := models.RouteStopHourAggregate{
			RouteID:      key.routeID,
			Direction:    key.direction,
			StopID:       key.stopID,
			StopSequence: key.stopSequence,
			RefHr:        key.refHr,
		}
		fillRollup(&row.AvgSpd, &row.AvgArrDif, &row.PrcObsSat, &row.PrcObsUns,
			&row.SpdW, &row.ArrdW, &row.PrcwSat, &row.PrcwUns,
			&row.CntTripIDs, &row.AllObs, &row.ActSatP, &row.ActUnsP, members)
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		if a.StopSequence != b.StopSequence {
			return a.StopSequence < b.StopSequence
		}
		return a.RefHr < b.RefHr
	})
	return out
}

type level3Key struct {
	routeID      string
	direction    string
	stopID       string
	stopSequence int
}

// Level3 reduces level-1 rows into daily rollups keyed by
// (route, stop_id, stop_seq): the level-2 formulas applied over the whole
// day, plus the count and sorted list of observed hours.
func Level3(level1 []models.TripStopAggregate) []models.RouteStopDayAggregate {
	groups := make(map[level3Key][]models.TripStopAggregate)
	for _, agg := range level1 {
		key := level3Key{
			routeID:      agg.RouteID,
			direction:    agg.Direction,
			stopID:       agg.StopID,
			stopSequence: agg.StopSequence,
		}
		groups[key] = append(groups[key], agg)
	}

	out := make([]models.RouteStopDayAggregate, 0, len(groups))
	for key, members := range groups {
		row := models.RouteStopDayAggregate{
			RouteID:      key.routeID,
			Direction:    key.direction,
			StopID:       key.stopID,
			StopSequence: key.stopSequence,
		}
		fillRollup(&row.AvgSpd, &row.AvgArrDif, &row.PrcObsSat, &row.PrcObsUns,
			&row.SpdW, &row.ArrdW, &row.PrcwSat, &row.PrcwUns,
			&row.CntTripIDs, &row.AllObs, &row.ActSatP, &row.ActUnsP, members)

		hours := make(map[int]bool)
		for _, m := range members {
			hours[m.SchedArr.UTC().Hour()] = true
		}
		row.ListRefHr = make([]int, 0, len(hours))
		for h := range hours {
			row.ListRefHr = append(row.ListRefHr, h)
		}
		sort.Ints(row.ListRefHr)
		row.AggLength = len(row.ListRefHr)

		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.StopSequence < b.StopSequence
	})
	return out
}

// fillRollup computes the shared level-2/level-3 statistics over a group
// of level-1 rows: unweighted means (weight 1 per trip), TotalObs-weighted
// means, distinct trip and observation counts, and the actual-on-time
// percentages from each trip's final perf_rate.
func fillRollup(avgSpd, avgArrDif, prcObsSat, prcObsUns,
	spdW, arrdW, prcwSat, prcwUns *float64,
	cntTripIDs, allObs *int, actSatP, actUnsP *float64,
	members []models.TripStopAggregate) {

	var sumSpd, sumArrDif, sumSat, sumUns float64
	var wSumSpd, wSumArrDif, wSumSat, wSumUns, wTotal float64
	trips := make(map[string]bool)
	finalByTrip := make(map[string]models.TripStopAggregate)

	for _, m := range members {
		sumSpd += m.AvgSpd
		sumArrDif += m.AvgArrDif
		sumSat += m.PrcObsSat
		sumUns += m.PrcObsUns

		w := float64(m.TotalObs)
		wSumSpd += m.AvgSpd * w
		wSumArrDif += m.AvgArrDif * w
		wSumSat += m.PrcObsSat * w
		wSumUns += m.PrcObsUns * w
		wTotal += w

		*allObs += m.TotalObs
		trips[m.TripID] = true
		if last, ok := finalByTrip[m.TripID]; !ok || m.Idx >= last.Idx {
			finalByTrip[m.TripID] = m
		}
	}

	n := float64(len(members))
	if n > 0 {
		*avgSpd = sumSpd / n
		*avgArrDif = sumArrDif / n
		*prcObsSat = sumSat / n
		*prcObsUns = sumUns / n
	}
	if wTotal > 0 {
		*spdW = wSumSpd / wTotal
		*arrdW = wSumArrDif / wTotal
		*prcwSat = wSumSat / wTotal
		*prcwUns = wSumUns / wTotal
	}

	*cntTripIDs = len(trips)
	if len(finalByTrip) > 0 {
		onTime := 0
		for _, m := range finalByTrip {
			if m.Lprfrte == models.OnTime {
				onTime++
			}
		}
		*actSatP = float64(onTime) / float64(len(finalByTrip)) * 100
		*actUnsP = 100 - *actSatP
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
