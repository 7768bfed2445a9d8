package models

import "time"

// TripStopAggregate is a level-1 rollup: one row per
// (route, trip, stop_sequence, stop_id, sched_arr), per spec §4.8(1).
type TripStopAggregate struct {
	RouteID      string
	Direction    string
	TripID       string
	StopSequence int
	StopID       string
	SchedArr     time.Time

	Late    int
	OnTime  int
	Early   int
	Satis   int
	Unsatis int

	PrcObsSat float64
	PrcObsUns float64
	AvgSpd    float64
	AvgArrDif float64

	LastOffEarr time.Time
	Lprfrte     PerfRate

	TotalObs int
	Idx      int

	SpdList    []float64
	ArrdifList []float64
}

// RouteStopHourAggregate is a level-2 rollup: one row per
// (route, stop_id, stop_sequence, ref_hr), per spec §4.8(2).
type RouteStopHourAggregate struct {
	RouteID      string
	Direction    string
	StopID       string
	StopSequence int
	RefHr        int

	AvgSpd    float64
	AvgArrDif float64
	PrcObsSat float64
	PrcObsUns float64

	SpdW    float64
	ArrdW   float64
	PrcwSat float64
	PrcwUns float64

	CntTripIDs int
	AllObs     int

	ActSatP float64
	ActUnsP float64
}

// RouteStopDayAggregate is a level-3 rollup: one row per
// (route, stop_id, stop_sequence), per spec §4.8(3).
type RouteStopDayAggregate struct {
	RouteID      string
	Direction    string
	StopID       string
	StopSequence int

	AvgSpd    float64
	AvgArrDif float64
	PrcObsSat float64
	PrcObsUns float64

	SpdW    float64
	ArrdW   float64
	PrcwSat float64
	PrcwUns float64

	CntTripIDs int
	AllObs     int

	ActSatP float64
	ActUnsP float64

	AggLength int
	ListRefHr []int
}
