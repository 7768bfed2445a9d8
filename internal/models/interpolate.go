package models

import "time"

// TravelType classifies how an InterpolatedRow was derived from its
// source pair (spec §4.6).
type TravelType int

const (
	StationaryRow TravelType = iota
	BtwnStops
	OneStop
	SameStopDiffSeg
	SameStopSameSeg
	TerminusRow
	// WrapArtifact marks a pair whose stop_sequence regressed by 1 or more
	// (spec §4.6's "rare wrap" case, seen on loop routes); C7 drops these
	// rather than interpolating across them.
	WrapArtifact
)

func (t TravelType) String() string {
	switch t {
	case StationaryRow:
		return "StationaryRow"
	case BtwnStops:
		return "BtwnStops"
	case OneStop:
		return "OneStop"
	case SameStopDiffSeg:
		return "SameStopDiffSeg"
	case SameStopSameSeg:
		return "SameStopSameSeg"
	case TerminusRow:
		return "TerminusRow"
	case WrapArtifact:
		return "WrapArtifact"
	default:
		return "Unknown"
	}
}

// PerfRate is the on-time classification of an InterpolatedRow (spec §4.6).
type PerfRate int

const (
	OnTime PerfRate = iota
	Late
	Early
)

func (p PerfRate) String() string {
	switch p {
	case Late:
		return "Late"
	case Early:
		return "Early"
	default:
		return "On-Time"
	}
}

// ClassifyPerfRate applies the Late/On-Time/Early partition from spec §4.6:
// Late when off_arrdif_s <= -120, Early when off_arrdif_s >= 300, else
// On-Time.
func ClassifyPerfRate(offArrdifS float64) PerfRate {
	switch {
	case offArrdifS <= -120:
		return Late
	case offArrdifS >= 300:
		return Early
	default:
		return OnTime
	}
}

// InterpolatedRow is one reconstructed stop-arrival estimate, emitted by
// C6 for a (trip_id, idx, stop_id) triple.
type InterpolatedRow struct {
	RouteID      string
	Direction    string
	TripID       string
	Idx          int
	StopID       string
	StopSequence int
	TravelType   TravelType

	ProjSpeedKmh float64
	DistM        float64
	DistFutrM    float64
	ProjTravelS  float64
	FutrTravelS  float64

	EstArr     time.Time
	OffEarr    time.Time
	SchedArr   time.Time
	OffArrdifS float64
	PercChge   float64
	PercChgeOK bool
	PerfRate   PerfRate
}
