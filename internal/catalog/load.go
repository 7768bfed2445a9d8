package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	gogtfs "github.com/OneBusAway/go-gtfs"

	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/logging"
	"github.com/transitmetrics/vtrie/internal/models"
)

// LoadOptions configures catalog construction from a static GTFS bundle
// (spec §4.2/§6).
type LoadOptions struct {
	// BundlePath is the path to the zipped GTFS bundle; the file is read
	// whole and handed to gogtfs.ParseStatic. A directory is not accepted.
	BundlePath string
	// ServiceDate anchors GTFS clock-of-day arrival/departure strings
	// (which may exceed 24:00:00 for trips crossing midnight) to an
	// absolute UTC instant.
	ServiceDate time.Time
	WKID        int
	EnableTidy  bool
	Logger      *slog.Logger
}

// LoadCatalogs reads the static GTFS bundle and builds one RouteCatalog
// per (route_id, direction) pair that appears in the trips table.
func LoadCatalogs(opts LoadOptions) (map[RouteKey]*RouteCatalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bundlePath := opts.BundlePath
	if opts.EnableTidy {
		tidied, err := tidyBundle(bundlePath, tidyMaxEqDistanceM)
		if err != nil {
			logging.LogError(logger, "gtfs_tidy_failed_using_original_bundle", err)
		} else {
			bundlePath = tidied
		}
	}

	raw, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, models.NewPipelineError(models.InputMissing, "",
			fmt.Errorf("reading static GTFS bundle: %w", err))
	}

	static, err := gogtfs.ParseStatic(raw, gogtfs.ParseStaticOptions{})
	if err != nil {
		return nil, models.NewPipelineError(models.CatalogInvalid, "",
			fmt.Errorf("parsing static GTFS bundle: %w", err))
	}

	logging.LogOperation(logger, "static_gtfs_parsed",
		slog.Int("routes", len(static.Routes)),
		slog.Int("trips", len(static.Trips)))

	type builder struct {
		segments        []Segment
		stopTable       StopTable
		maxStopSequence int
	}
	builders := make(map[RouteKey]*builder)

	for _, trip := range static.Trips {
		if trip.Route == nil || len(trip.StopTimes) == 0 {
			continue
		}
		key := RouteKey{RouteID: trip.Route.Id, Direction: fmt.Sprintf("%d", trip.DirectionId)}
		b, ok := builders[key]
		if !ok {
			b = &builder{stopTable: StopTable{}}
			builders[key] = b
		}

		for _, st := range trip.StopTimes {
			if st.Stop == nil {
				continue
			}
			// ArrivalTime/DepartureTime are clock-of-day offsets from the
			// service-day midnight, already time.Durations; GTFS allows
			// values past 24h for trips crossing midnight.
			arr := opts.ServiceDate.Add(st.ArrivalTime)
			dep := opts.ServiceDate.Add(st.DepartureTime)
			b.stopTable[StopTimeKey{TripID: trip.ID, StopSequence: st.StopSequence}] = ScheduledStop{
				StopID:             st.Stop.Id,
				ScheduledArrival:   arr,
				ScheduledDeparture: dep,
			}
			if st.StopSequence > b.maxStopSequence {
				b.maxStopSequence = st.StopSequence
			}
		}

		if len(b.segments) == 0 {
			b.segments = buildSegmentsForTrip(trip)
		}
	}

	catalogs := make(map[RouteKey]*RouteCatalog, len(builders))
	for key, b := range builders {
		if len(b.segments) == 0 {
			logging.LogError(logger, "route_has_no_usable_geometry",
				fmt.Errorf("route %s has stop_times but no two consecutive stops with coordinates", key), slog.String("route_id", key.RouteID))
			continue
		}
		catalogs[key] = Build(key.RouteID, key.Direction, opts.WKID, b.segments, b.stopTable, b.maxStopSequence)
	}

	return catalogs, nil
}

// buildSegmentsForTrip derives one two-point Segment per inter-stop leg
// of trip's stop sequence. Each segment's endpoint is the arriving stop's
// location, and its SegIndex is its 0-based position along the trip —
// this is the representative geometry shared by every trip of the same
// (route, direction), since VTRIE treats a route's stop pattern as fixed
// for the service day (spec §4.2 "build once per job; share immutably").
func buildSegmentsForTrip(trip gogtfs.ScheduledTrip) []Segment {
	stops := trip.StopTimes
	if len(stops) < 2 {
		return nil
	}
	segments := make([]Segment, 0, len(stops)-1)
	for i := 0; i < len(stops)-1; i++ {
		from, to := stops[i], stops[i+1]
		if from.Stop == nil || to.Stop == nil || from.Stop.Latitude == nil || from.Stop.Longitude == nil ||
			to.Stop.Latitude == nil || to.Stop.Longitude == nil {
			continue
		}
		segments = append(segments, Segment{
			SegIndex:     i,
			Start:        geometry.Point{X: *from.Stop.Longitude, Y: *from.Stop.Latitude},
			End:          geometry.Point{X: *to.Stop.Longitude, Y: *to.Stop.Latitude},
			StopSequence: to.StopSequence,
			StopID:       to.Stop.Id,
		})
	}
	return segments
}
