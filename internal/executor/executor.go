// Package executor implements C9: fanning the per-route pipeline
// (C3→C4→C5→C6→C7 plus the level-1 aggregation) out across
// (route_id, direction) tasks, bounding concurrency, and reducing the
// results into the hourly and daily rollups (spec §4.9/§5).
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transitmetrics/vtrie/internal/aggregate"
	"github.com/transitmetrics/vtrie/internal/appconf"
	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/cleanup"
	"github.com/transitmetrics/vtrie/internal/enrich"
	"github.com/transitmetrics/vtrie/internal/geolocate"
	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/interpolate"
	"github.com/transitmetrics/vtrie/internal/logging"
	"github.com/transitmetrics/vtrie/internal/metrics"
	"github.com/transitmetrics/vtrie/internal/models"
	"github.com/transitmetrics/vtrie/internal/qaqc"
)

// Options carries the run-wide dependencies each task reads but never
// mutates.
type Options struct {
	Config  appconf.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Result is the reduced output of one batch run: the concatenated level-1
// aggregates, the level-2/3 rollups computed after the barrier, one
// RouteReport per attempted route, and each route's last snap point for
// output geometry.
type Result struct {
	Level1  []models.TripStopAggregate
	Hourly  []models.RouteStopHourAggregate
	Daily   []models.RouteStopDayAggregate
	Reports []models.RouteReport

	LastSnap map[catalog.RouteKey]geometry.Point

	// UnroutableFixes counts fixes whose trip_id matched no catalog entry;
	// they never reach a worker.
	UnroutableFixes int
}

// routeOutcome is what one worker hands back across the barrier.
type routeOutcome struct {
	key      catalog.RouteKey
	level1   []models.TripStopAggregate
	report   models.RouteReport
	lastSnap geometry.Point
	hasSnap  bool
}

// Run executes the batch: it assigns each fix to its (route_id, direction)
// via the catalogs' stop tables, runs one task per route under the
// configured concurrency bound, and reduces. A task failure is recorded in
// that route's report and does not cancel the others; only the configured
// timeout (or the caller's ctx) cancels outstanding tasks (spec §5).
func Run(ctx context.Context, catalogs map[catalog.RouteKey]*catalog.RouteCatalog, fixes []models.Fix, opts Options) (*Result, error) {
	cfg := opts.Config.WithDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	byRoute, unroutable := assignFixes(catalogs, fixes)
	if unroutable > 0 {
		logging.LogError(logger, "fixes_matched_no_route",
			fmt.Errorf("%d fixes reference trips absent from the catalog", unroutable))
		if opts.Metrics != nil {
			opts.Metrics.FixesDroppedTotal.WithLabelValues("assign", "unknown_trip").Add(float64(unroutable))
		}
	}

	keys := make([]catalog.RouteKey, 0, len(byRoute))
	for key := range byRoute {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RouteID != keys[j].RouteID {
			return keys[i].RouteID < keys[j].RouteID
		}
		return keys[i].Direction < keys[j].Direction
	})

	concurrency := cfg.MaxTaskConcurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	outcomes := make([]routeOutcome, 0, len(keys))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for _, key := range keys {
		routeFixes := byRoute[key]
		cat := catalogs[key]
		group.Go(func() error {
			outcome := runRouteTask(gctx, logger, opts.Metrics, cfg, key, cat, routeFixes)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			// Task errors are recorded in the outcome's report; returning
			// them here would cancel sibling tasks, which §5 forbids.
			return nil
		})
	}
	// Tasks record their own failures and always return nil to the group;
	// a timed-out context surfaces as TaskFailure reports on the routes it
	// cancelled, not as a run-level error, so completed routes still reduce.
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].key.RouteID != outcomes[j].key.RouteID {
			return outcomes[i].key.RouteID < outcomes[j].key.RouteID
		}
		return outcomes[i].key.Direction < outcomes[j].key.Direction
	})

	res := &Result{
		LastSnap:        make(map[catalog.RouteKey]geometry.Point),
		UnroutableFixes: unroutable,
	}
	for _, o := range outcomes {
		res.Reports = append(res.Reports, o.report)
		if o.report.Failed {
			continue
		}
		res.Level1 = append(res.Level1, o.level1...)
		if o.hasSnap {
			res.LastSnap[o.key] = o.lastSnap
		}
	}
	res.Hourly = aggregate.Level2(res.Level1)
	res.Daily = aggregate.Level3(res.Level1)
	return res, nil
}

// assignFixes maps each fix to its (route_id, direction) by looking the
// trip up in the catalogs' stop tables, filling the fix's RouteID and
// Direction along the way.
func assignFixes(catalogs map[catalog.RouteKey]*catalog.RouteCatalog, fixes []models.Fix) (map[catalog.RouteKey][]models.Fix, int) {
	tripToRoute := make(map[string]catalog.RouteKey)
	for key, cat := range catalogs {
		for stKey := range cat.StopTable {
			tripToRoute[stKey.TripID] = key
		}
	}

	byRoute := make(map[catalog.RouteKey][]models.Fix)
	unroutable := 0
	for _, fix := range fixes {
		key, ok := tripToRoute[fix.TripID]
		if !ok {
			unroutable++
			continue
		}
		fix.RouteID = key.RouteID
		fix.Direction = key.Direction
		byRoute[key] = append(byRoute[key], fix)
	}
	return byRoute, unroutable
}

// runRouteTask runs the full per-route pipeline for one task. It never
// panics out: a crash anywhere in the stages is recovered into a
// TaskFailure report so the reducer can exclude the route and continue
// (spec §7).
func runRouteTask(ctx context.Context, logger *slog.Logger, m *metrics.Metrics, cfg appconf.Config, key catalog.RouteKey, cat *catalog.RouteCatalog, routeFixes []models.Fix) (outcome routeOutcome) {
	start := time.Now()
	outcome.key = key
	outcome.report = models.RouteReport{
		RouteID:     key.RouteID,
		Direction:   key.Direction,
		InputFixes:  len(routeFixes),
		ErrorCounts: make(map[string]int),
	}

	defer func() {
		outcome.report.Duration = time.Since(start)
		if r := recover(); r != nil {
			outcome.report.Failed = true
			outcome.report.FailureMsg = fmt.Sprint(r)
			outcome.report.ErrorCounts[models.TaskFailure.String()]++
			if m != nil {
				m.ObserveRouteTask("failed", outcome.report.Duration.Seconds())
				m.RecordError(models.TaskFailure.String(), fmt.Errorf("route %s: %v", key, r))
			}
			logging.LogError(logger, "route_task_failed",
				models.NewPipelineError(models.TaskFailure, key.RouteID, fmt.Errorf("%v", r)))
			return
		}
		if m != nil {
			m.ObserveRouteTask("ok", outcome.report.Duration.Seconds())
			m.RetentionRatio.WithLabelValues(key.RouteID).Set(outcome.report.Retention)
		}
		logging.LogOperation(logger, "route_task_completed",
			slog.String("route_id", key.RouteID),
			slog.String("direction", key.Direction),
			slog.Int("input_fixes", outcome.report.InputFixes),
			slog.Int("kept_fixes", outcome.report.KeptFixes),
			slog.Float64("retention", outcome.report.Retention),
			slog.Int("errors", totalErrors(outcome.report.ErrorCounts)))
	}()

	if err := ctx.Err(); err != nil {
		outcome.report.Failed = true
		outcome.report.FailureMsg = err.Error()
		outcome.report.ErrorCounts[models.TaskFailure.String()]++
		return outcome
	}

	// Strict within-task ordering: fixes sorted by (trip_id, timestamp)
	// before C3 (spec §5).
	sort.SliceStable(routeFixes, func(i, j int) bool {
		if routeFixes[i].TripID != routeFixes[j].TripID {
			return routeFixes[i].TripID < routeFixes[j].TripID
		}
		return routeFixes[i].Timestamp.Before(routeFixes[j].Timestamp)
	})

	geo := geolocate.Run(logger, cat, routeFixes, cfg.GeolocateMaxSnapDistanceM)
	if geo.Dropped > 0 {
		outcome.report.ErrorCounts[models.Geometric.String()] += geo.Dropped
		if m != nil {
			m.FixesDroppedTotal.WithLabelValues("geolocate", "not_geolocatable").Add(float64(geo.Dropped))
		}
	}

	filtered := qaqc.Run(geo.Snapped)
	outcome.report.KeptFixes = len(filtered.Kept)
	outcome.report.Retention = filtered.Retention
	if dropped := len(geo.Snapped) - len(filtered.Kept); dropped > 0 && m != nil {
		m.FixesDroppedTotal.WithLabelValues("qaqc", "non_monotonic").Add(float64(dropped))
	}

	if len(filtered.Kept) > 0 {
		last := filtered.Kept[len(filtered.Kept)-1]
		outcome.lastSnap = geometry.Point{X: last.ProjX, Y: last.ProjY}
		outcome.hasSnap = true
	}

	pairs := enrich.Run(cat, filtered.Kept)
	interpolated := interpolate.Run(cat, filtered.Kept, pairs)
	if m != nil {
		for _, row := range interpolated {
			m.RowsInterpolatedTotal.WithLabelValues(row.TravelType.String()).Inc()
		}
	}

	cleaned := cleanup.Run(cat, interpolated)
	if cleaned.Dropped() > 0 {
		outcome.report.ErrorCounts[models.NumericAnomaly.String()] += cleaned.Dropped()
		if m != nil {
			m.FixesDroppedTotal.WithLabelValues("cleanup", "illogical_row").Add(float64(cleaned.Dropped()))
		}
	}

	outcome.level1 = aggregate.Level1(cleaned.Kept)
	return outcome
}

func totalErrors(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
