// Package output writes a run's three aggregate tables into the
// conventional directory layout — 6_analyses/ for the per-trip table,
// 7_requests/ for the hourly and daily tables — as CSV or GeoJSON, and
// serializes the run manifest (spec §6/§7).
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	geojson "github.com/paulmach/go.geojson"
	gopolyline "github.com/twpayne/go-polyline"

	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/logging"
	"github.com/transitmetrics/vtrie/internal/models"
)

// Format selects the aggregate tables' on-disk encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatGeoJSON Format = "geojson"
)

// Tables bundles the three reductions of spec §4.8 for writing.
type Tables struct {
	TripStop []models.TripStopAggregate
	Hourly   []models.RouteStopHourAggregate
	Daily    []models.RouteStopDayAggregate
}

// Options locates and shapes the output files.
type Options struct {
	// MainFolder is the root of the conventional layout (spec §6).
	MainFolder string
	// RawDate is the fix table's service date (YYYY-MM-DD), used in file names.
	RawDate string
	Format  Format
	// LastSnap provides each route's last snap point, used as the feature
	// geometry in GeoJSON output.
	LastSnap map[catalog.RouteKey]geometry.Point
	Logger   *slog.Logger
}

// Write emits the three tables under opts.MainFolder: the per-trip table
// to 6_analyses/, the hourly and daily tables to 7_requests/.
func Write(tables Tables, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	format := opts.Format
	if format == "" {
		format = FormatCSV
	}

	analysesDir := filepath.Join(opts.MainFolder, "6_analyses")
	requestsDir := filepath.Join(opts.MainFolder, "7_requests")
	for _, dir := range []string{analysesDir, requestsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir %q: %w", dir, err)
		}
	}

	ext := string(format)
	targets := []struct {
		path  string
		write func(path string) error
	}{
		{
			path:  filepath.Join(analysesDir, fmt.Sprintf("trip_stop_%s.%s", opts.RawDate, ext)),
			write: func(p string) error { return writeTripStop(p, format, tables.TripStop, opts.LastSnap) },
		},
		{
			path:  filepath.Join(requestsDir, fmt.Sprintf("route_stop_hourly_%s.%s", opts.RawDate, ext)),
			write: func(p string) error { return writeHourly(p, format, tables.Hourly, opts.LastSnap) },
		},
		{
			path:  filepath.Join(requestsDir, fmt.Sprintf("route_stop_daily_%s.%s", opts.RawDate, ext)),
			write: func(p string) error { return writeDaily(p, format, tables.Daily, opts.LastSnap) },
		},
	}

	for _, target := range targets {
		if err := target.write(target.path); err != nil {
			return err
		}
		logging.LogOperation(logger, "aggregate_table_written", slog.String("path", target.path))
	}
	return nil
}

// FinalizeManifest stamps each route report with its last snap point,
// encoded with the Google polyline codec as a compact string.
func FinalizeManifest(m *models.RunManifest, lastSnap map[catalog.RouteKey]geometry.Point) {
	for i := range m.Routes {
		key := catalog.RouteKey{RouteID: m.Routes[i].RouteID, Direction: m.Routes[i].Direction}
		if pt, ok := lastSnap[key]; ok {
			m.Routes[i].LastSnapEncoded = string(gopolyline.EncodeCoords([][]float64{{pt.Y, pt.X}}))
		}
	}
	m.ExitCode = m.WorstExitCode()
}

// WriteManifest serializes the run manifest as indented JSON at path.
func WriteManifest(path string, m *models.RunManifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run manifest: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing run manifest: %w", err)
	}
	return nil
}

func writeTripStop(path string, format Format, rows []models.TripStopAggregate, lastSnap map[catalog.RouteKey]geometry.Point) error {
	if format == FormatGeoJSON {
		fc := geojson.NewFeatureCollection()
		for _, row := range rows {
			f := pointFeature(lastSnap, row.RouteID, row.Direction)
			f.SetProperty("route_id", row.RouteID)
			f.SetProperty("direction", row.Direction)
			f.SetProperty("trip_id", row.TripID)
			f.SetProperty("stop_sequence", row.StopSequence)
			f.SetProperty("stop_id", row.StopID)
			f.SetProperty("sched_arr", row.SchedArr.Format(time.RFC3339))
			f.SetProperty("Satis", row.Satis)
			f.SetProperty("Unsatis", row.Unsatis)
			f.SetProperty("PrcObsSat", row.PrcObsSat)
			f.SetProperty("PrcObsUns", row.PrcObsUns)
			f.SetProperty("AvgSpd", row.AvgSpd)
			f.SetProperty("Avg_ArrDif", row.AvgArrDif)
			f.SetProperty("Lprfrte", row.Lprfrte.String())
			f.SetProperty("TotalObs", row.TotalObs)
			f.SetProperty("idx", row.Idx)
			fc.AddFeature(f)
		}
		return writeFeatureCollection(path, fc)
	}

	header := []string{
		"route_id", "direction", "trip_id", "stop_sequence", "stop_id", "sched_arr",
		"Late", "On-Time", "Early", "Satis", "Unsatis", "PrcObsSat", "PrcObsUns",
		"AvgSpd", "Avg_ArrDif", "off_earr", "Lprfrte", "TotalObs", "idx",
		"spdList", "arrdifList",
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.RouteID, row.Direction, row.TripID,
			strconv.Itoa(row.StopSequence), row.StopID, row.SchedArr.Format(time.RFC3339),
			strconv.Itoa(row.Late), strconv.Itoa(row.OnTime), strconv.Itoa(row.Early),
			strconv.Itoa(row.Satis), strconv.Itoa(row.Unsatis),
			formatFloat(row.PrcObsSat), formatFloat(row.PrcObsUns),
			formatFloat(row.AvgSpd), formatFloat(row.AvgArrDif),
			row.LastOffEarr.Format(time.RFC3339), row.Lprfrte.String(),
			strconv.Itoa(row.TotalObs), strconv.Itoa(row.Idx),
			formatFloatList(row.SpdList), formatFloatList(row.ArrdifList),
		})
	}
	return writeCSV(path, header, records)
}

func writeHourly(path string, format Format, rows []models.RouteStopHourAggregate, lastSnap map[catalog.RouteKey]geometry.Point) error {
	if format == FormatGeoJSON {
		fc := geojson.NewFeatureCollection()
		for _, row := range rows {
			f := pointFeature(lastSnap, row.RouteID, row.Direction)
			setRollupProperties(f, row.RouteID, row.Direction, row.StopID, row.StopSequence,
				row.AvgSpd, row.AvgArrDif, row.PrcObsSat, row.PrcObsUns,
				row.SpdW, row.ArrdW, row.PrcwSat, row.PrcwUns,
				row.CntTripIDs, row.AllObs, row.ActSatP, row.ActUnsP)
			f.SetProperty("ref_hr", row.RefHr)
			fc.AddFeature(f)
		}
		return writeFeatureCollection(path, fc)
	}

	header := append(rollupHeader(), "ref_hr")
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		record := rollupRecord(row.RouteID, row.Direction, row.StopID, row.StopSequence,
			row.AvgSpd, row.AvgArrDif, row.PrcObsSat, row.PrcObsUns,
			row.SpdW, row.ArrdW, row.PrcwSat, row.PrcwUns,
			row.CntTripIDs, row.AllObs, row.ActSatP, row.ActUnsP)
		records = append(records, append(record, strconv.Itoa(row.RefHr)))
	}
	return writeCSV(path, header, records)
}

func writeDaily(path string, format Format, rows []models.RouteStopDayAggregate, lastSnap map[catalog.RouteKey]geometry.Point) error {
	if format == FormatGeoJSON {
		fc := geojson.NewFeatureCollection()
		for _, row := range rows {
			f := pointFeature(lastSnap, row.RouteID, row.Direction)
			setRollupProperties(f, row.RouteID, row.Direction, row.StopID, row.StopSequence,
				row.AvgSpd, row.AvgArrDif, row.PrcObsSat, row.PrcObsUns,
				row.SpdW, row.ArrdW, row.PrcwSat, row.PrcwUns,
				row.CntTripIDs, row.AllObs, row.ActSatP, row.ActUnsP)
			f.SetProperty("agglength", row.AggLength)
			f.SetProperty("list_refhr", row.ListRefHr)
			fc.AddFeature(f)
		}
		return writeFeatureCollection(path, fc)
	}

	header := append(rollupHeader(), "agglength", "list_refhr")
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		record := rollupRecord(row.RouteID, row.Direction, row.StopID, row.StopSequence,
			row.AvgSpd, row.AvgArrDif, row.PrcObsSat, row.PrcObsUns,
			row.SpdW, row.ArrdW, row.PrcwSat, row.PrcwUns,
			row.CntTripIDs, row.AllObs, row.ActSatP, row.ActUnsP)
		records = append(records, append(record, strconv.Itoa(row.AggLength), formatIntList(row.ListRefHr)))
	}
	return writeCSV(path, header, records)
}

func rollupHeader() []string {
	return []string{
		"route_id", "direction", "stop_id", "stop_sequence",
		"AvgSpd", "Avg_ArrDif", "PrcObsSat", "PrcObsUns",
		"spd_w", "arrd_w", "prcwSat", "prcwUns",
		"cntTripIDs", "AllObs", "ActSatP", "ActUnsP",
	}
}

func rollupRecord(routeID, direction, stopID string, stopSeq int,
	avgSpd, avgArrDif, prcObsSat, prcObsUns,
	spdW, arrdW, prcwSat, prcwUns float64,
	cntTripIDs, allObs int, actSatP, actUnsP float64) []string {
	return []string{
		routeID, direction, stopID, strconv.Itoa(stopSeq),
		formatFloat(avgSpd), formatFloat(avgArrDif), formatFloat(prcObsSat), formatFloat(prcObsUns),
		formatFloat(spdW), formatFloat(arrdW), formatFloat(prcwSat), formatFloat(prcwUns),
		strconv.Itoa(cntTripIDs), strconv.Itoa(allObs), formatFloat(actSatP), formatFloat(actUnsP),
	}
}

func setRollupProperties(f *geojson.Feature, routeID, direction, stopID string, stopSeq int,
	avgSpd, avgArrDif, prcObsSat, prcObsUns,
	spdW, arrdW, prcwSat, prcwUns float64,
	cntTripIDs, allObs int, actSatP, actUnsP float64) {
	f.SetProperty("route_id", routeID)
	f.SetProperty("direction", direction)
	f.SetProperty("stop_id", stopID)
	f.SetProperty("stop_sequence", stopSeq)
	f.SetProperty("AvgSpd", avgSpd)
	f.SetProperty("Avg_ArrDif", avgArrDif)
	f.SetProperty("PrcObsSat", prcObsSat)
	f.SetProperty("PrcObsUns", prcObsUns)
	f.SetProperty("spd_w", spdW)
	f.SetProperty("arrd_w", arrdW)
	f.SetProperty("prcwSat", prcwSat)
	f.SetProperty("prcwUns", prcwUns)
	f.SetProperty("cntTripIDs", cntTripIDs)
	f.SetProperty("AllObs", allObs)
	f.SetProperty("ActSatP", actSatP)
	f.SetProperty("ActUnsP", actUnsP)
}

// pointFeature builds a feature at the route's last snap point (spec §6,
// "geometry set to the last snap point"); routes with no retained fixes
// fall back to the null island origin so the feature stays valid GeoJSON.
func pointFeature(lastSnap map[catalog.RouteKey]geometry.Point, routeID, direction string) *geojson.Feature {
	pt, ok := lastSnap[catalog.RouteKey{RouteID: routeID, Direction: direction}]
	if !ok {
		return geojson.NewPointFeature([]float64{0, 0})
	}
	return geojson.NewPointFeature([]float64{pt.X, pt.Y})
}

func writeFeatureCollection(path string, fc *geojson.FeatureCollection) error {
	raw, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling %q: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return nil
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("writing header to %q: %w", path, err)
	}
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("writing rows to %q: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %q: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloatList(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ";")
}

func formatIntList(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ";")
}
