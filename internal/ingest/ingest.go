// Package ingest reads the day's flat fix table — GTFSRT_YYYY-MM-DD.csv,
// optionally gzip-compressed — into Fix values for the executor (spec §6).
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/transitmetrics/vtrie/internal/logging"
	"github.com/transitmetrics/vtrie/internal/models"
)

// Result is the output of ReadFixes: the parsed fixes plus the count of
// malformed rows skipped (DataIntegrity errors per spec §7 — recorded,
// not fatal).
type Result struct {
	Fixes   []models.Fix
	Skipped int
}

var fileDatePattern = regexp.MustCompile(`GTFSRT_(\d{4}-\d{2}-\d{2})\.csv(\.gz)?$`)

// ServiceDateFromFilename extracts the service date encoded in the fix
// table's conventional file name, GTFSRT_YYYY-MM-DD.csv[.gz].
func ServiceDateFromFilename(path string) (time.Time, bool) {
	m := fileDatePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return time.Time{}, false
	}
	return d.UTC(), true
}

// ReadFixes parses the fix table at path. The file must carry a header
// row naming at least trip_id, timestamp, lat, and lon (vehicle_id is
// carried through if present; any other columns are ignored). A missing
// file is an InputMissing error; individual malformed rows are skipped
// and counted.
func ReadFixes(path string, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, models.NewPipelineError(models.InputMissing, "",
			fmt.Errorf("opening fix table: %w", err))
	}
	defer logging.SafeCloseWithLogging(f, logger, "fix table")

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Result{}, models.NewPipelineError(models.InputMissing, "",
				fmt.Errorf("opening gzip fix table: %w", err))
		}
		defer logging.SafeCloseWithLogging(gz, logger, "gzip fix table")
		reader = gz
	}

	return parseFixes(reader, logger)
}

func parseFixes(r io.Reader, logger *slog.Logger) (Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return Result{}, models.NewPipelineError(models.InputMissing, "",
			fmt.Errorf("reading fix table header: %w", err))
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"trip_id", "timestamp", "lat", "lon"} {
		if _, ok := cols[required]; !ok {
			return Result{}, models.NewPipelineError(models.InputMissing, "",
				fmt.Errorf("fix table missing required column %q", required))
		}
	}

	var res Result
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logging.LogError(logger, "fix_row_unparseable", err, slog.Int("line", line))
			res.Skipped++
			continue
		}

		fix, err := parseFixRecord(record, cols)
		if err != nil {
			logging.LogError(logger, "fix_row_invalid", err, slog.Int("line", line))
			res.Skipped++
			continue
		}
		res.Fixes = append(res.Fixes, fix)
	}
	return res, nil
}

func parseFixRecord(record []string, cols map[string]int) (models.Fix, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	tripID := field("trip_id")
	if tripID == "" {
		return models.Fix{}, fmt.Errorf("empty trip_id")
	}

	ts, err := time.Parse(time.RFC3339, field("timestamp"))
	if err != nil {
		return models.Fix{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	lat, err := strconv.ParseFloat(field("lat"), 64)
	if err != nil {
		return models.Fix{}, fmt.Errorf("parsing lat: %w", err)
	}
	lon, err := strconv.ParseFloat(field("lon"), 64)
	if err != nil {
		return models.Fix{}, fmt.Errorf("parsing lon: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return models.Fix{}, fmt.Errorf("coordinates out of range: (%f, %f)", lat, lon)
	}

	return models.Fix{
		TripID:    tripID,
		Timestamp: ts.UTC(),
		Lat:       lat,
		Lon:       lon,
		VehicleID: field("vehicle_id"),
	}, nil
}
