// Command vtrie runs the per-day batch job: one day of GTFS-Realtime
// vehicle fixes against a static GTFS bundle, producing per-trip, hourly,
// and daily on-time-performance tables plus a run manifest.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/transitmetrics/vtrie/internal/app"
	"github.com/transitmetrics/vtrie/internal/appconf"
	"github.com/transitmetrics/vtrie/internal/clock"
	"github.com/transitmetrics/vtrie/internal/metrics"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("vtrie", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vtrie [flags] <main_folder>\n\n")
		flags.PrintDefaults()
	}

	var (
		fixesPath        = flags.String("fixes", "", "path to the day's fix table (GTFSRT_YYYY-MM-DD.csv[.gz]); defaults to the newest match under <main_folder>/0_external")
		gtfsBundle       = flags.String("gtfs-bundle", "", "path to the static GTFS bundle (zip)")
		startMethod      = flags.String("start-method", "spawn", "worker start method: spawn or fork")
		wkid             = flags.Int("wkid", 4326, "spatial reference WKID for all geometry operations")
		hyperlink        = flags.String("hyperlink", "", "run hyperlink carried through to the output manifest")
		maxConcurrency   = flags.Int("max-concurrency", 0, "max concurrent route tasks (0 = number of cores)")
		maxSnapDistanceM = flags.Float64("max-snap-distance-m", appconf.DefaultMaxSnapDistanceM, "drop fixes farther than this from the route polyline")
		timeout          = flags.Duration("timeout", 0, "global task timeout (0 = unlimited)")
		enableTidy       = flags.Bool("enable-gtfs-tidy", false, "dedup shapes/stops in the GTFS bundle before building catalogs")
		format           = flags.String("format", "csv", "aggregate table format: csv or geojson")
		verbose          = flags.Bool("verbose", false, "enable debug logging")
	)

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return app.ExitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return app.ExitInvalidInput
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return app.ExitInvalidInput
	}
	mainFolder := flags.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	method := appconf.StartMethod(*startMethod)
	if method != appconf.StartMethodSpawn && method != appconf.StartMethodFork {
		logger.Error("invalid --start-method", "value", *startMethod)
		return app.ExitInvalidInput
	}
	if *format != "csv" && *format != "geojson" {
		logger.Error("invalid --format", "value", *format)
		return app.ExitInvalidInput
	}

	if *fixesPath == "" {
		found, err := newestFixTable(filepath.Join(mainFolder, "0_external"))
		if err != nil {
			logger.Error("no fix table found; pass --fixes", "error", err)
			return app.ExitInvalidInput
		}
		*fixesPath = found
	}

	cfg := appconf.Config{
		MainFolder:                mainFolder,
		FixesPath:                 *fixesPath,
		GTFSBundlePath:            *gtfsBundle,
		WKID:                      *wkid,
		Hyperlink:                 *hyperlink,
		StartMethod:               method,
		MaxTaskConcurrency:        *maxConcurrency,
		GeolocateMaxSnapDistanceM: *maxSnapDistanceM,
		Timeout:                   *timeout,
		EnableGTFSTidy:            *enableTidy,
		OutputFormat:              *format,
		Env:                       appconf.Production,
		Verbose:                   *verbose,
	}

	application := &app.Application{
		Config:  cfg,
		Logger:  logger,
		Clock:   clock.RealClock{},
		Metrics: metrics.NewWithLogger(logger),
	}
	return application.RunBatch(context.Background())
}

// newestFixTable finds the lexically-latest GTFSRT_*.csv[.gz] under dir;
// the date-stamped naming convention makes lexical order date order.
func newestFixTable(dir string) (string, error) {
	var matches []string
	for _, pattern := range []string{"GTFSRT_*.csv", "GTFSRT_*.csv.gz"} {
		found, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", err
		}
		matches = append(matches, found...)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no GTFSRT_*.csv[.gz] under %s", dir)
	}
	newest := matches[0]
	for _, m := range matches[1:] {
		if m > newest {
			newest = m
		}
	}
	return newest, nil
}
