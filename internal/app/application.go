// Package app wires the VTRIE pipeline into a runnable batch job:
// ingestion, catalog construction, the parallel executor, and output
// serialization, held together by one Application value so cmd/vtrie
// stays a thin flag-parsing shell.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/transitmetrics/vtrie/internal/appconf"
	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/clock"
	"github.com/transitmetrics/vtrie/internal/executor"
	"github.com/transitmetrics/vtrie/internal/ingest"
	"github.com/transitmetrics/vtrie/internal/logging"
	"github.com/transitmetrics/vtrie/internal/metrics"
	"github.com/transitmetrics/vtrie/internal/models"
	"github.com/transitmetrics/vtrie/internal/output"
)

// Exit codes per spec §6.
const (
	ExitOK             = 0
	ExitInvalidInput   = 1
	ExitPartialFailure = 2
	ExitFatal          = 3
)

// Application holds the dependencies for one VTRIE batch run.
type Application struct {
	Config  appconf.Config
	Logger  *slog.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// RunBatch executes the full per-day job and returns the process exit
// code: 0 success, 1 invalid input, 2 partial failure (some routes
// errored), 3 fatal.
func (app *Application) RunBatch(ctx context.Context) int {
	cfg := app.Config.WithDefaults()
	logger := app.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := app.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	if cfg.FixesPath == "" || cfg.GTFSBundlePath == "" {
		logger.Error("both a fix table and a GTFS bundle are required",
			"fixes", cfg.FixesPath, "gtfs_bundle", cfg.GTFSBundlePath)
		return ExitInvalidInput
	}

	startedAt := clk.Now()

	fixesRes, err := ingest.ReadFixes(cfg.FixesPath, logger)
	if err != nil {
		return exitCodeForError(logger, err)
	}
	if app.Metrics != nil {
		app.Metrics.FixesIngestedTotal.Add(float64(len(fixesRes.Fixes)))
	}
	logging.LogOperation(logger, "fix_table_ingested",
		slog.String("path", cfg.FixesPath),
		slog.Int("fixes", len(fixesRes.Fixes)),
		slog.Int("skipped", fixesRes.Skipped))

	serviceDate, ok := ingest.ServiceDateFromFilename(cfg.FixesPath)
	if !ok {
		if len(fixesRes.Fixes) == 0 {
			logger.Error("cannot determine service date: unconventional file name and no fixes",
				"path", cfg.FixesPath)
			return ExitInvalidInput
		}
		serviceDate = fixesRes.Fixes[0].Timestamp.UTC().Truncate(24 * time.Hour)
	}
	rawDate := serviceDate.Format("2006-01-02")

	catalogs, err := catalog.LoadCatalogs(catalog.LoadOptions{
		BundlePath:  cfg.GTFSBundlePath,
		ServiceDate: serviceDate,
		WKID:        cfg.WKID,
		EnableTidy:  cfg.EnableGTFSTidy,
		Logger:      logger,
	})
	if err != nil {
		return exitCodeForError(logger, err)
	}
	logging.LogOperation(logger, "catalogs_built", slog.Int("routes", len(catalogs)))

	res, err := executor.Run(ctx, catalogs, fixesRes.Fixes, executor.Options{
		Config:  cfg,
		Logger:  logger,
		Metrics: app.Metrics,
	})
	if err != nil {
		return exitCodeForError(logger, err)
	}

	if err := output.Write(output.Tables{
		TripStop: res.Level1,
		Hourly:   res.Hourly,
		Daily:    res.Daily,
	}, output.Options{
		MainFolder: cfg.MainFolder,
		RawDate:    rawDate,
		Format:     output.Format(cfg.OutputFormat),
		LastSnap:   res.LastSnap,
		Logger:     logger,
	}); err != nil {
		logger.Error("writing aggregate tables", "error", err)
		return ExitFatal
	}

	manifest := &models.RunManifest{
		StartedAt: startedAt,
		EndedAt:   clk.Now(),
		Hyperlink: cfg.Hyperlink,
		Routes:    res.Reports,
	}
	output.FinalizeManifest(manifest, res.LastSnap)
	manifestPath := filepath.Join(cfg.MainFolder, fmt.Sprintf("manifest_%s.json", rawDate))
	if err := output.WriteManifest(manifestPath, manifest); err != nil {
		logger.Error("writing run manifest", "error", err)
		return ExitFatal
	}
	logging.LogOperation(logger, "run_manifest_written",
		slog.String("path", manifestPath),
		slog.Int("exit_code", manifest.ExitCode))

	return manifest.ExitCode
}

// exitCodeForError maps a pre-worker failure to the CLI contract: fatal
// input/catalog problems are "invalid input" (1), anything else is fatal
// (3).
func exitCodeForError(logger *slog.Logger, err error) int {
	var perr *models.PipelineError
	if errors.As(err, &perr) && perr.Kind.Fatal() {
		logger.Error("invalid input", "kind", perr.Kind.String(), "error", err)
		return ExitInvalidInput
	}
	logger.Error("batch run failed", "error", err)
	return ExitFatal
}
