package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitmetrics/vtrie/internal/catalog"
	"github.com/transitmetrics/vtrie/internal/geometry"
	"github.com/transitmetrics/vtrie/internal/models"
)

func sampleTables() Tables {
	sched := time.Date(2026, 8, 6, 15, 44, 0, 0, time.UTC)
	return Tables{
		TripStop: []models.TripStopAggregate{{
			RouteID: "202", Direction: "0", TripID: "t1",
			StopSequence: 3, StopID: "S1", SchedArr: sched,
			OnTime: 1, Satis: 1, PrcObsSat: 100,
			AvgSpd: 29.1, AvgArrDif: 59, TotalObs: 1,
			Lprfrte: models.OnTime,
			SpdList: []float64{29.1}, ArrdifList: []float64{59},
			LastOffEarr: sched.Add(-59 * time.Second),
		}},
		Hourly: []models.RouteStopHourAggregate{{
			RouteID: "202", Direction: "0", StopID: "S1", StopSequence: 3,
			RefHr: 15, AvgSpd: 29.1, PrcObsSat: 100,
			CntTripIDs: 1, AllObs: 1, ActSatP: 100,
		}},
		Daily: []models.RouteStopDayAggregate{{
			RouteID: "202", Direction: "0", StopID: "S1", StopSequence: 3,
			AvgSpd: 29.1, PrcObsSat: 100, CntTripIDs: 1, AllObs: 1,
			ActSatP: 100, AggLength: 1, ListRefHr: []int{15},
		}},
	}
}

func sampleSnap() map[catalog.RouteKey]geometry.Point {
	return map[catalog.RouteKey]geometry.Point{
		{RouteID: "202", Direction: "0"}: {X: -114.1092988, Y: 51.05249544},
	}
}

func TestWriteCSVTables(t *testing.T) {
	dir := t.TempDir()
	err := Write(sampleTables(), Options{
		MainFolder: dir,
		RawDate:    "2026-08-06",
		Format:     FormatCSV,
		LastSnap:   sampleSnap(),
	})
	require.NoError(t, err)

	tripStop := filepath.Join(dir, "6_analyses", "trip_stop_2026-08-06.csv")
	hourly := filepath.Join(dir, "7_requests", "route_stop_hourly_2026-08-06.csv")
	daily := filepath.Join(dir, "7_requests", "route_stop_daily_2026-08-06.csv")

	records := readCSV(t, tripStop)
	require.Len(t, records, 2)
	assert.Equal(t, "route_id", records[0][0])
	assert.Equal(t, "202", records[1][0])
	assert.Equal(t, "On-Time", records[1][16])

	records = readCSV(t, hourly)
	require.Len(t, records, 2)
	assert.Equal(t, "ref_hr", records[0][len(records[0])-1])
	assert.Equal(t, "15", records[1][len(records[1])-1])

	records = readCSV(t, daily)
	require.Len(t, records, 2)
	assert.Equal(t, "list_refhr", records[0][len(records[0])-1])
	assert.Equal(t, "15", records[1][len(records[1])-1])
}

func TestWriteGeoJSONTables(t *testing.T) {
	dir := t.TempDir()
	err := Write(sampleTables(), Options{
		MainFolder: dir,
		RawDate:    "2026-08-06",
		Format:     FormatGeoJSON,
		LastSnap:   sampleSnap(),
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "6_analyses", "trip_stop_2026-08-06.geojson"))
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	feature := fc.Features[0]
	require.True(t, feature.Geometry.IsPoint())
	assert.InDelta(t, -114.1092988, feature.Geometry.Point[0], 1e-9)
	assert.InDelta(t, 51.05249544, feature.Geometry.Point[1], 1e-9)

	tripID, err := feature.PropertyString("trip_id")
	require.NoError(t, err)
	assert.Equal(t, "t1", tripID)
}

func TestFinalizeAndWriteManifest(t *testing.T) {
	started := time.Date(2026, 8, 6, 18, 0, 0, 0, time.UTC)
	manifest := &models.RunManifest{
		StartedAt: started,
		EndedAt:   started.Add(42 * time.Second),
		Hyperlink: "https://runs.example.com/2026-08-06",
		Routes: []models.RouteReport{
			{RouteID: "202", Direction: "0", InputFixes: 10, KeptFixes: 9, Retention: 0.9,
				ErrorCounts: map[string]int{"geometric": 1}},
			{RouteID: "303", Direction: "0", Failed: true, FailureMsg: "corrupted catalog",
				ErrorCounts: map[string]int{"task_failure": 1}},
		},
	}

	FinalizeManifest(manifest, sampleSnap())
	assert.Equal(t, 2, manifest.ExitCode, "partial failure")
	assert.NotEmpty(t, manifest.Routes[0].LastSnapEncoded)
	assert.Empty(t, manifest.Routes[1].LastSnapEncoded)

	path := filepath.Join(t.TempDir(), "manifest_2026-08-06.json")
	require.NoError(t, WriteManifest(path, manifest))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded models.RunManifest
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, manifest.Hyperlink, decoded.Hyperlink)
	require.Len(t, decoded.Routes, 2)
	assert.Equal(t, "202", decoded.Routes[0].RouteID)
	assert.InDelta(t, 0.9, decoded.Routes[0].Retention, 1e-9)
	assert.True(t, decoded.Routes[1].Failed)
}

func TestWriteDefaultsToCSV(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(sampleTables(), Options{MainFolder: dir, RawDate: "2026-08-06"}))
	_, err := os.Stat(filepath.Join(dir, "6_analyses", "trip_stop_2026-08-06.csv"))
	assert.NoError(t, err)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}
