package appconf

import "time"

// StartMethod selects how the parallel executor spawns per-route workers.
// It is a deployment toggle (see spec §5): on platforms where forking a
// process would break a GIS geometry backend, workers must be started fresh
// rather than forked. In this module both values drive the same in-process
// goroutine pool; the distinction is preserved so the flag round-trips for
// callers that also drive a process-per-worker deployment.
type StartMethod string

const (
	StartMethodFork  StartMethod = "fork"
	StartMethodSpawn StartMethod = "spawn"
)

// Config is the top-level configuration for one VTRIE batch run: one day of
// fixes against one GTFS static bundle.
type Config struct {
	// MainFolder is the root of the conventional directory layout (spec §6):
	// 0_external/, 2_staging/<gtfs_date>/, 3_interim/..., 4_processed/,
	// 5_conformed/, 6_analyses/, 7_requests/.
	MainFolder string

	// FixesPath is the day's flat fix table, GTFSRT_YYYY-MM-DD.csv (or
	// gzip-compressed) under 0_external/.
	FixesPath string

	// GTFSBundlePath is the zipped static GTFS bundle for the service day.
	// Route geometry is built from its stops and stop_times; no pre-derived
	// shapefile geometry is read.
	GTFSBundlePath string

	// WKID is the spatial reference all geometry operations assume; the
	// catalog loader rejects mixed-WKID inputs. Default 4326 (WGS84).
	WKID int

	// Hyperlink is carried through to the output manifest as a
	// deep-link back to the run that produced it; the core never dereferences it.
	Hyperlink string

	// StartMethod is the worker-spawn deployment toggle; see StartMethod.
	StartMethod StartMethod

	// MaxTaskConcurrency bounds how many (route_id, direction) tasks run at
	// once, bounding peak memory to O(concurrency * per-route footprint).
	// Zero means "use runtime.GOMAXPROCS(0)".
	MaxTaskConcurrency int

	// GeolocateMaxSnapDistanceM is the route-dependent bound past which a
	// fix is considered non-geolocatable and dropped (spec §4.3). Default
	// 200m.
	GeolocateMaxSnapDistanceM float64

	// Timeout cancels outstanding tasks after this long; zero means
	// unlimited (spec §5).
	Timeout time.Duration

	// OutputFormat selects the aggregate tables' encoding: "csv" (default)
	// or "geojson".
	OutputFormat string

	// EnableGTFSTidy runs the static bundle through the gtfstidy dedup
	// passes before building the route catalog (spec §4.2), collapsing
	// near-duplicate shapes and stops that would otherwise produce spurious
	// self-overlap ambiguity in the geolocator.
	EnableGTFSTidy bool

	Env     Environment
	Verbose bool
}

// DefaultMaxSnapDistanceM is the fallback used when Config.GeolocateMaxSnapDistanceM is unset.
const DefaultMaxSnapDistanceM = 200.0

// WithDefaults returns a copy of c with zero-valued fields replaced by their
// documented defaults.
func (c Config) WithDefaults() Config {
	if c.WKID == 0 {
		c.WKID = 4326
	}
	if c.GeolocateMaxSnapDistanceM == 0 {
		c.GeolocateMaxSnapDistanceM = DefaultMaxSnapDistanceM
	}
	if c.StartMethod == "" {
		c.StartMethod = StartMethodSpawn
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "csv"
	}
	return c
}
