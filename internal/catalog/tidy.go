package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/patrickbr/gtfsparser"
	"github.com/patrickbr/gtfstidy/processors"
	"github.com/patrickbr/gtfswriter"
)

// tidyMaxEqDistanceM is the max-equivalent-distance threshold (in
// meters) two shapes may differ by and still be merged
// by ShapeDuplicateRemover.
const tidyMaxEqDistanceM = 5.0

// tidyBundle runs the static bundle at bundlePath through gtfstidy's
// dedup processors and writes the result to a sibling directory, returning
// its path. This collapses near-duplicate shapes and stops that would
// otherwise seed spurious self-overlap ambiguity in the geolocator (spec
// §4.2, §9), mirroring the teacher's tool-only reference to a
// tidyGTFSData hook (see original_source/).
//
// A failure here is non-fatal to the caller: LoadCatalogs falls back to the
// original bundle and logs the error.
func tidyBundle(bundlePath string, maxEqDistanceM float64) (string, error) {
	feed := gtfsparser.NewFeed()
	feed.SetParseOpts(gtfsparser.ParseOptions{UseDefValueOnError: true, DropErroneous: true})

	if err := feed.Parse(bundlePath); err != nil {
		return "", fmt.Errorf("tidy: parsing bundle %q: %w", bundlePath, err)
	}

	orphans, err := processors.MakeOrphanRemover([]string{"all"})
	if err != nil {
		return "", fmt.Errorf("tidy: configuring orphan remover: %w", err)
	}

	processors.ShapeDuplicateRemover{MaxEqDist: maxEqDistanceM}.Run(feed)
	processors.StopDuplicateRemover{DistThresholdStop: 10, DistThresholdStation: 50}.Run(feed)
	orphans.Run(feed)

	outPath := filepath.Join(filepath.Dir(filepath.Clean(bundlePath)), filepath.Base(bundlePath)+"_tidied")
	if err := os.MkdirAll(outPath, 0o755); err != nil {
		return "", fmt.Errorf("tidy: creating output dir %q: %w", outPath, err)
	}

	w := gtfswriter.Writer{Sorted: true}
	if err := w.Write(feed, outPath); err != nil {
		return "", fmt.Errorf("tidy: writing tidied bundle to %q: %w", outPath, err)
	}

	return outPath, nil
}
