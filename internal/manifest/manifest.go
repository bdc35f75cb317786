// Package manifest builds the viewer-facing manifest by scanning the
// exports directory, strictly validating every candidate file, and never
// falling back to an invalid or stale artifact.
package manifest

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mumuon/demregion/internal/export"
	"github.com/mumuon/demregion/internal/region"
)

// manifestFilename is excluded from candidacy since Build writes its own
// output into the same directory it scans.
const manifestFilename = "manifest.json"

// isExportCandidateFilename loosely matches every .json/.json.gz file that
// could plausibly be an export artifact — everything except the manifest
// itself and the _borders.json[.gz] companion file — so that a malformed
// or stale file (e.g. missing its version field) still becomes a candidate
// and gets warned about during the parse/version filter below, rather than
// silently vanishing before that check ever runs (spec §4.10 step 2: files
// failing the strict filter are skipped "with a warning", not excluded
// from consideration entirely).
func isExportCandidateFilename(name string) bool {
	if name == manifestFilename {
		return false
	}
	base := strings.TrimSuffix(name, ".gz")
	if !strings.HasSuffix(base, ".json") {
		return false
	}
	base = strings.TrimSuffix(base, ".json")
	return !strings.HasSuffix(base, "_borders")
}

// Entry is one region's manifest row.
type Entry struct {
	File        string     `json:"file"`
	DisplayName string     `json:"display_name"`
	RegionType  string     `json:"region_type"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Bounds      boundsJSON `json:"bounds"`
	Stats       export.Stats `json:"stats"`
	FileSize    int64      `json:"file_size"`
}

type boundsJSON struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Manifest is the top-level manifest_v1 document.
type Manifest struct {
	Version   string           `json:"version"`
	Generated time.Time        `json:"generated"`
	Regions   map[string]Entry `json:"regions"`
}

type candidate struct {
	path    string
	modTime time.Time
	size    int64
	parsed  export.Artifact
}

// Build scans exportsDir for every plausible export JSON file (anything
// besides manifest.json and the _borders.json[.gz] companion), parses and
// strictly validates each as an export_v2 document, groups survivors by the
// region_id each one declares internally, picks the newest per region on
// duplicates, and resolves display metadata from registry. A file that looks
// like a candidate but fails to parse or carries the wrong version is
// skipped with a warning rather than silently excluded from consideration
// (spec §4.10 S6: a stale file missing its version field must still produce
// an observable warning, not vanish before validation ever runs).
// generatedAt is passed in since this package must stay Date.now()-free to
// keep its output reproducible under test.
func Build(exportsDir string, registry *region.Registry, generatedAt time.Time) (*Manifest, error) {
	entries, err := os.ReadDir(exportsDir)
	if err != nil {
		return nil, fmt.Errorf("reading exports directory %s: %w", exportsDir, err)
	}

	logger := slog.With("component", "manifest")
	byRegion := make(map[string][]candidate)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !isExportCandidateFilename(e.Name()) {
			continue
		}
		path := filepath.Join(exportsDir, e.Name())

		info, err := e.Info()
		if err != nil {
			logger.Warn("skipping candidate, cannot stat", "file", e.Name(), "error", err)
			continue
		}

		artifact, err := readAndValidate(path, strings.HasSuffix(e.Name(), ".gz"))
		if err != nil {
			logger.Warn("skipping candidate, failed validation", "file", e.Name(), "error", err)
			continue
		}
		if artifact.RegionID == "" {
			logger.Warn("skipping candidate, parsed artifact has no region_id", "file", e.Name())
			continue
		}

		byRegion[artifact.RegionID] = append(byRegion[artifact.RegionID], candidate{
			path:    path,
			modTime: info.ModTime(),
			size:    info.Size(),
			parsed:  artifact,
		})
	}

	result := &Manifest{
		Version:   "manifest_v1",
		Generated: generatedAt,
		Regions:   make(map[string]Entry),
	}

	for regionID, candidates := range byRegion {
		if len(candidates) == 0 {
			logger.Warn("region has zero valid export candidates, skipping", "region_id", regionID)
			continue
		}
		if len(candidates) > 1 {
			logger.Warn("region has multiple valid export candidates, picking newest by mtime", "region_id", regionID, "count", len(candidates))
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })
		winner := candidates[0]

		reg, err := registry.Get(regionID)
		if err != nil {
			logger.Warn("region not in current registry, skipping from manifest", "region_id", regionID, "error", err)
			continue
		}

		result.Regions[regionID] = Entry{
			File:        filepath.Base(winner.path),
			DisplayName: reg.DisplayName,
			RegionType:  string(reg.RegionType),
			Width:       winner.parsed.Width,
			Height:      winner.parsed.Height,
			Bounds: boundsJSON{
				West:  winner.parsed.Bounds.West,
				South: winner.parsed.Bounds.South,
				East:  winner.parsed.Bounds.East,
				North: winner.parsed.Bounds.North,
			},
			Stats:    winner.parsed.Stats,
			FileSize: winner.size,
		}
	}

	return result, nil
}

func readAndValidate(path string, gzipped bool) (export.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return export.Artifact{}, err
	}
	defer f.Close()

	var data []byte
	if gzipped {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return export.Artifact{}, fmt.Errorf("not a valid gzip stream: %w", err)
		}
		defer gr.Close()
		data, err = io.ReadAll(gr)
		if err != nil {
			return export.Artifact{}, fmt.Errorf("decompressing gzip: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return export.Artifact{}, err
		}
	}

	var a export.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return export.Artifact{}, fmt.Errorf("not valid JSON: %w", err)
	}
	if a.Version != "export_v2" {
		return export.Artifact{}, fmt.Errorf("top-level version is %q, not export_v2", a.Version)
	}
	return a, nil
}

// Marshal renders m as manifest_v1 JSON.
func Marshal(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
