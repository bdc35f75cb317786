package manifest

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mumuon/demregion/internal/export"
	"github.com/mumuon/demregion/internal/region"
)

func writeExportFile(t *testing.T, dir, name string, a export.Artifact, gzipped bool) {
	t.Helper()
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if !gzipped {
		if err := os.WriteFile(path, raw, 0644); err != nil {
			t.Fatal(err)
		}
		return
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	if _, err := gw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
}

func testRegistry(t *testing.T) *region.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.json")
	contents := `{"regions": [
		{"region_id": "usa-tennessee", "display_name": "Tennessee", "bounds": {"west":-90.31,"south":34.98,"east":-81.65,"north":36.68}, "region_type": "usa_state", "country": "United States of America", "subdivision": "Tennessee"}
	]}`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	reg, err := region.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestBuild_AcceptsValidExport(t *testing.T) {
	dir := t.TempDir()
	a := export.Artifact{Version: "export_v2", RegionID: "usa-tennessee", Width: 10, Height: 2}
	writeExportFile(t, dir, "usa-tennessee_dem30m_global_1000px_v2.json", a, false)

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	entry, ok := m.Regions["usa-tennessee"]
	if !ok {
		t.Fatal("expected usa-tennessee in manifest")
	}
	if entry.DisplayName != "Tennessee" || entry.RegionType != "usa_state" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestBuild_RejectsWrongVersion(t *testing.T) {
	dir := t.TempDir()
	a := export.Artifact{Version: "export_v1", RegionID: "usa-tennessee"}
	writeExportFile(t, dir, "usa-tennessee_dem30m_global_1000px_v2.json", a, false)

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := m.Regions["usa-tennessee"]; ok {
		t.Fatal("expected region with wrong version string to be excluded")
	}
}

func TestBuild_IgnoresBorderFiles(t *testing.T) {
	dir := t.TempDir()
	a := export.Artifact{Version: "export_v2", RegionID: "usa-tennessee"}
	writeExportFile(t, dir, "usa-tennessee_dem30m_global_1000px_v2_borders.json", a, false)

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.Regions) != 0 {
		t.Fatalf("expected border file to never be treated as an export candidate, got %d regions", len(m.Regions))
	}
}

func TestBuild_PicksNewestOnDuplicates(t *testing.T) {
	dir := t.TempDir()
	older := export.Artifact{Version: "export_v2", RegionID: "usa-tennessee", Width: 1}
	newer := export.Artifact{Version: "export_v2", RegionID: "usa-tennessee", Width: 2}

	writeExportFile(t, dir, "usa-tennessee_dem30m_global_500px_v2.json", older, false)
	if err := os.Chtimes(filepath.Join(dir, "usa-tennessee_dem30m_global_500px_v2.json"), time.Unix(1000, 0), time.Unix(1000, 0)); err != nil {
		t.Fatal(err)
	}

	writeExportFile(t, dir, "usa-tennessee_dem30m_global_1000px_v2.json", newer, false)
	if err := os.Chtimes(filepath.Join(dir, "usa-tennessee_dem30m_global_1000px_v2.json"), time.Unix(2000, 0), time.Unix(2000, 0)); err != nil {
		t.Fatal(err)
	}

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Regions["usa-tennessee"].Width != 2 {
		t.Fatalf("expected newest (width=2) to win, got width=%d", m.Regions["usa-tennessee"].Width)
	}
}

func TestBuild_GzippedCandidate(t *testing.T) {
	dir := t.TempDir()
	a := export.Artifact{Version: "export_v2", RegionID: "usa-tennessee", Width: 5}
	writeExportFile(t, dir, "usa-tennessee_dem30m_global_1000px_v2.json.gz", a, true)

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Regions["usa-tennessee"].Width != 5 {
		t.Fatalf("expected gzipped candidate to be read, got %+v", m.Regions["usa-tennessee"])
	}
}

// TestBuild_OldFileMissingVersionLosesToValidExport mirrors spec's worked
// example S6: a directory containing both a stale file with no version
// field and a valid export_v2 file for the same region. The v2 file must
// win and the old file must never be selected, even though it doesn't match
// the canonical {region_id}_{dataset}_{pixels}px_v2.json naming shape.
func TestBuild_OldFileMissingVersionLosesToValidExport(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "region_X_old.json"), []byte(`{"width": 999}`), 0644); err != nil {
		t.Fatal(err)
	}
	valid := export.Artifact{Version: "export_v2", RegionID: "usa-tennessee", Width: 10}
	writeExportFile(t, dir, "usa-tennessee_dem30m_global_1000px_v2.json", valid, false)

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	entry, ok := m.Regions["usa-tennessee"]
	if !ok {
		t.Fatal("expected usa-tennessee in manifest despite stale sibling file")
	}
	if entry.Width != 10 {
		t.Fatalf("expected the valid v2 file to win, got %+v", entry)
	}
}

// TestBuild_LoneOldFileProducesNoRegion covers the second half of S6: if
// only the stale file exists (no valid v2 sibling), the region is simply
// absent from the manifest rather than causing Build to fail outright — the
// stale file becomes a candidate (so its rejection is observable via a log
// warning) but never an entry.
func TestBuild_LoneOldFileProducesNoRegion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "region_X_old.json"), []byte(`{"width": 999}`), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.Regions) != 0 {
		t.Fatalf("expected no regions from a lone stale file, got %+v", m.Regions)
	}
}

// TestBuild_IgnoresItsOwnPriorOutput guards against Build treating a
// previously written manifest.json (which sits in the very directory it
// scans) as an export candidate on a later regenerate-manifest run.
func TestBuild_IgnoresItsOwnPriorOutput(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"version":"manifest_v1","regions":{}}`), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.Regions) != 0 {
		t.Fatalf("expected manifest.json to never become a candidate, got %+v", m.Regions)
	}
}

func TestBuild_SkipsRegionNotInRegistry(t *testing.T) {
	dir := t.TempDir()
	a := export.Artifact{Version: "export_v2", RegionID: "ghost-region"}
	writeExportFile(t, dir, "ghost-region_dem30m_global_1000px_v2.json", a, false)

	m, err := Build(dir, testRegistry(t), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := m.Regions["ghost-region"]; ok {
		t.Fatal("expected region absent from registry to be excluded from manifest")
	}
}
