package region

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mumuon/demregion/internal/pipeerr"
)

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.json")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidRegistry(t *testing.T) {
	path := writeRegistry(t, `{
		"regions": [
			{
				"region_id": "usa-tennessee",
				"display_name": "Tennessee",
				"bounds": {"west": -90.31, "south": 34.98, "east": -81.65, "north": 36.68},
				"region_type": "usa_state",
				"country": "United States of America",
				"subdivision": "Tennessee"
			},
			{
				"region_id": "usa-tennessee-smokies",
				"display_name": "Great Smoky Mountains National Park",
				"bounds": {"west": -83.77, "south": 35.43, "east": -83.08, "north": 35.81},
				"region_type": "area",
				"parent_region_id": "usa-tennessee",
				"polygon_file": "boundaries/areas/great-smoky-mountains.geojson"
			}
		]
	}`)

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg.List()) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(reg.List()))
	}

	tn, err := reg.Get("usa-tennessee")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tn.RegionType != UsaState || tn.Subdivision != "Tennessee" {
		t.Fatalf("unexpected region: %+v", tn)
	}
}

func TestLoad_UnknownRegionTypeFails(t *testing.T) {
	path := writeRegistry(t, `{"regions": [{"region_id": "x", "bounds": {"west":0,"south":0,"east":1,"north":1}, "region_type": "planet"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown region_type")
	}
}

func TestLoad_AreaMissingPolygonFileFails(t *testing.T) {
	path := writeRegistry(t, `{"regions": [{"region_id": "x", "bounds": {"west":0,"south":0,"east":1,"north":1}, "region_type": "area", "parent_region_id": "p"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for area region missing polygon_file")
	}
}

func TestLoad_DuplicateRegionIDFails(t *testing.T) {
	path := writeRegistry(t, `{"regions": [
		{"region_id": "dup", "bounds": {"west":0,"south":0,"east":1,"north":1}, "region_type": "country", "country": "X"},
		{"region_id": "dup", "bounds": {"west":0,"south":0,"east":1,"north":1}, "region_type": "country", "country": "Y"}
	]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate region_id")
	}
}

func TestGet_UnknownRegionID(t *testing.T) {
	path := writeRegistry(t, `{"regions": []}`)
	reg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = reg.Get("nonexistent")
	if !errors.Is(err, pipeerr.KindError(pipeerr.UnknownRegion)) {
		t.Fatalf("expected UnknownRegion, got %v", err)
	}
}
