package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/mumuon/demregion/internal/tilegrid"
)

// Paths centralizes the fixed filesystem layout (spec §6) relative to a
// single configurable root: {root}/data/... and {root}/exports/regions/...
type Paths struct {
	Root string
}

func (p Paths) dataDir() string {
	return filepath.Join(p.Root, "data")
}

// TileCacheRoot is the root tilecache.New expects: it appends "raw" itself.
func (p Paths) TileCacheRoot() string {
	return p.dataDir()
}

func (p Paths) MergedPath(dataset tilegrid.Dataset, regionID string) string {
	return filepath.Join(p.dataDir(), "merged", string(dataset), regionID+".tif")
}

func (p Paths) ClippedPath(dataset tilegrid.Dataset, regionID string) string {
	return filepath.Join(p.dataDir(), "clipped", string(dataset), regionID+".tif")
}

func (p Paths) ProcessedPath(dataset tilegrid.Dataset, regionID string, targetPixels int) string {
	return filepath.Join(p.dataDir(), "processed", string(dataset), fmt.Sprintf("%s_%dpx.tif", regionID, targetPixels))
}

func (p Paths) BoundaryCacheDir() string {
	return filepath.Join(p.dataDir(), "boundaries", ".cache")
}

// BoundaryShapefileDir is where an out-of-band process deposits the
// Natural Earth archives the boundary catalog reads; acquiring them is
// explicitly out of scope (spec.md §1 Non-goals).
func (p Paths) BoundaryShapefileDir() string {
	return filepath.Join(p.Root, "boundaries", "shapefiles")
}

func (p Paths) ExportsDir() string {
	return filepath.Join(p.Root, "exports", "regions")
}

func (p Paths) ExportPath(dataset tilegrid.Dataset, regionID string, targetPixels int) string {
	return filepath.Join(p.ExportsDir(), fmt.Sprintf("%s_%s_%dpx_v2.json", regionID, dataset, targetPixels))
}

func (p Paths) BordersPath(dataset tilegrid.Dataset, regionID string, targetPixels int) string {
	return filepath.Join(p.ExportsDir(), fmt.Sprintf("%s_%s_%dpx_v2_borders.json", regionID, dataset, targetPixels))
}

func (p Paths) ManifestPath() string {
	return filepath.Join(p.ExportsDir(), "manifest.json")
}
