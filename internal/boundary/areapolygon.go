package boundary

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"

	"github.com/mumuon/demregion/internal/pipeerr"
)

// ringJSON is one polygon ring as parallel lon/lat arrays, the same shape
// the export package's border Segment uses, so an Area region's hand-authored
// polygon file can be produced by the same tooling that inspects exported
// borders.
type ringJSON struct {
	Lon []float64 `json:"lon"`
	Lat []float64 `json:"lat"`
}

// areaPolygonFile is the on-disk shape of an Area region's polygon_file: one
// or more closed rings forming a single polygon, the first ring being the
// exterior and any later rings holes.
type areaPolygonFile struct {
	Rings []ringJSON `json:"rings"`
}

// LoadAreaPolygon reads an Area region's polygon_file (spec §3's
// region-specific polygon, format left to this pipeline to define since
// neither the Area region shape nor the original source constrains it) and
// returns it as a single-polygon MultiPolygon with one ring per entry.
func LoadAreaPolygon(path string) (orb.MultiPolygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeerr.New(pipeerr.BoundaryNotFound, "", "boundary", fmt.Errorf("reading area polygon file %s: %w", path, err))
	}
	var apf areaPolygonFile
	if err := json.Unmarshal(data, &apf); err != nil {
		return nil, pipeerr.New(pipeerr.BoundaryNotFound, "", "boundary", fmt.Errorf("parsing area polygon file %s: %w", path, err))
	}
	if len(apf.Rings) == 0 {
		return nil, pipeerr.New(pipeerr.BoundaryNotFound, "", "boundary", fmt.Errorf("area polygon file %s has no rings", path))
	}

	poly := make(orb.Polygon, 0, len(apf.Rings))
	for i, rj := range apf.Rings {
		if len(rj.Lon) != len(rj.Lat) || len(rj.Lon) < 3 {
			return nil, pipeerr.New(pipeerr.BoundaryNotFound, "", "boundary", fmt.Errorf("area polygon file %s: ring %d has mismatched or too few points", path, i))
		}
		ring := make(orb.Ring, len(rj.Lon))
		for j := range rj.Lon {
			ring[j] = orb.Point{rj.Lon[j], rj.Lat[j]}
		}
		poly = append(poly, ring)
	}
	return orb.MultiPolygon{poly}, nil
}
