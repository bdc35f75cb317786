// Package tilegrid implements the 1-degree integer-aligned tile math: naming,
// bounds, and the set of tiles covering an arbitrary bounding box. Pure
// functions only, no I/O.
package tilegrid

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/mumuon/demregion/internal/pipeerr"
)

// Dataset is one of the fixed DEM provider/resolution tags.
type Dataset string

const (
	DatasetUSA10m      Dataset = "dem10m_usa"
	DatasetGlobal30m   Dataset = "dem30m_global"
	DatasetPolar30m    Dataset = "dem30m_polar"
	DatasetGlobal90m   Dataset = "dem90m_global"
	DatasetPolar90m    Dataset = "dem90m_polar"
)

// ID names the southwest corner of a 1-degree cell; the dataset is carried
// separately (see Filename). Tiles are immutable once written.
type ID struct {
	LatSW int
	LonSW int
}

// Bounds is an axis-aligned rectangle in degrees.
type Bounds struct {
	West, South, East, North float64
}

var filenamePattern = regexp.MustCompile(`^tile_([NS])(\d{2})_([EW])(\d{3})_(.+)\.tif$`)

// Validate checks lat/lon ranges and finiteness per spec §4.1.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.West, b.South, b.East, b.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return pipeerr.New(pipeerr.InvalidCoordinate, "", "tilegrid", fmt.Errorf("non-finite bound: %v", v))
		}
	}
	if b.South < -90 || b.South > 90 || b.North < -90 || b.North > 90 {
		return pipeerr.New(pipeerr.InvalidCoordinate, "", "tilegrid", fmt.Errorf("latitude out of [-90,90]: south=%v north=%v", b.South, b.North))
	}
	if b.West < -180 || b.West > 180 || b.East < -180 || b.East > 180 {
		return pipeerr.New(pipeerr.InvalidCoordinate, "", "tilegrid", fmt.Errorf("longitude out of [-180,180]: west=%v east=%v", b.West, b.East))
	}
	if b.West > b.East {
		return pipeerr.New(pipeerr.InvalidBounds, "", "tilegrid", fmt.Errorf("bounds cross the antimeridian (west=%v > east=%v): unsupported", b.West, b.East))
	}
	if b.South > b.North {
		return pipeerr.New(pipeerr.InvalidBounds, "", "tilegrid", fmt.Errorf("south (%v) > north (%v)", b.South, b.North))
	}
	return nil
}

// floorCoord computes the SW-corner coordinate: math.Floor uniformly. See
// DESIGN.md for why this departs from a literal reading of "trunc for
// negative values" — trunc would round a negative fractional coordinate
// toward zero (e.g. -90.31 -> -90) instead of toward the southwest
// (-90.31 -> -91), which breaks the half-open tile coverage invariant for
// every non-integer negative bound.
func floorCoord(v float64) int {
	return int(math.Floor(v))
}

// TilesForBounds computes every 1-degree cell whose interior intersects
// bounds, using half-open intervals [lat_sw, lat_sw+1) so that a bound
// exactly coincident with a tile edge selects the tile to the east/north.
func TilesForBounds(b Bounds) ([]ID, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	latStart := floorCoord(b.South)
	latEnd := floorCoord(b.North)
	// A north bound exactly on an integer parallel belongs to the tile to
	// the north per the half-open rule; if it happens to equal the floor of
	// itself (i.e. North is an integer), the last cell touched is North-1,
	// not North, unless North == South (a degenerate, zero-height box).
	if b.North > b.South && float64(latEnd) == b.North {
		latEnd--
	}

	lonStart := floorCoord(b.West)
	lonEnd := floorCoord(b.East)
	if b.East > b.West && float64(lonEnd) == b.East {
		lonEnd--
	}

	var ids []ID
	for lat := latStart; lat <= latEnd; lat++ {
		for lon := lonStart; lon <= lonEnd; lon++ {
			ids = append(ids, ID{LatSW: lat, LonSW: lon})
		}
	}
	return ids, nil
}

// BoundsOf is the inverse of the SW-corner math: the exact 1x1 degree cell
// named by id.
func BoundsOf(id ID) Bounds {
	return Bounds{
		West:  float64(id.LonSW),
		South: float64(id.LatSW),
		East:  float64(id.LonSW + 1),
		North: float64(id.LatSW + 1),
	}
}

// Filename renders the canonical tile_{N|S}{lat:02d}_{E|W}{lon:03d}_{dataset}.tif name.
func Filename(id ID, d Dataset) string {
	latLetter, latAbs := "N", id.LatSW
	if id.LatSW < 0 {
		latLetter, latAbs = "S", -id.LatSW
	}
	lonLetter, lonAbs := "E", id.LonSW
	if id.LonSW < 0 {
		lonLetter, lonAbs = "W", -id.LonSW
	}
	return fmt.Sprintf("tile_%s%02d_%s%03d_%s.tif", latLetter, latAbs, lonLetter, lonAbs, d)
}

// ParseFilename is the strict inverse of Filename: it rejects anything not
// matching the grammar rather than guessing.
func ParseFilename(name string) (ID, Dataset, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return ID{}, "", false
	}
	latLetter, latDigits, lonLetter, lonDigits, dataset := m[1], m[2], m[3], m[4], m[5]

	lat, err := strconv.Atoi(latDigits)
	if err != nil {
		return ID{}, "", false
	}
	lon, err := strconv.Atoi(lonDigits)
	if err != nil {
		return ID{}, "", false
	}
	if latLetter == "S" {
		lat = -lat
	}
	if lonLetter == "W" {
		lon = -lon
	}
	return ID{LatSW: lat, LonSW: lon}, Dataset(dataset), true
}

// Less provides the deterministic (lat_sw, lon_sw) ordering the orchestrator
// fetches tiles in (spec §5).
func Less(a, b ID) bool {
	if a.LatSW != b.LatSW {
		return a.LatSW < b.LatSW
	}
	return a.LonSW < b.LonSW
}
