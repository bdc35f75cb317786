// Package export serializes a processed raster into the exported elevation
// JSON artifact and its paired border file, both gzip-compressed by
// default.
package export

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mumuon/demregion/internal/raster"
)

// jsonBounds gives raster.Bounds the lowercase field names the exported
// schema requires (raster.Bounds itself carries none, since internal
// callers never serialize it directly).
type jsonBounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

func toJSONBounds(b raster.Bounds) jsonBounds {
	return jsonBounds{West: b.West, South: b.South, East: b.East, North: b.North}
}

// Stats mirrors raster.Stats with the JSON field names the schema names.
type Stats struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	NonNullCount int     `json:"non_null_count"`
}

// Artifact is the canonical inter-process boundary document (spec §3).
type Artifact struct {
	Version     string       `json:"version"`
	RegionID    string       `json:"region_id"`
	Source      string       `json:"source"`
	ResolutionM int          `json:"resolution_m"`
	Bounds      jsonBounds   `json:"bounds"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Elevation   [][]*float64 `json:"elevation"`
	Stats       Stats        `json:"stats"`
}

// Meta is the non-raster metadata needed to build an Artifact.
type Meta struct {
	RegionID    string
	Source      string
	ResolutionM int
}

// BuildArtifact converts r into the exported JSON shape: row-major nested
// lists with NaN -> null, plus one-pass stats over finite pixels.
func BuildArtifact(r *raster.Raster, meta Meta) Artifact {
	elevation := make([][]*float64, r.Height)
	for row := 0; row < r.Height; row++ {
		rowOut := make([]*float64, r.Width)
		for col := 0; col < r.Width; col++ {
			if r.IsNaNAt(row, col) {
				continue // leave nil -> JSON null
			}
			v := float64(r.At(row, col))
			rowOut[col] = &v
		}
		elevation[row] = rowOut
	}

	s := r.ComputeStats()
	return Artifact{
		Version:     "export_v2",
		RegionID:    meta.RegionID,
		Source:      meta.Source,
		ResolutionM: meta.ResolutionM,
		Bounds:      toJSONBounds(r.Bounds),
		Width:       r.Width,
		Height:      r.Height,
		Elevation:   elevation,
		Stats: Stats{
			Min:          s.Min,
			Max:          s.Max,
			Mean:         s.Mean,
			NonNullCount: s.NonNullCount,
		},
	}
}

// Marshal renders the artifact as both raw and gzip-compressed JSON. The
// export's sidecar records neither output filename.
func Marshal(a Artifact) (raw []byte, gz []byte, err error) {
	raw, err = json.Marshal(a)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling export artifact: %w", err)
	}
	gz, err = gzipBytes(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, gz, nil
}

// Segment is one closed ring of a border feature, lon/lat as parallel arrays.
type Segment struct {
	Lon []float64 `json:"lon"`
	Lat []float64 `json:"lat"`
}

// Feature is one named polygon's border, e.g. one country or state.
type Feature struct {
	Name     string    `json:"name"`
	Segments []Segment `json:"segments"`
}

// BorderType is the region kind the border document groups features under.
type BorderType string

const (
	BorderTypeCountry BorderType = "country"
	BorderTypeState   BorderType = "state"
	BorderTypeArea    BorderType = "area"
)

// BorderDocument is the border JSON file's content: a single
// "{type}s"-keyed array of features plus the raster's bounds.
type BorderDocument struct {
	Type     BorderType
	Features []Feature
	Bounds   raster.Bounds
}

func (d BorderDocument) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		string(d.Type) + "s": d.Features,
		"bounds":             toJSONBounds(d.Bounds),
	}
	return json.Marshal(m)
}

// FeatureFromPolygon flattens a (possibly multi-part) polygon into one
// Feature, one Segment per ring (exterior and holes alike — the viewer
// draws every ring regardless of winding).
func FeatureFromPolygon(name string, mp orb.MultiPolygon) Feature {
	var segments []Segment
	for _, poly := range mp {
		for _, ring := range poly {
			lon := make([]float64, len(ring))
			lat := make([]float64, len(ring))
			for i, p := range ring {
				lon[i] = p[0]
				lat[i] = p[1]
			}
			segments = append(segments, Segment{Lon: lon, Lat: lat})
		}
	}
	return Feature{Name: name, Segments: segments}
}

// MarshalBorders renders a BorderDocument as both raw and gzipped JSON.
func MarshalBorders(d BorderDocument) (raw []byte, gz []byte, err error) {
	raw, err = json.Marshal(d)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling border document: %w", err)
	}
	gz, err = gzipBytes(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, gz, nil
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip-compressing export: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
