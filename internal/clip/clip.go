// Package clip masks a merged raster to a boundary polygon and tight-crops
// it to the polygon's pixel footprint.
package clip

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/mumuon/demregion/internal/boundary"
	"github.com/mumuon/demregion/internal/pipeerr"
	"github.com/mumuon/demregion/internal/raster"
)

// Clip masks r to polygon (even-odd rule, pixel-center test per DESIGN.md
// Open Question 1), then crops away every all-NaN leading/trailing row and
// column so the result's aspect ratio matches the polygon's real-world
// footprint, not the merged raster's.
func Clip(r *raster.Raster, polygon orb.MultiPolygon, regionID string) (*raster.Raster, error) {
	bbox := polygonBound(polygon)
	if !boundsContain(r.Bounds, bbox) {
		return nil, pipeerr.New(pipeerr.ClippingMisaligned, regionID, "clip", fmt.Errorf("polygon bounding box %+v not contained in raster bounds %+v", bbox, r.Bounds))
	}

	masked := raster.New(r.Width, r.Height, r.Bounds)
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			if r.IsNaNAt(row, col) {
				continue
			}
			lon, lat := r.CellCenter(row, col)
			if boundary.Contains(polygon, orb.Point{lon, lat}) {
				masked.Set(row, col, r.At(row, col))
			}
		}
	}

	cropped, err := cropToFootprint(masked)
	if err != nil {
		return nil, pipeerr.New(pipeerr.ClippingEmpty, regionID, "clip", err)
	}
	return cropped, nil
}

func polygonBound(mp orb.MultiPolygon) orb.Bound {
	b := orb.Bound{Min: orb.Point{math.MaxFloat64, math.MaxFloat64}, Max: orb.Point{-math.MaxFloat64, -math.MaxFloat64}}
	for _, poly := range mp {
		for _, ring := range poly {
			for _, p := range ring {
				b = b.Extend(p)
			}
		}
	}
	return b
}

func boundsContain(outer raster.Bounds, inner orb.Bound) bool {
	const slack = 0.5 // spec §6: boundary catalog bounding boxes may be inflated up to 0.5 degrees.
	return inner.Min[0] >= outer.West-slack &&
		inner.Max[0] <= outer.East+slack &&
		inner.Min[1] >= outer.South-slack &&
		inner.Max[1] <= outer.North+slack
}

// cropToFootprint removes all-NaN leading/trailing rows and columns.
func cropToFootprint(r *raster.Raster) (*raster.Raster, error) {
	rowStart := 0
	for rowStart < r.Height && r.RowAllNaN(rowStart) {
		rowStart++
	}
	rowEnd := r.Height
	for rowEnd > rowStart && r.RowAllNaN(rowEnd-1) {
		rowEnd--
	}
	colStart := 0
	for colStart < r.Width && r.ColAllNaN(colStart) {
		colStart++
	}
	colEnd := r.Width
	for colEnd > colStart && r.ColAllNaN(colEnd-1) {
		colEnd--
	}

	if rowStart >= rowEnd || colStart >= colEnd {
		return nil, fmt.Errorf("clipped raster is empty: polygon and raster do not overlap")
	}
	return r.Crop(rowStart, rowEnd, colStart, colEnd), nil
}
