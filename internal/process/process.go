// Package process downsamples a clipped raster to a target maximum
// dimension, preserving aspect ratio by using one stride for both axes.
package process

import (
	"fmt"
	"math"

	"github.com/mumuon/demregion/internal/pipeerr"
	"github.com/mumuon/demregion/internal/raster"
)

// aspectRatioDriftTolerance is the self-check threshold (spec §4.7).
const aspectRatioDriftTolerance = 0.01

// Downsample strides c by step = max(1, ceil(max(W,H)/targetMaxDimension)),
// taking every step-th pixel on both axes (nearest-neighbor-equivalent),
// preserving NaN exactly.
func Downsample(c *raster.Raster, targetMaxDimension int, regionID string) (*raster.Raster, error) {
	if targetMaxDimension <= 0 {
		return nil, pipeerr.New(pipeerr.InvalidBounds, regionID, "process", fmt.Errorf("target max dimension must be positive, got %d", targetMaxDimension))
	}

	maxDim := c.Width
	if c.Height > maxDim {
		maxDim = c.Height
	}
	step := int(math.Ceil(float64(maxDim) / float64(targetMaxDimension)))
	if step < 1 {
		step = 1
	}

	dx, dy := c.PixelSize()

	var rows, cols int
	for row := 0; row < c.Height; row += step {
		rows++
	}
	for col := 0; col < c.Width; col += step {
		cols++
	}

	result := raster.New(cols, rows, raster.Bounds{
		West:  c.Bounds.West,
		East:  c.Bounds.West + float64(cols)*dx*float64(step),
		North: c.Bounds.North,
		South: c.Bounds.North - float64(rows)*dy*float64(step),
	})

	outRow := 0
	for row := 0; row < c.Height; row += step {
		outCol := 0
		for col := 0; col < c.Width; col += step {
			result.Set(outRow, outCol, c.At(row, col))
			outCol++
		}
		outRow++
	}

	wantRatio := float64(c.Width) / float64(c.Height)
	gotRatio := float64(result.Width) / float64(result.Height)
	if math.Abs(wantRatio-gotRatio) > aspectRatioDriftTolerance {
		return nil, pipeerr.New(pipeerr.AspectRatioDrift, regionID, "process", fmt.Errorf("input aspect ratio %.4f, output %.4f", wantRatio, gotRatio))
	}

	return result, nil
}
