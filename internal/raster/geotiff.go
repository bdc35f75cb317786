package raster

import (
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"
)

var registerOnce sync.Once

func ensureDriversRegistered() {
	registerOnce.Do(godal.RegisterAll)
}

// ReadGeoTIFF decodes a single-band float32 GeoTIFF at EPSG:4326, normalizing
// the provider's no-data sentinel (if any) to NaN so every consumer downstream
// of tile I/O only ever has to deal with one "missing" representation.
func ReadGeoTIFF(path string) (*Raster, error) {
	ensureDriversRegistered()

	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer ds.Close()

	structure := ds.Structure()
	if structure.NBands < 1 {
		return nil, fmt.Errorf("%s: no raster bands", path)
	}

	bands := ds.Bands()
	band := bands[0]

	width, height := structure.SizeX, structure.SizeY
	buf := make([]float32, width*height)
	if err := band.Read(0, 0, buf, width, height); err != nil {
		return nil, fmt.Errorf("reading pixels from %s: %w", path, err)
	}

	noData, hasNoData := band.NoData()
	if hasNoData {
		sentinel := float32(noData)
		for i, v := range buf {
			if v == sentinel {
				buf[i] = float32(math.NaN())
			}
		}
	}

	gt := ds.GeoTransform()
	originX, pixelW, originY, pixelH := gt[0], gt[1], gt[3], gt[5]
	west := originX
	north := originY
	east := originX + pixelW*float64(width)
	south := originY + pixelH*float64(height) // pixelH is negative for north-up rasters

	return &Raster{
		Data:   buf,
		Width:  width,
		Height: height,
		Bounds: Bounds{West: west, South: south, East: east, North: north},
	}, nil
}

// WriteGeoTIFF encodes r as a single-band float32 GeoTIFF at EPSG:4326, using
// NaN as the no-data sentinel (GeoTIFF's NaN no-data support is what every
// downstream reader, including ReadGeoTIFF above, expects).
func WriteGeoTIFF(path string, r *Raster) error {
	ensureDriversRegistered()

	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float32, r.Width, r.Height)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer ds.Close()

	sref, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return fmt.Errorf("building EPSG:4326 spatial reference: %w", err)
	}
	defer sref.Close()
	if err := ds.SetSpatialRef(sref); err != nil {
		return fmt.Errorf("setting spatial reference on %s: %w", path, err)
	}

	dx, dy := r.PixelSize()
	if err := ds.SetGeoTransform([6]float64{
		r.Bounds.West, dx, 0,
		r.Bounds.North, 0, -dy,
	}); err != nil {
		return fmt.Errorf("setting geotransform on %s: %w", path, err)
	}

	bands := ds.Bands()
	band := bands[0]
	if err := band.SetNoData(float64(math.NaN())); err != nil {
		return fmt.Errorf("setting no-data on %s: %w", path, err)
	}
	if err := band.Write(0, 0, r.Data, r.Width, r.Height); err != nil {
		return fmt.Errorf("writing pixels to %s: %w", path, err)
	}

	return nil
}
