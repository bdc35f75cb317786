// Package resolution implements the Nyquist-safe dataset-selection policy.
// Pure: no I/O, no package state.
package resolution

import (
	"fmt"
	"math"

	"github.com/mumuon/demregion/internal/pipeerr"
	"github.com/mumuon/demregion/internal/region"
	"github.com/mumuon/demregion/internal/tilegrid"
)

// earthRadiusM is used for the center-latitude east-west extent correction.
const earthRadiusM = 6371000.0
const degToRad = math.Pi / 180.0

// resolution in meters per native pixel, by dataset.
var nativeResolutionM = map[tilegrid.Dataset]int{
	tilegrid.DatasetUSA10m:    10,
	tilegrid.DatasetGlobal30m: 30,
	tilegrid.DatasetPolar30m:  30,
	tilegrid.DatasetGlobal90m: 90,
	tilegrid.DatasetPolar90m:  90,
}

// polarLatitudeThreshold is the latitude beyond which the polar dataset
// variant is used (spec §4.4: "beyond ±60°").
const polarLatitudeThreshold = 60.0

// Plan is the pure output of resolution selection: the dataset to fetch,
// the tiles covering bounds at that dataset, and the resolution the merge
// will actually produce.
type Plan struct {
	Dataset               tilegrid.Dataset
	SourceTiles           []tilegrid.ID
	ExpectedMergedResM    int
}

// visibleMetersPerPixel computes geographic_extent_m / output_pixels,
// correcting the east-west axis by the cosine of the center latitude.
func visibleMetersPerPixel(b tilegrid.Bounds, outputPixelsX, outputPixelsY int) float64 {
	centerLat := (b.South + b.North) / 2
	nsExtentM := (b.North - b.South) * degToRad * earthRadiusM
	ewExtentM := (b.East - b.West) * degToRad * earthRadiusM * math.Cos(centerLat*degToRad)

	nsPerPixel := nsExtentM / float64(outputPixelsY)
	ewPerPixel := ewExtentM / float64(outputPixelsX)
	// The binding constraint is whichever axis is coarser per output pixel.
	return math.Max(nsPerPixel, ewPerPixel)
}

// isPolar reports whether a bounding box falls in polar territory: beyond
// ±60° latitude, or a USA-Alaska region (identified by the region carrying
// subdivision "Alaska" — the only signal available without an external
// gazetteer, per spec §4.4's "or USA-Alaska" carve-out).
func isPolar(b tilegrid.Bounds, r region.Region) bool {
	if b.South >= polarLatitudeThreshold || b.North <= -polarLatitudeThreshold {
		return true
	}
	if math.Abs(b.South) >= polarLatitudeThreshold || math.Abs(b.North) >= polarLatitudeThreshold {
		return true
	}
	return r.RegionType == region.UsaState && r.Subdivision == "Alaska"
}

// ComputePlan selects a dataset and its covering tiles for a region at a
// target output pixel count, enforcing strict 2x Nyquist oversampling.
func ComputePlan(b tilegrid.Bounds, outputPixelsX, outputPixelsY int, r region.Region) (*Plan, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if outputPixelsX <= 0 || outputPixelsY <= 0 {
		return nil, pipeerr.New(pipeerr.InvalidBounds, r.RegionID, "resolution", fmt.Errorf("output pixel dimensions must be positive, got %dx%d", outputPixelsX, outputPixelsY))
	}

	visible := visibleMetersPerPixel(b, outputPixelsX, outputPixelsY)
	polar := isPolar(b, r)

	var nativeM int
	switch {
	case visible >= 180:
		nativeM = 90
	case visible >= 60:
		nativeM = 30
	case visible >= 20:
		if r.RegionType != region.UsaState {
			return nil, pipeerr.New(pipeerr.ResolutionUnavailable, r.RegionID, "resolution", fmt.Errorf("visible_m_per_pixel=%.2f needs 10m but region is not UsaState", visible))
		}
		nativeM = 10
	default:
		return nil, pipeerr.New(pipeerr.ResolutionUnavailable, r.RegionID, "resolution", fmt.Errorf("visible_m_per_pixel=%.2f is below Nyquist even at 10m", visible))
	}

	// USA-Alaska at 10m falls through to 30m polar (spec §4.4).
	if nativeM == 10 && polar {
		nativeM = 30
	}

	dataset, err := selectDataset(nativeM, polar, r.RegionType)
	if err != nil {
		return nil, pipeerr.New(pipeerr.ResolutionUnavailable, r.RegionID, "resolution", err)
	}

	tiles, err := tilegrid.TilesForBounds(b)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Dataset:            dataset,
		SourceTiles:        tiles,
		ExpectedMergedResM: nativeResolutionM[dataset],
	}, nil
}

func selectDataset(nativeM int, polar bool, rt region.Type) (tilegrid.Dataset, error) {
	switch nativeM {
	case 10:
		if rt != region.UsaState {
			return "", fmt.Errorf("10m dataset only available for UsaState regions")
		}
		return tilegrid.DatasetUSA10m, nil
	case 30:
		if polar {
			return tilegrid.DatasetPolar30m, nil
		}
		return tilegrid.DatasetGlobal30m, nil
	case 90:
		if polar {
			return tilegrid.DatasetPolar90m, nil
		}
		return tilegrid.DatasetGlobal90m, nil
	default:
		return "", fmt.Errorf("no dataset for native resolution %dm", nativeM)
	}
}
