// Package orchestrator fetches every tile a resolution plan names,
// sequentially and through the shared tile cache, then merges them into a
// single contiguous raster covering the caller's bounds.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	"github.com/mumuon/demregion/internal/pipeerr"
	"github.com/mumuon/demregion/internal/raster"
	"github.com/mumuon/demregion/internal/resolution"
	"github.com/mumuon/demregion/internal/tilecache"
	"github.com/mumuon/demregion/internal/tilegrid"
)

// FetchError is the error shape the downloader contract returns (spec §6).
type FetchError struct {
	Retryable bool
	Cause     string
}

func (e *FetchError) Error() string { return e.Cause }

// Downloader is the external collaborator that fetches one tile's worth of
// DEM data. It must write a valid GeoTIFF at EPSG:4326 covering bounds to
// destPath; bounds is always exactly a tile's 1-degree cell.
type Downloader interface {
	Fetch(ctx context.Context, dataset tilegrid.Dataset, bounds tilegrid.Bounds, destPath string) error
}

// Options tunes retry/backpressure behavior.
type Options struct {
	MaxRetries           int
	MinIntervalPerDataset map[tilegrid.Dataset]time.Duration
}

// DefaultOptions matches the spec's defaults (§6.2: 5 retries, no rate limit).
func DefaultOptions() Options {
	return Options{MaxRetries: 5, MinIntervalPerDataset: map[tilegrid.Dataset]time.Duration{}}
}

// Run fetches every tile in plan (sequentially, deterministic order,
// cache-first) and merges the results into one raster covering bounds.
// regionID is carried only for error context.
func Run(ctx context.Context, cache *tilecache.Cache, downloader Downloader, plan *resolution.Plan, bounds tilegrid.Bounds, regionID string, opts Options) (*raster.Raster, error) {
	ids := append([]tilegrid.ID(nil), plan.SourceTiles...)
	sort.Slice(ids, func(i, j int) bool { return tilegrid.Less(ids[i], ids[j]) })

	logger := slog.With("component", "orchestrator", "region", regionID, "dataset", plan.Dataset, "tiles", len(ids))
	logger.Info("fetching tiles")

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cache.Has(id, plan.Dataset) {
			continue
		}
		if err := fetchOne(ctx, cache, downloader, id, plan.Dataset, opts); err != nil {
			return nil, pipeerr.New(pipeerr.TileDownloadFailed, regionID, "orchestrator", err).WithUpstream(cache.Path(id, plan.Dataset))
		}
	}

	return merge(cache, ids, plan.Dataset, bounds, regionID)
}

func fetchOne(ctx context.Context, cache *tilecache.Cache, downloader Downloader, id tilegrid.ID, dataset tilegrid.Dataset, opts Options) error {
	scratch := cache.Path(id, dataset) + ".download"
	defer os.Remove(scratch)

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if interval := opts.MinIntervalPerDataset[dataset]; interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		err := downloader.Fetch(ctx, dataset, tilegrid.BoundsOf(id), scratch)
		if err == nil {
			r, readErr := raster.ReadGeoTIFF(scratch)
			if readErr != nil {
				lastErr = fmt.Errorf("downloaded tile failed to parse as GeoTIFF: %w", readErr)
				continue
			}
			return cache.Store(id, dataset, r)
		}

		lastErr = err
		var fe *FetchError
		if errors.As(err, &fe) && !fe.Retryable {
			break
		}
	}
	return lastErr
}

// merge reads every already-cached tile and composites it into a single
// raster at the tiles' native pixel size, covering exactly bounds (not the
// tile union).
func merge(cache *tilecache.Cache, ids []tilegrid.ID, dataset tilegrid.Dataset, bounds tilegrid.Bounds, regionID string) (*raster.Raster, error) {
	if len(ids) == 0 {
		return nil, pipeerr.New(pipeerr.TileDownloadFailed, regionID, "orchestrator", fmt.Errorf("resolution plan named zero tiles"))
	}

	tiles := make([]*raster.Raster, len(ids))
	for i, id := range ids {
		r, err := cache.Load(id, dataset)
		if err != nil {
			return nil, pipeerr.New(pipeerr.TileCorrupt, regionID, "orchestrator", err).WithUpstream(cache.Path(id, dataset))
		}
		tiles[i] = r
	}

	dx, dy := tiles[0].PixelSize()
	width := int(math.Round((bounds.East - bounds.West) / dx))
	height := int(math.Round((bounds.North - bounds.South) / dy))
	if width <= 0 || height <= 0 {
		return nil, pipeerr.New(pipeerr.InvalidBounds, regionID, "orchestrator", fmt.Errorf("merged raster would be %dx%d", width, height))
	}

	out := raster.New(width, height, bounds)
	for _, t := range tiles {
		for row := 0; row < t.Height; row++ {
			for col := 0; col < t.Width; col++ {
				lon, lat := t.CellCenter(row, col)
				if lon < bounds.West || lon >= bounds.East || lat < bounds.South || lat >= bounds.North {
					continue
				}
				mc := int((lon - bounds.West) / dx)
				mr := int((bounds.North - lat) / dy)
				if mc < 0 || mc >= width || mr < 0 || mr >= height {
					continue
				}
				out.Set(mr, mc, t.At(row, col))
			}
		}
	}
	return out, nil
}

// ContributingTileNames renders the filenames for a raw-stage sidecar.
func ContributingTileNames(ids []tilegrid.ID, dataset tilegrid.Dataset) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = tilegrid.Filename(id, dataset)
	}
	return names
}
