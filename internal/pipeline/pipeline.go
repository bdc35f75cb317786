// Package pipeline implements the Pipeline Controller: the component that
// wires region lookup, boundary query, resolution planning, tile
// orchestration, clipping, downsampling, and export into one run, honoring
// the hash-validation walk so a re-run only redoes stale stages.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"

	"github.com/mumuon/demregion/internal/artifact"
	"github.com/mumuon/demregion/internal/boundary"
	"github.com/mumuon/demregion/internal/clip"
	"github.com/mumuon/demregion/internal/export"
	"github.com/mumuon/demregion/internal/orchestrator"
	"github.com/mumuon/demregion/internal/pipeerr"
	"github.com/mumuon/demregion/internal/process"
	"github.com/mumuon/demregion/internal/raster"
	"github.com/mumuon/demregion/internal/region"
	"github.com/mumuon/demregion/internal/resolution"
	"github.com/mumuon/demregion/internal/runledger"
	"github.com/mumuon/demregion/internal/statusapi"
	"github.com/mumuon/demregion/internal/tilecache"
)

const earthRadiusM = 6371000.0
const degToRad = math.Pi / 180.0

// Controller owns the collaborators one ensure-region run needs. Ledger and
// Status may be nil; every call degrades to "advisory bookkeeping skipped"
// rather than failing the run (spec §9: correctness never depends on them).
type Controller struct {
	Paths      Paths
	Registry   *region.Registry
	Catalog    *boundary.Catalog
	Cache      *tilecache.Cache
	Downloader orchestrator.Downloader
	Ledger     *runledger.Ledger
	Status     *statusapi.Server
	Options    orchestrator.Options
}

// New builds a Controller. downloader is the caller's DEM tile source
// (directly, or wrapped by internal/tilemirror for a cache-mirror tier).
func New(paths Paths, registry *region.Registry, catalog *boundary.Catalog, downloader orchestrator.Downloader, ledger *runledger.Ledger, status *statusapi.Server) *Controller {
	return &Controller{
		Paths:      paths,
		Registry:   registry,
		Catalog:    catalog,
		Cache:      tilecache.New(paths.TileCacheRoot()),
		Downloader: downloader,
		Ledger:     ledger,
		Status:     status,
		Options:    orchestrator.DefaultOptions(),
	}
}

// Result reports what EnsureRegion produced.
type Result struct {
	RunID          string
	ExportPath     string
	ExportGzPath   string
	BordersPath    string
	BordersGzPath  string
	Skipped        bool // true when every stage was already current and nothing was recomputed
}

// boundaryTier picks the cartographic resolution tier to query (spec §4.3:
// "decorative... unrelated to DEM resolution" — the registry carries no
// field for it, so the controller derives one from the export's own target
// size: a small thumbnail export does not need 10m-accurate coastlines, and
// a large export benefits from them). See DESIGN.md Open Question 6.
func boundaryTier(targetPixels int) boundary.Tier {
	switch {
	case targetPixels <= 512:
		return boundary.TierCoarse110m
	case targetPixels <= 2048:
		return boundary.TierMedium50m
	default:
		return boundary.TierFine10m
	}
}

func borderType(rt region.Type) export.BorderType {
	switch rt {
	case region.Country:
		return export.BorderTypeCountry
	case region.UsaState:
		return export.BorderTypeState
	default:
		return export.BorderTypeArea
	}
}

func (c *Controller) regionPolygon(reg region.Region, tier boundary.Tier) (orb.MultiPolygon, error) {
	switch reg.RegionType {
	case region.Country:
		return c.Catalog.CountryPolygon(tier, reg.Country)
	case region.UsaState:
		return c.Catalog.StatePolygon(tier, reg.Subdivision, reg.Country)
	case region.Area:
		return boundary.LoadAreaPolygon(reg.PolygonFile)
	default:
		return nil, pipeerr.New(pipeerr.UnknownRegion, reg.RegionID, "pipeline", fmt.Errorf("unhandled region type %q", reg.RegionType))
	}
}

// outputDimensions splits target_pixels (the longer output side, spec §4.4)
// across both axes in proportion to the bounds' real-world aspect ratio.
func outputDimensions(b region.Region, targetPixels int) (x, y int) {
	centerLat := (b.Bounds.South + b.Bounds.North) / 2
	nsExtentM := (b.Bounds.North - b.Bounds.South) * degToRad * earthRadiusM
	ewExtentM := (b.Bounds.East - b.Bounds.West) * degToRad * earthRadiusM * math.Cos(centerLat*degToRad)

	if ewExtentM <= 0 || nsExtentM <= 0 {
		return targetPixels, targetPixels
	}

	aspect := ewExtentM / nsExtentM
	if aspect >= 1 {
		x = targetPixels
		y = int(math.Round(float64(targetPixels) / aspect))
	} else {
		y = targetPixels
		x = int(math.Round(float64(targetPixels) * aspect))
	}
	if x < 1 {
		x = 1
	}
	if y < 1 {
		y = 1
	}
	return x, y
}

// stageFresh reports whether outputPath's sidecar names wantVersion, carries
// the expected upstream path, and that upstream hasn't changed since
// (spec §4.9's hash-validation walk).
func stageFresh(outputPath string, wantVersion artifact.Version, upstreamPath string) bool {
	if _, err := os.Stat(outputPath); err != nil {
		return false
	}
	m, err := artifact.Read(outputPath)
	if err != nil || m.Version != wantVersion {
		return false
	}
	if m.SourceFilePath != upstreamPath {
		return false
	}
	return artifact.UpstreamFresh(m)
}

func (c *Controller) trackStage(runID, stage string) {
	slog.With("component", "pipeline", "run_id", runID).Info("entering stage", "stage", stage)
	if c.Status != nil {
		c.Status.TrackStage(runID, stage)
	}
	if c.Ledger != nil {
		_ = c.Ledger.UpdateStage(context.Background(), runID, stage)
	}
}

// EnsureRegion runs the full pipeline for regionID at targetPixels, skipping
// any stage whose output is already current per the hash-validation walk
// unless forceReprocess is set.
func (c *Controller) EnsureRegion(ctx context.Context, regionID string, targetPixels int, forceReprocess bool) (*Result, error) {
	logger := slog.With("component", "pipeline", "region", regionID, "target_pixels", targetPixels)

	reg, err := c.Registry.Get(regionID)
	if err != nil {
		return nil, err
	}

	runID, err := c.Ledger.StartRun(ctx, regionID, targetPixels)
	if err != nil {
		logger.Warn("run ledger unavailable, proceeding without tracking", "error", err)
	}
	if c.Status != nil {
		c.Status.TrackStart(runID, regionID)
		defer c.Status.TrackDone(runID)
	}
	logger = logger.With("run_id", runID)

	result, err := c.run(ctx, logger, runID, reg, targetPixels, forceReprocess)
	if err != nil {
		if c.Ledger != nil {
			_ = c.Ledger.Fail(context.Background(), runID, err.Error())
		}
		return nil, err
	}
	if c.Ledger != nil {
		_ = c.Ledger.Succeed(context.Background(), runID)
	}
	return result, nil
}

func (c *Controller) run(ctx context.Context, logger *slog.Logger, runID string, reg region.Region, targetPixels int, forceReprocess bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.trackStage(runID, "resolution")
	outputX, outputY := outputDimensions(reg, targetPixels)
	plan, err := resolution.ComputePlan(reg.Bounds, outputX, outputY, reg)
	if err != nil {
		return nil, err
	}

	mergedPath := c.Paths.MergedPath(plan.Dataset, reg.RegionID)
	clippedPath := c.Paths.ClippedPath(plan.Dataset, reg.RegionID)
	processedPath := c.Paths.ProcessedPath(plan.Dataset, reg.RegionID, targetPixels)
	exportPath := c.Paths.ExportPath(plan.Dataset, reg.RegionID, targetPixels)
	bordersPath := c.Paths.BordersPath(plan.Dataset, reg.RegionID, targetPixels)

	invalidate := forceReprocess

	// --- Orchestrator (raw merge) ---
	var merged *raster.Raster
	if !invalidate && stageFresh(mergedPath, artifact.VersionRaw, "") {
		logger.Info("merged raster already current, skipping orchestrator")
		merged, err = raster.ReadGeoTIFF(mergedPath)
		if err != nil {
			invalidate = true
		}
	} else {
		invalidate = true
	}
	if invalidate {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.trackStage(runID, "orchestrate")
		merged, err = orchestrator.Run(ctx, c.Cache, c.Downloader, plan, reg.Bounds, reg.RegionID, c.Options)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(mergedPath), 0755); err != nil {
			return nil, fmt.Errorf("creating merged raster directory: %w", err)
		}
		if err := raster.WriteGeoTIFF(mergedPath, merged); err != nil {
			return nil, pipeerr.New(pipeerr.TileDownloadFailed, reg.RegionID, "orchestrator", fmt.Errorf("writing merged raster: %w", err))
		}
		if err := artifact.Write(mergedPath, artifact.Metadata{
			Version:           artifact.VersionRaw,
			RegionID:          reg.RegionID,
			RegionType:        string(reg.RegionType),
			Bounds:            toArtifactBounds(merged.Bounds),
			ResolutionM:       plan.ExpectedMergedResM,
			Dataset:           string(plan.Dataset),
			ContributingTiles: orchestrator.ContributingTileNames(plan.SourceTiles, plan.Dataset),
		}); err != nil {
			return nil, fmt.Errorf("writing merged raster sidecar: %w", err)
		}
	}

	// --- Boundary query + clip ---
	mergedHash, err := artifact.MD5File(mergedPath)
	if err != nil {
		return nil, fmt.Errorf("hashing merged raster: %w", err)
	}

	var clipped *raster.Raster
	tier := boundaryTier(targetPixels)
	polygon, err := c.regionPolygon(reg, tier)
	if err != nil {
		return nil, err
	}

	if !invalidate && stageFresh(clippedPath, artifact.VersionClipped, mergedPath) {
		logger.Info("clipped raster already current, skipping clip stage")
		clipped, err = raster.ReadGeoTIFF(clippedPath)
		if err != nil {
			invalidate = true
		}
	} else {
		invalidate = true
	}
	if invalidate {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.trackStage(runID, "clip")
		clipped, err = clip.Clip(merged, polygon, reg.RegionID)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(clippedPath), 0755); err != nil {
			return nil, fmt.Errorf("creating clipped raster directory: %w", err)
		}
		if err := raster.WriteGeoTIFF(clippedPath, clipped); err != nil {
			return nil, fmt.Errorf("writing clipped raster: %w", err)
		}
		if err := artifact.Write(clippedPath, artifact.Metadata{
			Version:        artifact.VersionClipped,
			SourceFilePath: mergedPath,
			SourceFileHash: mergedHash,
			RegionID:       reg.RegionID,
			RegionType:     string(reg.RegionType),
			Bounds:         toArtifactBounds(clipped.Bounds),
			ResolutionM:    plan.ExpectedMergedResM,
			Dataset:        string(plan.Dataset),
		}); err != nil {
			return nil, fmt.Errorf("writing clipped raster sidecar: %w", err)
		}
	}

	// --- Process (downsample) ---
	clippedHash, err := artifact.MD5File(clippedPath)
	if err != nil {
		return nil, fmt.Errorf("hashing clipped raster: %w", err)
	}

	var processed *raster.Raster
	if !invalidate && stageFresh(processedPath, artifact.VersionProcessed, clippedPath) {
		logger.Info("processed raster already current, skipping process stage")
		processed, err = raster.ReadGeoTIFF(processedPath)
		if err != nil {
			invalidate = true
		}
	} else {
		invalidate = true
	}
	if invalidate {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.trackStage(runID, "process")
		processed, err = process.Downsample(clipped, targetPixels, reg.RegionID)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(processedPath), 0755); err != nil {
			return nil, fmt.Errorf("creating processed raster directory: %w", err)
		}
		if err := raster.WriteGeoTIFF(processedPath, processed); err != nil {
			return nil, fmt.Errorf("writing processed raster: %w", err)
		}
		stats := processed.ComputeStats()
		if err := artifact.Write(processedPath, artifact.Metadata{
			Version:        artifact.VersionProcessed,
			SourceFilePath: clippedPath,
			SourceFileHash: clippedHash,
			RegionID:       reg.RegionID,
			RegionType:     string(reg.RegionType),
			Bounds:         toArtifactBounds(processed.Bounds),
			ResolutionM:    plan.ExpectedMergedResM,
			Dataset:        string(plan.Dataset),
			ElevationRange: &artifact.ElevationRange{Min: stats.Min, Max: stats.Max},
		}); err != nil {
			return nil, fmt.Errorf("writing processed raster sidecar: %w", err)
		}
	}

	// --- Export ---
	processedHash, err := artifact.MD5File(processedPath)
	if err != nil {
		return nil, fmt.Errorf("hashing processed raster: %w", err)
	}

	if !invalidate && stageFresh(exportPath, artifact.VersionExport, processedPath) {
		logger.Info("export already current, skipping export stage")
		return &Result{
			RunID:         runID,
			ExportPath:    exportPath,
			ExportGzPath:  exportPath + ".gz",
			BordersPath:   bordersPath,
			BordersGzPath: bordersPath + ".gz",
			Skipped:       true,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.trackStage(runID, "export")

	art := export.BuildArtifact(processed, export.Meta{
		RegionID:    reg.RegionID,
		Source:      string(plan.Dataset),
		ResolutionM: plan.ExpectedMergedResM,
	})
	raw, gz, err := export.Marshal(art)
	if err != nil {
		return nil, pipeerr.New(pipeerr.InvalidExport, reg.RegionID, "export", err)
	}
	if err := os.MkdirAll(c.Paths.ExportsDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating exports directory: %w", err)
	}
	if err := writeAtomic(exportPath, raw); err != nil {
		return nil, fmt.Errorf("writing export artifact: %w", err)
	}
	if err := writeAtomic(exportPath+".gz", gz); err != nil {
		return nil, fmt.Errorf("writing gzipped export artifact: %w", err)
	}

	feature := export.FeatureFromPolygon(reg.DisplayName, polygon)
	borderDoc := export.BorderDocument{
		Type:     borderType(reg.RegionType),
		Features: []export.Feature{feature},
		Bounds:   processed.Bounds,
	}
	borderRaw, borderGz, err := export.MarshalBorders(borderDoc)
	if err != nil {
		return nil, pipeerr.New(pipeerr.InvalidExport, reg.RegionID, "export", err)
	}
	if err := writeAtomic(bordersPath, borderRaw); err != nil {
		return nil, fmt.Errorf("writing border document: %w", err)
	}
	if err := writeAtomic(bordersPath+".gz", borderGz); err != nil {
		return nil, fmt.Errorf("writing gzipped border document: %w", err)
	}

	if err := artifact.Write(exportPath, artifact.Metadata{
		Version:        artifact.VersionExport,
		SourceFilePath: processedPath,
		SourceFileHash: processedHash,
		RegionID:       reg.RegionID,
		RegionType:     string(reg.RegionType),
		Bounds:         toArtifactBounds(processed.Bounds),
		ResolutionM:    plan.ExpectedMergedResM,
		Dataset:        string(plan.Dataset),
	}); err != nil {
		return nil, fmt.Errorf("writing export sidecar: %w", err)
	}

	logger.Info("region export complete", "export_path", exportPath)
	return &Result{
		RunID:         runID,
		ExportPath:    exportPath,
		ExportGzPath:  exportPath + ".gz",
		BordersPath:   bordersPath,
		BordersGzPath: bordersPath + ".gz",
	}, nil
}

func toArtifactBounds(b raster.Bounds) artifact.Bounds {
	return artifact.Bounds{West: b.West, South: b.South, East: b.East, North: b.North}
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
