// Command demregion is the pipeline's CLI entrypoint: it wires the Region
// Registry, Boundary Catalog, tile cache, Run Ledger, and Status API
// together into the CLI surface spec.md §6.1 describes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mumuon/demregion/internal/boundary"
	"github.com/mumuon/demregion/internal/cacheverify"
	"github.com/mumuon/demregion/internal/config"
	"github.com/mumuon/demregion/internal/httpdownload"
	"github.com/mumuon/demregion/internal/manifest"
	"github.com/mumuon/demregion/internal/orchestrator"
	"github.com/mumuon/demregion/internal/pipeline"
	"github.com/mumuon/demregion/internal/region"
	"github.com/mumuon/demregion/internal/runledger"
	"github.com/mumuon/demregion/internal/statusapi"
	"github.com/mumuon/demregion/internal/tilecache"
	"github.com/mumuon/demregion/internal/tilegrid"
	"github.com/mumuon/demregion/internal/tilemirror"
)

// Exit codes (spec.md §6.1): 0 success, 2 misuse, 3 pipeline failure,
// 4 manifest validation failure.
const (
	exitOK           = 0
	exitMisuse       = 2
	exitPipelineFail = 3
	exitManifestFail = 4
)

func main() {
	configPath := flag.String("config", ".env", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	args := flag.Args()
	if *help || len(args) == 0 {
		showHelp()
		os.Exit(exitOK)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	command := args[0]
	rest := args[1:]

	switch command {
	case "ensure-region":
		os.Exit(cmdEnsureRegion(rest, *configPath))
	case "regenerate-manifest":
		os.Exit(cmdRegenerateManifest(rest, *configPath))
	case "list-regions":
		os.Exit(cmdListRegions(rest, *configPath))
	case "serve":
		os.Exit(cmdServe(rest, *configPath))
	case "verify-cache":
		os.Exit(cmdVerifyCache(rest, *configPath))
	default:
		slog.Error("unknown command", "command", command)
		showHelp()
		os.Exit(exitMisuse)
	}
}

func loadConfigOrExit(configPath string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitMisuse)
	}
	return cfg
}

func loadRegistryOrExit(cfg *config.Config) *region.Registry {
	reg, err := region.Load(cfg.RegionRegistryPath)
	if err != nil {
		slog.Error("failed to load region registry", "error", err)
		os.Exit(exitMisuse)
	}
	return reg
}

// buildController assembles a pipeline.Controller from configuration: a
// best-effort Run Ledger (advisory, per §4.11), an optional tile-mirror
// fronted downloader (additive-only), and the boundary catalog.
func buildController(cfg *config.Config, reg *region.Registry, status *statusapi.Server) *pipeline.Controller {
	paths := pipeline.Paths{Root: cfg.DataRoot}
	catalog := boundary.NewCatalog(paths.BoundaryShapefileDir(), paths.BoundaryCacheDir())

	var ledger *runledger.Ledger
	if cfg.Database.Enabled() {
		l, err := runledger.Open(cfg.Database)
		if err != nil {
			slog.Warn("run ledger unavailable, continuing without job history", "error", err)
		} else {
			ledger = l
		}
	}

	baseURLs := make(map[tilegrid.Dataset]string, len(cfg.DatasetBaseURLs))
	for k, v := range cfg.DatasetBaseURLs {
		if v != "" {
			baseURLs[tilegrid.Dataset(k)] = v
		}
	}
	var downloader orchestrator.Downloader = httpdownload.New(baseURLs)

	if cfg.S3.Enabled() {
		mirror, err := tilemirror.New(cfg.S3)
		if err != nil {
			slog.Warn("tile mirror unavailable, downloading directly", "error", err)
		} else {
			downloader = &tilemirror.Downloader{Mirror: mirror, Fallback: downloader}
		}
	}

	controller := pipeline.New(paths, reg, catalog, downloader, ledger, status)
	controller.Options.MaxRetries = cfg.TileDownload.MaxRetries
	if cfg.TileDownload.MinIntervalMS > 0 {
		interval := time.Duration(cfg.TileDownload.MinIntervalMS) * time.Millisecond
		for k := range cfg.DatasetBaseURLs {
			controller.Options.MinIntervalPerDataset[tilegrid.Dataset(k)] = interval
		}
	}
	return controller
}

func cmdEnsureRegion(args []string, configPath string) int {
	fs := flag.NewFlagSet("ensure-region", flag.ExitOnError)
	targetPixels := fs.Int("target-pixels", 1024, "Target pixel count for the longer output side")
	forceReprocess := fs.Bool("force-reprocess", false, "Recompute every stage even if outputs look fresh")
	fs.Parse(args)

	parsed := fs.Args()
	if len(parsed) == 0 {
		slog.Error("region_id is required")
		fmt.Println("Usage: demregion ensure-region <region_id> [--target-pixels N] [--force-reprocess]")
		return exitMisuse
	}
	regionID := parsed[0]

	cfg := loadConfigOrExit(configPath)
	reg := loadRegistryOrExit(cfg)
	status := statusapi.New(nil)
	controller := buildController(cfg, reg, status)
	defer controller.Ledger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	var result *pipeline.Result
	go func() {
		var err error
		result, err = controller.EnsureRegion(ctx, regionID, *targetPixels, *forceReprocess)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("ensure-region failed", "region_id", regionID, "error", err)
			return exitPipelineFail
		}
	case sig := <-sigChan:
		slog.Info("received shutdown signal, cancelling", "signal", sig)
		cancel()
		<-done
		return exitPipelineFail
	}

	slog.Info("ensure-region completed", "region_id", regionID, "skipped", result.Skipped, "export", result.ExportPath)
	return exitOK
}

func cmdRegenerateManifest(args []string, configPath string) int {
	fs := flag.NewFlagSet("regenerate-manifest", flag.ExitOnError)
	fs.Parse(args)

	cfg := loadConfigOrExit(configPath)
	reg := loadRegistryOrExit(cfg)
	paths := pipeline.Paths{Root: cfg.DataRoot}

	m, err := manifest.Build(paths.ExportsDir(), reg, time.Now())
	if err != nil {
		slog.Error("failed to build manifest", "error", err)
		return exitManifestFail
	}

	data, err := manifest.Marshal(m)
	if err != nil {
		slog.Error("failed to marshal manifest", "error", err)
		return exitManifestFail
	}

	if err := os.WriteFile(paths.ManifestPath(), data, 0644); err != nil {
		slog.Error("failed to write manifest", "error", err)
		return exitManifestFail
	}

	slog.Info("manifest regenerated", "regions", len(m.Regions), "path", paths.ManifestPath())
	return exitOK
}

func cmdListRegions(args []string, configPath string) int {
	fs := flag.NewFlagSet("list-regions", flag.ExitOnError)
	typeFilter := fs.String("type", "", "Filter by region_type: country, usa_state, or area")
	fs.Parse(args)

	cfg := loadConfigOrExit(configPath)
	reg := loadRegistryOrExit(cfg)

	var want region.Type
	if *typeFilter != "" {
		t, err := region.ParseType(*typeFilter)
		if err != nil {
			slog.Error("invalid --type", "error", err)
			return exitMisuse
		}
		want = t
	}

	for _, r := range reg.List() {
		if want != "" && r.RegionType != want {
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", r.RegionID, r.RegionType, r.DisplayName)
	}
	return exitOK
}

func cmdServe(args []string, configPath string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "Address to listen on")
	fs.Parse(args)

	cfg := loadConfigOrExit(configPath)

	var ledger *runledger.Ledger
	if cfg.Database.Enabled() {
		l, err := runledger.Open(cfg.Database)
		if err != nil {
			slog.Warn("run ledger unavailable, status API will only show in-process runs", "error", err)
		} else {
			ledger = l
			defer ledger.Close()
		}
	}

	server := statusapi.New(ledger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe(*addr)
	}()

	select {
	case err := <-errChan:
		slog.Error("status API server failed", "error", err)
		return exitPipelineFail
	case sig := <-sigChan:
		slog.Info("received shutdown signal, stopping server", "signal", sig)
		return exitOK
	}
}

func cmdVerifyCache(args []string, configPath string) int {
	fs := flag.NewFlagSet("verify-cache", flag.ExitOnError)
	fs.Parse(args)

	cfg := loadConfigOrExit(configPath)
	paths := pipeline.Paths{Root: cfg.DataRoot}
	cache := tilecache.New(paths.TileCacheRoot())

	report, err := cacheverify.Verify(cache)
	if err != nil {
		slog.Error("cache verification failed to run", "error", err)
		return exitPipelineFail
	}

	report.Print()
	if !report.OK {
		return exitPipelineFail
	}
	return exitOK
}

func showHelp() {
	help := `DEM Region Pipeline - Fetch, clip, and export digital elevation models for named regions

Usage:
  demregion [global options] <command> [command options] [arguments]

Global Options:
  -config string        Path to .env configuration file (default ".env")
  -debug                Enable debug logging
  -help                 Show this help message

Commands:
  ensure-region          Run the full pipeline for one region, skipping fresh stages
  regenerate-manifest     Rebuild exports/regions/manifest.json from exported artifacts
  list-regions            List regions from the registry, optionally filtered by type
  serve                   Start the read-only run status API
  verify-cache            Sweep the tile cache for coverage and hash-integrity issues

Ensure Region Command:
  Usage: demregion ensure-region <region_id> [options]

  Options:
    -target-pixels int     Target pixel count for the output's longer side (default 1024)
    -force-reprocess       Recompute every stage even if outputs look fresh

List Regions Command:
  Usage: demregion list-regions [options]

  Options:
    -type string           Filter by region_type: country, usa_state, or area

Serve Command:
  Usage: demregion serve [options]

  Options:
    -addr string            Address to listen on (default ":8080")

  Endpoints:
    GET /runs               - List active and recent pipeline runs
    GET /runs/{id}          - Get status of a specific run
    GET /health             - Health check endpoint

Examples:
  demregion ensure-region washington --target-pixels 2048
  demregion ensure-region washington --force-reprocess
  demregion list-regions --type usa_state
  demregion regenerate-manifest
  demregion verify-cache
  demregion serve -addr :9090
`
	fmt.Print(help)
}
