package orchestrator

import (
	"context"
	"testing"

	"github.com/mumuon/demregion/internal/raster"
	"github.com/mumuon/demregion/internal/resolution"
	"github.com/mumuon/demregion/internal/tilecache"
	"github.com/mumuon/demregion/internal/tilegrid"
)

type fakeDownloader struct {
	calls       int
	failUntil   int
	retryable   bool
	writeGarbage bool
}

func (f *fakeDownloader) Fetch(ctx context.Context, dataset tilegrid.Dataset, bounds tilegrid.Bounds, destPath string) error {
	f.calls++
	if f.calls <= f.failUntil {
		return &FetchError{Retryable: f.retryable, Cause: "simulated failure"}
	}
	r := raster.New(4, 4, bounds)
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			r.Set(row, col, float32(row*4+col))
		}
	}
	if f.writeGarbage {
		return raster.WriteGeoTIFF(destPath+"-not-used", r) // wrong path, caller sees no file -> read error
	}
	return raster.WriteGeoTIFF(destPath, r)
}

func TestRun_FetchesAndMerges(t *testing.T) {
	cache := tilecache.New(t.TempDir())
	dl := &fakeDownloader{}
	bounds := tilegrid.Bounds{West: -90, South: 35, East: -89, North: 36}
	plan := &resolution.Plan{
		Dataset:     tilegrid.DatasetGlobal30m,
		SourceTiles: []tilegrid.ID{{LatSW: 35, LonSW: -90}},
	}

	r, err := Run(context.Background(), cache, dl, plan, bounds, "test-region", DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Width != 4 || r.Height != 4 {
		t.Fatalf("expected 4x4 merged raster, got %dx%d", r.Width, r.Height)
	}
	if dl.calls != 1 {
		t.Fatalf("expected exactly 1 download call, got %d", dl.calls)
	}
}

func TestRun_SkipsAlreadyCachedTile(t *testing.T) {
	cache := tilecache.New(t.TempDir())
	id := tilegrid.ID{LatSW: 35, LonSW: -90}
	r := raster.New(2, 2, tilegrid.BoundsOf(id))
	if err := cache.Store(id, tilegrid.DatasetGlobal30m, r); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	dl := &fakeDownloader{}
	plan := &resolution.Plan{Dataset: tilegrid.DatasetGlobal30m, SourceTiles: []tilegrid.ID{id}}
	bounds := tilegrid.BoundsOf(id)

	if _, err := Run(context.Background(), cache, dl, plan, bounds, "cached-region", DefaultOptions()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dl.calls != 0 {
		t.Fatalf("expected downloader not to be invoked for an already-cached tile, got %d calls", dl.calls)
	}
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	cache := tilecache.New(t.TempDir())
	dl := &fakeDownloader{failUntil: 2, retryable: true}
	plan := &resolution.Plan{
		Dataset:     tilegrid.DatasetGlobal30m,
		SourceTiles: []tilegrid.ID{{LatSW: 35, LonSW: -90}},
	}
	bounds := tilegrid.Bounds{West: -90, South: 35, East: -89, North: 36}

	opts := DefaultOptions()
	opts.MaxRetries = 5
	if _, err := Run(context.Background(), cache, dl, plan, bounds, "retry-region", opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dl.calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", dl.calls)
	}
}

func TestRun_NonRetryableFailsImmediately(t *testing.T) {
	cache := tilecache.New(t.TempDir())
	dl := &fakeDownloader{failUntil: 10, retryable: false}
	plan := &resolution.Plan{
		Dataset:     tilegrid.DatasetGlobal30m,
		SourceTiles: []tilegrid.ID{{LatSW: 35, LonSW: -90}},
	}
	bounds := tilegrid.Bounds{West: -90, South: 35, East: -89, North: 36}

	opts := DefaultOptions()
	opts.MaxRetries = 5
	_, err := Run(context.Background(), cache, dl, plan, bounds, "fail-region", opts)
	if err == nil {
		t.Fatal("expected failure")
	}
	if dl.calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable failure, got %d", dl.calls)
	}
}

func TestRun_ExhaustsRetriesAndFails(t *testing.T) {
	cache := tilecache.New(t.TempDir())
	dl := &fakeDownloader{failUntil: 100, retryable: true}
	plan := &resolution.Plan{
		Dataset:     tilegrid.DatasetGlobal30m,
		SourceTiles: []tilegrid.ID{{LatSW: 35, LonSW: -90}},
	}
	bounds := tilegrid.Bounds{West: -90, South: 35, East: -89, North: 36}

	opts := Options{MaxRetries: 3}
	_, err := Run(context.Background(), cache, dl, plan, bounds, "exhaust-region", opts)
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if dl.calls != 3 {
		t.Fatalf("expected exactly 3 calls (MaxRetries), got %d", dl.calls)
	}
}

func TestContributingTileNames(t *testing.T) {
	ids := []tilegrid.ID{{LatSW: 35, LonSW: -90}, {LatSW: 36, LonSW: -90}}
	names := ContributingTileNames(ids, tilegrid.DatasetGlobal30m)
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
}
