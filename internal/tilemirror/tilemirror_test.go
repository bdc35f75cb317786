package tilemirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mumuon/demregion/internal/tilegrid"
)

func TestObjectKey_JoinsBucketPathDatasetAndFilename(t *testing.T) {
	m := &Mirror{bucketPath: "tiles"}
	id := tilegrid.ID{LatSW: 35, LonSW: -90}
	key := m.objectKey(tilegrid.DatasetGlobal30m, id)
	want := "tiles/dem30m_global/" + tilegrid.Filename(id, tilegrid.DatasetGlobal30m)
	if key != want {
		t.Fatalf("expected key %q, got %q", want, key)
	}
}

type stubFallback struct {
	calls int
}

func (s *stubFallback) Fetch(ctx context.Context, dataset tilegrid.Dataset, bounds tilegrid.Bounds, destPath string) error {
	s.calls++
	return os.WriteFile(destPath, []byte("stub"), 0644)
}

func TestDownloader_FallsBackWhenBoundsSpanMultipleTiles(t *testing.T) {
	fallback := &stubFallback{}
	d := &Downloader{Mirror: nil, Fallback: fallback}

	// A 2-degree-wide bounds box spans more than one tile cell, so the
	// mirror lookup (which needs a single tile ID) must be skipped
	// entirely and the call must go straight to the fallback.
	bounds := tilegrid.Bounds{West: -90, South: 35, East: -88, North: 37}
	destPath := filepath.Join(t.TempDir(), "tile.tif")

	if err := d.Fetch(context.Background(), tilegrid.DatasetGlobal30m, bounds, destPath); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback to be called once, got %d", fallback.calls)
	}
}
