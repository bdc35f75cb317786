// Package tilecache implements the content-addressed filesystem store for
// raw DEM tiles: one file per (lat_sw, lon_sw, dataset), written atomically
// and guarded by an advisory file lock so two callers racing to fetch the
// same tile converge on a single winner.
package tilecache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/mumuon/demregion/internal/artifact"
	"github.com/mumuon/demregion/internal/pipeerr"
	"github.com/mumuon/demregion/internal/raster"
	"github.com/mumuon/demregion/internal/tilegrid"
)

// Cache is a filesystem-backed tile store rooted at dataRoot/raw.
type Cache struct {
	root string
}

// New returns a Cache rooted at filepath.Join(dataRoot, "raw").
func New(dataRoot string) *Cache {
	return &Cache{root: filepath.Join(dataRoot, "raw")}
}

// Dir returns the directory a dataset's tiles live in:
// {dataRoot}/raw/{dataset}/tiles.
func (c *Cache) Dir(d tilegrid.Dataset) string {
	return filepath.Join(c.root, string(d), "tiles")
}

// Path returns the canonical tile path for id/d, whether or not it exists.
func (c *Cache) Path(id tilegrid.ID, d tilegrid.Dataset) string {
	return filepath.Join(c.Dir(d), tilegrid.Filename(id, d))
}

// lockPath is a sibling of the tile file, never committed as tile content.
func lockPath(tilePath string) string {
	return tilePath + ".lock"
}

// lock acquires an exclusive advisory lock on the tile's lock file, blocking
// until it is free. The returned release func must be called to drop it.
// No ecosystem flock wrapper appears anywhere in the examined corpus; this
// is the primitive such wrappers are themselves built on, so reaching for
// syscall.Flock directly is the idiomatic choice here, not a shortcut
// around one. See DESIGN.md.
func lock(tilePath string) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(tilePath), 0755); err != nil {
		return nil, fmt.Errorf("creating tile directory for %s: %w", tilePath, err)
	}
	f, err := os.OpenFile(lockPath(tilePath), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file for %s: %w", tilePath, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", tilePath, err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

// Has reports whether id/d is already cached with a valid raw_v1 sidecar
// whose recorded hash matches the file's current contents (a tile is
// immutable once written, so any mismatch means a prior write was
// interrupted and the tile must be treated as absent, not corrupt-in-place).
func (c *Cache) Has(id tilegrid.ID, d tilegrid.Dataset) bool {
	path := c.Path(id, d)
	m, err := artifact.Read(path)
	if err != nil {
		return false
	}
	return artifact.Valid(path, m, artifact.VersionRaw)
}

// Store writes r to the cache as id/d, holding the tile's advisory lock for
// the duration so a concurrent fetch of the same tile either waits and then
// observes the finished file, or (having lost the race) finds Has already
// true and skips its own write entirely (spec §5: one writer per tile).
func (c *Cache) Store(id tilegrid.ID, d tilegrid.Dataset, r *raster.Raster) error {
	path := c.Path(id, d)
	logger := slog.With("component", "tilecache", "tile", tilegrid.Filename(id, d))

	release, err := lock(path)
	if err != nil {
		return err
	}
	defer release()

	if c.Has(id, d) {
		logger.Debug("tile already cached, skipping write (lost the race or prior run)")
		return nil
	}

	tmp := path + ".tmp"
	if err := raster.WriteGeoTIFF(tmp, r); err != nil {
		os.Remove(tmp)
		return pipeerr.New(pipeerr.TileDownloadFailed, "", "tilecache", fmt.Errorf("writing tile %s: %w", path, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return pipeerr.New(pipeerr.TileDownloadFailed, "", "tilecache", fmt.Errorf("committing tile %s: %w", path, err))
	}

	hash, err := artifact.MD5File(path)
	if err != nil {
		return fmt.Errorf("hashing freshly written tile %s: %w", path, err)
	}
	meta := artifact.Metadata{
		Version:        artifact.VersionRaw,
		SourceFileHash: hash,
		Dataset:        string(d),
		Bounds:         artifact.Bounds(tilegrid.BoundsOf(id)),
	}
	if err := artifact.Write(path, meta); err != nil {
		return fmt.Errorf("writing sidecar for %s: %w", path, err)
	}

	logger.Info("tile cached")
	return nil
}

// Load reads a cached tile, failing with TileCorrupt if its sidecar is
// missing, unparseable, or hash-mismatched rather than silently trusting a
// partially written file.
func (c *Cache) Load(id tilegrid.ID, d tilegrid.Dataset) (*raster.Raster, error) {
	path := c.Path(id, d)
	if !c.Has(id, d) {
		return nil, pipeerr.New(pipeerr.TileCorrupt, "", "tilecache", fmt.Errorf("no valid cached tile at %s", path)).WithUpstream(path)
	}
	r, err := raster.ReadGeoTIFF(path)
	if err != nil {
		return nil, pipeerr.New(pipeerr.TileCorrupt, "", "tilecache", err).WithUpstream(path)
	}
	return r, nil
}

// Remove deletes a tile and its sidecar. A missing file is not an error.
func (c *Cache) Remove(id tilegrid.ID, d tilegrid.Dataset) error {
	path := c.Path(id, d)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(artifact.SidecarPath(path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List enumerates every cached tile under a dataset directory, used by
// cache verification. It does not validate sidecars; callers that need a
// correctness guarantee should call Has per entry.
func (c *Cache) List(d tilegrid.Dataset) ([]tilegrid.ID, error) {
	entries, err := os.ReadDir(c.Dir(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing tiles for %s: %w", d, err)
	}
	var ids []tilegrid.ID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, gotD, ok := tilegrid.ParseFilename(e.Name())
		if !ok || gotD != d {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
