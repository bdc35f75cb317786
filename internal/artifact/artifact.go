// Package artifact implements the sidecar metadata shared by every staged
// file in the pipeline DAG: a closed, version-discriminated record plus the
// hash-validation walk that marks downstream output stale when an upstream
// file has changed.
package artifact

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Version is one of the four independently incremented artifact version
// labels. These are compiled in, not configuration (spec §4.9).
type Version string

const (
	VersionRaw       Version = "raw_v1"
	VersionClipped   Version = "clipped_v1"
	VersionProcessed Version = "processed_v2"
	VersionExport    Version = "export_v2"
)

// Metadata is the sidecar record paired with every artifact file. All fields
// are mandatory except ElevationRange, which raw tiles do not carry, and
// ContributingTiles, which only the merged raster's sidecar carries.
type Metadata struct {
	Version          Version        `json:"version"`
	SourceFilePath   string         `json:"source_file_path"`
	SourceFileHash   string         `json:"source_file_hash"`
	RegionID         string         `json:"region_id"`
	RegionType       string         `json:"region_type"`
	Bounds           Bounds         `json:"bounds"`
	ResolutionM      int            `json:"resolution_m"`
	ElevationRange   *ElevationRange `json:"elevation_range,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	Dataset          string         `json:"dataset"`

	// ContributingTiles names every raw tile that went into a merged raster.
	// Only set on the orchestrator's raw-stage sidecar (spec §4.5 point 4).
	ContributingTiles []string `json:"contributing_tiles,omitempty"`
}

// Bounds mirrors raster.Bounds without importing it, keeping this package
// leaf-level (every stage already depends on artifact; artifact must not
// depend back on raster).
type Bounds struct {
	West, South, East, North float64
}

// ElevationRange captures the [min,max] of an artifact's finite pixels.
type ElevationRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MD5File computes the MD5 hex digest of a file's contents.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// SidecarPath is the conventional sidecar name for an artifact file.
func SidecarPath(artifactPath string) string {
	return artifactPath + ".json"
}

// Write serializes m to the artifact's sidecar path.
func Write(artifactPath string, m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sidecar for %s: %w", artifactPath, err)
	}
	tmp := SidecarPath(artifactPath) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing sidecar tmp for %s: %w", artifactPath, err)
	}
	if err := os.Rename(tmp, SidecarPath(artifactPath)); err != nil {
		return fmt.Errorf("renaming sidecar for %s: %w", artifactPath, err)
	}
	return nil
}

// Read deserializes an artifact's sidecar, rejecting anything that fails to
// parse rather than defaulting any field (spec §9: "reject any sidecar that
// does not parse").
func Read(artifactPath string) (Metadata, error) {
	data, err := os.ReadFile(SidecarPath(artifactPath))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("parsing sidecar for %s: %w", artifactPath, err)
	}
	if m.Version == "" {
		return Metadata{}, fmt.Errorf("sidecar for %s has no version field", artifactPath)
	}
	return m, nil
}

// Valid reports whether m (already read from artifactPath's sidecar) names
// wantVersion and artifactPath's current MD5 still matches m.SourceFileHash.
// It takes the already-parsed Metadata rather than re-reading the sidecar
// itself, so a caller like the tile cache's Has (which must read the
// sidecar anyway to know what hash to expect) does it exactly once. This
// checks an artifact's own self-hash — for a tile cache entry,
// SourceFileHash records the tile's own hash rather than an upstream's
// (raw tiles have no upstream); stageFresh/UpstreamFresh handle the
// upstream-hash comparison used by downstream pipeline stages.
func Valid(artifactPath string, m Metadata, wantVersion Version) bool {
	if m.Version != wantVersion {
		return false
	}
	if m.SourceFileHash == "" {
		return true
	}
	hash, err := MD5File(artifactPath)
	if err != nil {
		return false
	}
	return hash == m.SourceFileHash
}

// UpstreamFresh reports whether m's recorded SourceFileHash still matches the
// current MD5 of the named upstream file (invariant 5). A missing upstream
// file is treated as stale, not an error, since the caller's job is simply
// "should I trust this downstream output."
func UpstreamFresh(m Metadata) bool {
	if m.SourceFilePath == "" {
		return true // raw tiles have no upstream.
	}
	hash, err := MD5File(m.SourceFilePath)
	if err != nil {
		return false
	}
	return hash == m.SourceFileHash
}
