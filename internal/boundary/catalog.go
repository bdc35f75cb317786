// Package boundary implements the boundary polygon catalog: Natural Earth
// admin-boundary shapefiles parsed once per resolution tier, converted to
// orb geometries, and cached on disk so repeat runs skip the shapefile
// parse entirely.
package boundary

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-shapefile"

	"github.com/mumuon/demregion/internal/artifact"
	"github.com/mumuon/demregion/internal/pipeerr"
)

// Tier is one of the three Natural Earth resolutions the registry may name.
type Tier string

const (
	TierCoarse110m Tier = "coarse_110m"
	TierMedium50m  Tier = "medium_50m"
	TierFine10m    Tier = "fine_10m"
)

var tierSuffix = map[Tier]string{
	TierCoarse110m: "110m",
	TierMedium50m:  "50m",
	TierFine10m:    "10m",
}

// tierData is the gob-persisted shape of one tier's parsed archives.
type tierData struct {
	Countries map[string]orb.MultiPolygon // keyed by ADMIN/NAME
	States    map[string]orb.MultiPolygon // keyed by "state|country"
}

// Catalog lazily parses and caches Natural Earth boundaries by tier.
// The in-process cache (loaded) is the one piece of mutable package state
// this pipeline carries outside an explicit PipelineContext; spec §9
// sanctions exactly this, one cache entry per resolution tier.
type Catalog struct {
	shapefileDir string
	cacheDir     string

	mu     sync.Mutex
	loaded map[Tier]*tierData
}

// NewCatalog returns a Catalog reading archives from
// {shapefileDir}/{tier}/ne_{suffix}_admin_0_countries.zip and
// ne_{suffix}_admin_1_states_provinces.zip, and persisting
// parsed results under cacheDir.
func NewCatalog(shapefileDir, cacheDir string) *Catalog {
	return &Catalog{
		shapefileDir: shapefileDir,
		cacheDir:     cacheDir,
		loaded:       make(map[Tier]*tierData),
	}
}

func (c *Catalog) countryArchive(tier Tier) string {
	return filepath.Join(c.shapefileDir, string(tier), fmt.Sprintf("ne_%s_admin_0_countries.zip", tierSuffix[tier]))
}

func (c *Catalog) stateArchive(tier Tier) string {
	return filepath.Join(c.shapefileDir, string(tier), fmt.Sprintf("ne_%s_admin_1_states_provinces.zip", tierSuffix[tier]))
}

func (c *Catalog) gobCachePath(tier Tier, hash string) string {
	return filepath.Join(c.cacheDir, fmt.Sprintf("%s_%s.gob", tier, hash))
}

// archiveHash combines the country and state archive hashes into one cache
// key component, so editing either archive invalidates the cached parse.
func (c *Catalog) archiveHash(tier Tier) (string, error) {
	ch, err := artifact.MD5File(c.countryArchive(tier))
	if err != nil {
		return "", fmt.Errorf("hashing country archive for %s: %w", tier, err)
	}
	sh, err := artifact.MD5File(c.stateArchive(tier))
	if err != nil {
		return "", fmt.Errorf("hashing state archive for %s: %w", tier, err)
	}
	return ch[:12] + "_" + sh[:12], nil
}

// load returns the parsed tierData for tier, from the in-process cache, the
// on-disk gob cache, or a fresh shapefile parse, in that order.
func (c *Catalog) load(tier Tier) (*tierData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if td, ok := c.loaded[tier]; ok {
		return td, nil
	}

	if _, ok := tierSuffix[tier]; !ok {
		return nil, pipeerr.New(pipeerr.BoundaryCatalogUnavailable, "", "boundary", fmt.Errorf("unknown tier %q", tier))
	}

	hash, err := c.archiveHash(tier)
	if err != nil {
		return nil, pipeerr.New(pipeerr.BoundaryCatalogUnavailable, "", "boundary", err)
	}

	if td, err := c.readGobCache(tier, hash); err == nil {
		c.loaded[tier] = td
		return td, nil
	}

	td, err := c.parseTier(tier)
	if err != nil {
		return nil, pipeerr.New(pipeerr.BoundaryCatalogUnavailable, "", "boundary", err)
	}
	c.loaded[tier] = td

	if err := c.writeGobCache(tier, hash, td); err != nil {
		slog.With("component", "boundary").Warn("failed to persist boundary cache, will re-parse next run", "tier", tier, "error", err)
	}
	return td, nil
}

func (c *Catalog) readGobCache(tier Tier, hash string) (*tierData, error) {
	data, err := os.ReadFile(c.gobCachePath(tier, hash))
	if err != nil {
		return nil, err
	}
	var td tierData
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&td); err != nil {
		return nil, fmt.Errorf("decoding boundary cache for %s: %w", tier, err)
	}
	return &td, nil
}

func (c *Catalog) writeGobCache(tier Tier, hash string, td *tierData) error {
	if err := os.MkdirAll(c.cacheDir, 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(td); err != nil {
		return fmt.Errorf("encoding boundary cache for %s: %w", tier, err)
	}
	tmp := c.gobCachePath(tier, hash) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.gobCachePath(tier, hash))
}

func (c *Catalog) parseTier(tier Tier) (*tierData, error) {
	logger := slog.With("component", "boundary", "tier", tier)
	logger.Info("parsing boundary shapefiles")

	td := &tierData{
		Countries: make(map[string]orb.MultiPolygon),
		States:    make(map[string]orb.MultiPolygon),
	}

	countrySHP, err := shapefile.ReadZipFile(c.countryArchive(tier))
	if err != nil {
		return nil, fmt.Errorf("reading country archive for %s: %w", tier, err)
	}
	for i := range countrySHP.SHP.Records {
		fields, g := countrySHP.Record(i)
		name, ok := countryKey(fields)
		if !ok || g == nil {
			continue
		}
		mp, err := toOrbMultiPolygon(g)
		if err != nil {
			logger.Warn("skipping non-polygonal country record", "name", name, "error", err)
			continue
		}
		td.Countries[name] = mp
	}

	stateSHP, err := shapefile.ReadZipFile(c.stateArchive(tier))
	if err != nil {
		return nil, fmt.Errorf("reading state archive for %s: %w", tier, err)
	}
	for i := range stateSHP.SHP.Records {
		fields, g := stateSHP.Record(i)
		key, ok := stateKey(fields)
		if !ok || g == nil {
			continue
		}
		mp, err := toOrbMultiPolygon(g)
		if err != nil {
			logger.Warn("skipping non-polygonal state record", "key", key, "error", err)
			continue
		}
		td.States[key] = mp
	}

	logger.Info("boundary shapefiles parsed", "countries", len(td.Countries), "states", len(td.States))
	return td, nil
}

// countryKey reads the Natural Earth ADMIN field, falling back to NAME when
// ADMIN is absent (some smaller dependent territories only set NAME).
func countryKey(fields map[string]any) (string, bool) {
	if v, ok := fields["ADMIN"].(string); ok && v != "" {
		return v, true
	}
	if v, ok := fields["NAME"].(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// stateKey combines the admin_1 "name" and "admin" (parent country) fields
// into a composite key, since state names are not globally unique
// ("Georgia" the US state vs. the country).
func stateKey(fields map[string]any) (string, bool) {
	name, ok := fields["name"].(string)
	if !ok || name == "" {
		return "", false
	}
	country, _ := fields["admin"].(string)
	return name + "|" + country, true
}

// CountryPolygon returns the boundary polygon for an exact, case-sensitive
// country name match at the given tier.
func (c *Catalog) CountryPolygon(tier Tier, country string) (orb.MultiPolygon, error) {
	td, err := c.load(tier)
	if err != nil {
		return nil, err
	}
	mp, ok := td.Countries[country]
	if !ok {
		return nil, pipeerr.New(pipeerr.BoundaryNotFound, "", "boundary", fmt.Errorf("no country %q in tier %s", country, tier))
	}
	return mp, nil
}

// StatePolygon returns the boundary polygon for an exact, case-sensitive
// (state, country) match at the given tier.
func (c *Catalog) StatePolygon(tier Tier, state, country string) (orb.MultiPolygon, error) {
	td, err := c.load(tier)
	if err != nil {
		return nil, err
	}
	mp, ok := td.States[state+"|"+country]
	if !ok {
		return nil, pipeerr.New(pipeerr.BoundaryNotFound, "", "boundary", fmt.Errorf("no state %q in country %q in tier %s", state, country, tier))
	}
	return mp, nil
}

// Contains reports whether pt falls inside any polygon of mp, using
// even-odd ray casting (orb/planar's fixed, documented rule — see
// DESIGN.md Open Question 1).
func Contains(mp orb.MultiPolygon, pt orb.Point) bool {
	for _, poly := range mp {
		if planar.PolygonContains(poly, pt) {
			return true
		}
	}
	return false
}
