package boundary

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"
)

func squarePolygon(t *testing.T, west, south, east, north float64) *geom.Polygon {
	t.Helper()
	flat := []float64{
		west, south,
		east, south,
		east, north,
		west, north,
		west, south,
	}
	p, err := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	if err != nil {
		t.Fatalf("building test polygon: %v", err)
	}
	return p
}

func TestToOrbMultiPolygon_Polygon(t *testing.T) {
	p := squarePolygon(t, 0, 0, 2, 2)
	mp, err := toOrbMultiPolygon(p)
	if err != nil {
		t.Fatalf("toOrbMultiPolygon: %v", err)
	}
	if len(mp) != 1 || len(mp[0]) != 1 || len(mp[0][0]) != 5 {
		t.Fatalf("unexpected shape: %+v", mp)
	}
}

func TestToOrbMultiPolygon_MultiPolygon(t *testing.T) {
	a := squarePolygon(t, 0, 0, 1, 1)
	b := squarePolygon(t, 5, 5, 6, 6)
	mp, err := geom.NewMultiPolygon(geom.XY).Push(a)
	if err != nil {
		t.Fatalf("building multipolygon: %v", err)
	}
	if _, err := mp.Push(b); err != nil {
		t.Fatalf("pushing second polygon: %v", err)
	}

	got, err := toOrbMultiPolygon(mp)
	if err != nil {
		t.Fatalf("toOrbMultiPolygon: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 polygons, got %d", len(got))
	}
}

func TestToOrbMultiPolygon_RejectsNonPolygonal(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{1, 1})
	if _, err := toOrbMultiPolygon(pt); err == nil {
		t.Fatal("expected error converting a point geometry")
	}
}

func TestCountryKey_PrefersAdmin(t *testing.T) {
	name, ok := countryKey(map[string]any{"ADMIN": "Afghanistan", "NAME": "Afg."})
	if !ok || name != "Afghanistan" {
		t.Fatalf("got %q, %v", name, ok)
	}
}

func TestCountryKey_FallsBackToName(t *testing.T) {
	name, ok := countryKey(map[string]any{"NAME": "Somewhereland"})
	if !ok || name != "Somewhereland" {
		t.Fatalf("got %q, %v", name, ok)
	}
}

func TestCountryKey_MissingBothFails(t *testing.T) {
	if _, ok := countryKey(map[string]any{"OTHER": "x"}); ok {
		t.Fatal("expected countryKey to fail with no ADMIN or NAME field")
	}
}

func TestStateKey_CombinesNameAndCountry(t *testing.T) {
	key, ok := stateKey(map[string]any{"name": "Georgia", "admin": "United States of America"})
	if !ok || key != "Georgia|United States of America" {
		t.Fatalf("got %q, %v", key, ok)
	}
}

func TestContains(t *testing.T) {
	mp := orb.MultiPolygon{
		orb.Polygon{orb.Ring{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}},
	}
	if !Contains(mp, orb.Point{1, 1}) {
		t.Error("expected (1,1) inside the unit square scaled by 2")
	}
	if Contains(mp, orb.Point{5, 5}) {
		t.Error("expected (5,5) outside")
	}
}

func TestCatalogGobCacheRoundTrip(t *testing.T) {
	c := NewCatalog(t.TempDir(), t.TempDir())
	td := &tierData{
		Countries: map[string]orb.MultiPolygon{
			"Testland": {orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}},
		},
		States: map[string]orb.MultiPolygon{},
	}
	if err := c.writeGobCache(TierCoarse110m, "abc123", td); err != nil {
		t.Fatalf("writeGobCache: %v", err)
	}
	got, err := c.readGobCache(TierCoarse110m, "abc123")
	if err != nil {
		t.Fatalf("readGobCache: %v", err)
	}
	if len(got.Countries) != 1 {
		t.Fatalf("expected 1 country round-tripped, got %d", len(got.Countries))
	}
}

func TestCatalogUnknownTierFails(t *testing.T) {
	c := NewCatalog(t.TempDir(), t.TempDir())
	if _, err := c.load(Tier("nonsense")); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
