package boundary

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"
)

// toOrbMultiPolygon adapts a go-shapefile record's decoded go-geom geometry
// into an orb.MultiPolygon, the type the rest of this pipeline (and
// orb/planar) work in. Only polygonal shape types are meaningful for
// country/state boundaries; anything else is a malformed boundary source.
func toOrbMultiPolygon(g geom.T) (orb.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		return orb.MultiPolygon{ringsToOrbPolygon(t)}, nil
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			mp[i] = ringsToOrbPolygon(t.Polygon(i))
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("boundary geometry is %T, not a polygon or multipolygon", g)
	}
}

func ringsToOrbPolygon(p *geom.Polygon) orb.Polygon {
	stride := p.Layout().Stride()
	poly := make(orb.Polygon, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		ring := p.LinearRing(i)
		flat := ring.FlatCoords()
		orbRing := make(orb.Ring, 0, len(flat)/stride)
		for o := 0; o+1 < len(flat); o += stride {
			orbRing = append(orbRing, orb.Point{flat[o], flat[o+1]})
		}
		poly[i] = orbRing
	}
	return poly
}
