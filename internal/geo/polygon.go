package geo

import (
	"fmt"
	"math"

	"github.com/banshee-data/cropwatch/internal/units"
)

// Polygon is a simple closed ring of lon/lat vertices. The first ring is the
// outer boundary; holes are not modelled.
type Polygon struct {
	Ring [][2]float64 `json:"ring"`
}

// FromBBox builds the rectangular polygon of a bounding box.
func FromBBox(b BBox) Polygon {
	return Polygon{Ring: [][2]float64{
		{b.West, b.South},
		{b.East, b.South},
		{b.East, b.North},
		{b.West, b.North},
		{b.West, b.South},
	}}
}

// Bounds returns the polygon's bounding box.
func (p Polygon) Bounds() BBox {
	b := BBox{West: math.MaxFloat64, South: math.MaxFloat64, East: -math.MaxFloat64, North: -math.MaxFloat64}
	for _, c := range p.Ring {
		b.West = min(b.West, c[0])
		b.East = max(b.East, c[0])
		b.South = min(b.South, c[1])
		b.North = max(b.North, c[1])
	}
	return b
}

// Contains reports whether a lon/lat point lies inside the polygon using the
// even-odd ray casting rule.
func (p Polygon) Contains(lon, lat float64) bool {
	n := len(p.Ring)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := p.Ring[i][0], p.Ring[i][1]
		xj, yj := p.Ring[j][0], p.Ring[j][1]
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// ContainsPolygon reports whether every vertex of o lies within p. This is a
// vertex test, not a full containment proof, which is sufficient for the
// load-time parent/child sanity check on region hierarchies.
func (p Polygon) ContainsPolygon(o Polygon) bool {
	for _, c := range o.Ring {
		if !p.Contains(c[0], c[1]) {
			return false
		}
	}
	return len(o.Ring) > 0
}

// Centroid returns the vertex-average centroid as (lon, lat).
func (p Polygon) Centroid() (float64, float64, error) {
	n := len(p.Ring)
	if n == 0 {
		return 0, 0, fmt.Errorf("empty polygon")
	}
	// Skip the closing vertex when it repeats the first.
	if n > 1 && p.Ring[0] == p.Ring[n-1] {
		n--
	}
	var sx, sy float64
	for i := 0; i < n; i++ {
		sx += p.Ring[i][0]
		sy += p.Ring[i][1]
	}
	return sx / float64(n), sy / float64(n), nil
}

// AreaHectares approximates the polygon's ground area via the shoelace
// formula with a cos(lat) correction at the centroid latitude.
func (p Polygon) AreaHectares() float64 {
	n := len(p.Ring)
	if n < 3 {
		return 0
	}
	_, centerLat, err := p.Centroid()
	if err != nil {
		return 0
	}
	var sum float64
	j := n - 1
	for i := 0; i < n; i++ {
		sum += (p.Ring[j][0] + p.Ring[i][0]) * (p.Ring[j][1] - p.Ring[i][1])
		j = i
	}
	areaDeg2 := math.Abs(sum) / 2
	mPerLon := units.MetersPerDegreeLon(centerLat)
	return areaDeg2 * mPerLon * units.MetersPerDegreeLat / units.SquareMetersPerHectare
}
