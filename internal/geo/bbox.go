// Package geo provides the tile grid, bounding boxes, and region polygons
// used to partition a scan area into units of acquisition.
package geo

import "fmt"

// BBox is a geographic bounding box in lon/lat degrees (EPSG:4326).
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Validate checks that the box is non-empty and within valid coordinates.
func (b BBox) Validate() error {
	if b.West >= b.East {
		return fmt.Errorf("invalid bbox: west (%f) must be less than east (%f)", b.West, b.East)
	}
	if b.South >= b.North {
		return fmt.Errorf("invalid bbox: south (%f) must be less than north (%f)", b.South, b.North)
	}
	if b.West < -180 || b.East > 180 || b.South < -90 || b.North > 90 {
		return fmt.Errorf("bbox out of range: %v", b)
	}
	return nil
}

// Center returns the box midpoint as (lon, lat).
func (b BBox) Center() (float64, float64) {
	return (b.West + b.East) / 2, (b.South + b.North) / 2
}

// Contains reports whether the lon/lat point lies within the box.
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.West && lon <= b.East && lat >= b.South && lat <= b.North
}

// Intersects reports whether two boxes overlap.
func (b BBox) Intersects(o BBox) bool {
	return b.West <= o.East && b.East >= o.West && b.South <= o.North && b.North >= o.South
}

// Intersection returns the overlapping box and whether any overlap exists.
func (b BBox) Intersection(o BBox) (BBox, bool) {
	if !b.Intersects(o) {
		return BBox{}, false
	}
	out := BBox{
		West:  max(b.West, o.West),
		South: max(b.South, o.South),
		East:  min(b.East, o.East),
		North: min(b.North, o.North),
	}
	return out, true
}

func (b BBox) String() string {
	return fmt.Sprintf("[%f,%f,%f,%f]", b.West, b.South, b.East, b.North)
}
