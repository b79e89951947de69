package geo

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func square(west, south, size float64) Polygon {
	return FromBBox(BBox{West: west, South: south, East: west + size, North: south + size})
}

func TestPolygonContains(t *testing.T) {
	p := square(105, 10, 1)

	if !p.Contains(105.5, 10.5) {
		t.Error("centre point should be inside")
	}
	if p.Contains(107, 10.5) {
		t.Error("point east of square should be outside")
	}
	if p.Contains(105.5, 9) {
		t.Error("point south of square should be outside")
	}
}

func TestPolygonContainsPolygon(t *testing.T) {
	parent := square(105, 10, 2)
	child := square(105.5, 10.5, 0.5)
	outside := square(108, 10, 1)

	if !parent.ContainsPolygon(child) {
		t.Error("child should be contained in parent")
	}
	if parent.ContainsPolygon(outside) {
		t.Error("disjoint polygon should not be contained")
	}
}

func TestPolygonCentroid(t *testing.T) {
	p := square(105, 10, 1)
	lon, lat, err := p.Centroid()
	if err != nil {
		t.Fatalf("centroid failed: %v", err)
	}
	if math.Abs(lon-105.5) > 1e-9 || math.Abs(lat-10.5) > 1e-9 {
		t.Errorf("centroid = (%f, %f), want (105.5, 10.5)", lon, lat)
	}

	if _, _, err := (Polygon{}).Centroid(); err == nil {
		t.Error("expected error for empty polygon")
	}
}

func TestPolygonAreaHectares(t *testing.T) {
	// A 0.01 x 0.01 degree square near the equator is roughly
	// 1113.2m x 1113.2m ≈ 123.9 hectares.
	p := square(105, 0, 0.01)
	got := p.AreaHectares()
	want := 1113.2 * 1113.2 / 10000
	if math.Abs(got-want)/want > 0.01 {
		t.Errorf("area = %f ha, want ~%f ha", got, want)
	}
}

func TestRegionSetHierarchy(t *testing.T) {
	regions := []*Region{
		{ID: "vn", Name: "Vietnam", Level: LevelCountry, Geometry: square(102, 8, 10)},
		{ID: "vn-ct", Name: "Can Tho", Level: LevelProvince, ParentID: "vn", Geometry: square(105, 9.8, 0.6)},
		{ID: "farm-1", Name: "Farm 1", Level: LevelFarm, ParentID: "vn-ct", Geometry: square(105.1, 9.9, 0.05)},
		{ID: "farm-2", Name: "Farm 2", Level: LevelFarm, ParentID: "vn-ct", Geometry: square(105.3, 10.0, 0.05)},
	}
	rs, err := NewRegionSet(regions)
	if err != nil {
		t.Fatalf("region set failed: %v", err)
	}

	if got := len(rs.AtLevel(LevelFarm)); got != 2 {
		t.Errorf("farms = %d, want 2", got)
	}
	if got := len(rs.Children("vn-ct")); got != 2 {
		t.Errorf("children of vn-ct = %d, want 2", got)
	}
	hits := rs.Intersecting(LevelFarm, BBox{West: 105.0, South: 9.85, East: 105.2, North: 10.0})
	if len(hits) != 1 || hits[0].ID != "farm-1" {
		t.Errorf("intersecting farms = %v, want [farm-1]", hits)
	}
}

func TestRegionSetRejectsBadLinks(t *testing.T) {
	_, err := NewRegionSet([]*Region{
		{ID: "a", Level: LevelFarm, ParentID: "missing", Geometry: square(0, 0, 1)},
	})
	if err == nil {
		t.Error("expected error for unknown parent")
	}

	_, err = NewRegionSet([]*Region{
		{ID: "a", Level: LevelFarm, Geometry: square(0, 0, 1)},
		{ID: "a", Level: LevelFarm, Geometry: square(1, 1, 1)},
	})
	if err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestTileIndexRoundTrip(t *testing.T) {
	region := BBox{West: 105, South: 10, East: 105.2, North: 10.2}
	tiles, err := Grid(region, 6720, 30)
	if err != nil {
		t.Fatalf("grid generation failed: %v", err)
	}

	idx := NewTileIndex("mekong_delta", tiles)
	idx.SetFrameDates(tiles[0].ID, []string{"2026-03-02", "2026-04-11", "2026-05-08"}, time.Unix(1770000000, 0))

	path := filepath.Join(t.TempDir(), "tile_index.json")
	if err := idx.WriteFile(path); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := ReadTileIndex(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if diff := cmp.Diff(idx, got); diff != "" {
		t.Errorf("index round trip mismatch (-want +got):\n%s", diff)
	}
}
