package geo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/banshee-data/cropwatch/internal/monitoring"
)

// RegionLevel is the administrative hierarchy level of a region polygon.
type RegionLevel int

const (
	LevelCountry RegionLevel = iota
	LevelProvince
	LevelFarm
)

var levelNames = map[RegionLevel]string{
	LevelCountry:  "country",
	LevelProvince: "province",
	LevelFarm:     "farm",
}

func (l RegionLevel) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseRegionLevel maps a level name back to its constant.
func ParseRegionLevel(s string) (RegionLevel, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown region level %q", s)
}

// MarshalJSON encodes the level by name.
func (l RegionLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name.
func (l *RegionLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRegionLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Region is an administrative polygon entity. Regions form a hierarchy
// (country, province, farm) via ParentID.
type Region struct {
	ID       string      `json:"region_id"`
	Name     string      `json:"name"`
	Level    RegionLevel `json:"level"`
	ParentID string      `json:"parent_region_id,omitempty"`
	Geometry Polygon     `json:"geometry"`
}

// RegionSet indexes a loaded region hierarchy.
type RegionSet struct {
	byID     map[string]*Region
	children map[string][]*Region
	ordered  []*Region
}

// LoadRegions reads a region hierarchy from a JSON file and verifies parent
// links. Child geometry containment inside the parent is a soft invariant:
// violations are logged, not fatal, since administrative boundary data is
// routinely imprecise at shared borders.
func LoadRegions(path string) (*RegionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	var regions []*Region
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("parse regions file: %w", err)
	}
	return NewRegionSet(regions)
}

// NewRegionSet builds an indexed set from region records.
func NewRegionSet(regions []*Region) (*RegionSet, error) {
	rs := &RegionSet{
		byID:     make(map[string]*Region, len(regions)),
		children: make(map[string][]*Region),
		ordered:  regions,
	}
	for _, r := range regions {
		if r.ID == "" {
			return nil, fmt.Errorf("region %q has no id", r.Name)
		}
		if _, dup := rs.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate region id %q", r.ID)
		}
		rs.byID[r.ID] = r
	}
	for _, r := range regions {
		if r.ParentID == "" {
			continue
		}
		parent, ok := rs.byID[r.ParentID]
		if !ok {
			return nil, fmt.Errorf("region %q references unknown parent %q", r.ID, r.ParentID)
		}
		if !parent.Geometry.ContainsPolygon(r.Geometry) {
			monitoring.Logf("region %s extends outside parent %s", r.ID, parent.ID)
		}
		rs.children[r.ParentID] = append(rs.children[r.ParentID], r)
	}
	return rs, nil
}

// Get returns a region by ID.
func (rs *RegionSet) Get(id string) (*Region, bool) {
	r, ok := rs.byID[id]
	return r, ok
}

// Children returns the direct children of a region.
func (rs *RegionSet) Children(id string) []*Region {
	return rs.children[id]
}

// AtLevel returns all regions at the given hierarchy level, in load order.
func (rs *RegionSet) AtLevel(level RegionLevel) []*Region {
	var out []*Region
	for _, r := range rs.ordered {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

// Intersecting returns regions at a level whose geometry bounds overlap the
// given box, in load order.
func (rs *RegionSet) Intersecting(level RegionLevel, b BBox) []*Region {
	var out []*Region
	for _, r := range rs.AtLevel(level) {
		if r.Geometry.Bounds().Intersects(b) {
			out = append(out, r)
		}
	}
	return out
}

// All returns every region in load order.
func (rs *RegionSet) All() []*Region {
	return rs.ordered
}
