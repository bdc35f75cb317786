// Package region loads and validates the Region Registry: the JSON file of
// Region Configuration records the rest of the pipeline addresses regions
// by.
package region

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mumuon/demregion/internal/pipeerr"
	"github.com/mumuon/demregion/internal/tilegrid"
)

// Type is the closed sum type for a region's kind. Unknown values fail
// hard (spec §3): there is no default variant.
type Type string

const (
	UsaState Type = "usa_state"
	Country  Type = "country"
	Area     Type = "area"
)

// ParseType validates s against the three known variants.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case UsaState, Country, Area:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unknown region_type %q", s)
	}
}

// Region is one entry of the Region Registry, matching §3's Region
// Configuration record field for field.
type Region struct {
	RegionID       string           `json:"region_id"`
	DisplayName    string           `json:"display_name"`
	Bounds         tilegrid.Bounds  `json:"bounds"`
	RegionType     Type             `json:"-"`
	RawRegionType  string           `json:"region_type"`
	Country        string           `json:"country,omitempty"`
	Subdivision    string           `json:"subdivision,omitempty"`
	ParentRegionID string           `json:"parent_region_id,omitempty"`
	PolygonFile    string           `json:"polygon_file,omitempty"`
}

// registryFile is the on-disk shape of the registry JSON.
type registryFile struct {
	Regions []Region `json:"regions"`
}

// Registry is the read-only, process-lifetime set of configured regions.
type Registry struct {
	byID map[string]Region
	ids  []string // insertion order, for List
}

// Load reads and validates a registry file. Every region's region_type
// must parse; an Area region must carry parent_region_id+polygon_file,
// and a UsaState/Country region must carry country (+subdivision for
// UsaState) — mixing the two shapes is a load-time error, not a runtime
// surprise.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading region registry %s: %w", path, err)
	}
	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing region registry %s: %w", path, err)
	}

	reg := &Registry{byID: make(map[string]Region, len(rf.Regions))}
	for _, r := range rf.Regions {
		rt, err := ParseType(r.RawRegionType)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", r.RegionID, err)
		}
		r.RegionType = rt

		if err := r.Bounds.Validate(); err != nil {
			return nil, fmt.Errorf("region %s: %w", r.RegionID, err)
		}

		switch rt {
		case Area:
			if r.ParentRegionID == "" || r.PolygonFile == "" {
				return nil, fmt.Errorf("region %s: area regions require parent_region_id and polygon_file", r.RegionID)
			}
		case UsaState:
			if r.Country == "" || r.Subdivision == "" {
				return nil, fmt.Errorf("region %s: usa_state regions require country and subdivision", r.RegionID)
			}
		case Country:
			if r.Country == "" {
				return nil, fmt.Errorf("region %s: country regions require country", r.RegionID)
			}
		}

		if _, dup := reg.byID[r.RegionID]; dup {
			return nil, fmt.Errorf("duplicate region_id %q in registry", r.RegionID)
		}
		reg.byID[r.RegionID] = r
		reg.ids = append(reg.ids, r.RegionID)
	}
	return reg, nil
}

// Get looks up a region by ID, failing with UnknownRegion rather than a
// bare "not found" so callers can discriminate on Kind.
func (r *Registry) Get(id string) (Region, error) {
	region, ok := r.byID[id]
	if !ok {
		return Region{}, pipeerr.New(pipeerr.UnknownRegion, id, "region", fmt.Errorf("region %q not in registry", id))
	}
	return region, nil
}

// List returns all regions in registry file order.
func (r *Registry) List() []Region {
	out := make([]Region, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}
