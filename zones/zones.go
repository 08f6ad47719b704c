// Package zones maps bin coordinates onto the static zone partition.
package zones

import (
	"sort"

	"cleanroute/routing"
)

type Zone struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Color     string        `json:"color"`
	South     float64       `json:"south"`
	North     float64       `json:"north"`
	West      float64       `json:"west"`
	East      float64       `json:"east"`
	Depot     routing.Point `json:"depot"`
	DepotName string        `json:"depot_name"`
}

// Index holds the configured zones sorted by ID for deterministic lookups.
type Index struct {
	zones []Zone
}

func NewIndex(zs []Zone) *Index {
	sorted := make([]Zone, len(zs))
	copy(sorted, zs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Index{zones: sorted}
}

func (idx *Index) Zones() []Zone { return idx.zones }

func (idx *Index) Get(id string) (Zone, bool) {
	for _, z := range idx.zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}

func (z Zone) contains(p routing.Point) bool {
	return p.Lat >= z.South && p.Lat <= z.North && p.Lon >= z.West && p.Lon <= z.East
}

// Assign maps a point to a zone ID. When more than one zone's rectangle
// contains the point the nearest depot wins, then the lowest zone ID.
// A point outside every rectangle is assigned to the zone with the
// nearest depot so no bin is ever dropped.
func (idx *Index) Assign(p routing.Point) string {
	if len(idx.zones) == 0 {
		return ""
	}
	var containing []Zone
	for _, z := range idx.zones {
		if z.contains(p) {
			containing = append(containing, z)
		}
	}
	if len(containing) == 1 {
		return containing[0].ID
	}
	pool := containing
	if len(pool) == 0 {
		pool = idx.zones
	}
	best := pool[0]
	bestDist := routing.Haversine(p, best.Depot)
	for _, z := range pool[1:] {
		d := routing.Haversine(p, z.Depot)
		if d < bestDist {
			best, bestDist = z, d
		}
	}
	return best.ID
}
