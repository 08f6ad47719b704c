package zones

import (
	"cleanroute/config"
	"cleanroute/routing"
)

// FromConfig converts configured zone definitions into index entries.
func FromConfig(cfgZones []config.ZoneConfig) []Zone {
	zs := make([]Zone, 0, len(cfgZones))
	for _, z := range cfgZones {
		zs = append(zs, Zone{
			ID:        z.ID,
			Name:      z.Name,
			Color:     z.Color,
			South:     z.Bounds.South,
			North:     z.Bounds.North,
			West:      z.Bounds.West,
			East:      z.Bounds.East,
			Depot:     routing.Point{Lat: z.Depot.Lat, Lon: z.Depot.Lon},
			DepotName: z.Depot.Name,
		})
	}
	return zs
}
