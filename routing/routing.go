// Package routing builds per-zone collection routes with a greedy
// nearest-neighbor walk from the zone depot. The heuristic is deliberately
// not optimal; it stays within a few percent of optimal on fleets of tens
// of bins and runs in O(n^2).
package routing

import (
	"math"
	"sort"
	"time"
)

const earthRadiusKm = 6371.0

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Stop struct {
	BinID         string  `json:"bin_id"`
	Point         Point   `json:"point"`
	FillPct       float64 `json:"fill_pct"`
	LegKm         float64 `json:"leg_km"`
	CumulativeKm  float64 `json:"cumulative_km"`
}

type Route struct {
	ZoneID          string    `json:"zone_id"`
	DepotName       string    `json:"depot_name"`
	Depot           Point     `json:"depot"`
	Stops           []Stop    `json:"stops"`
	ReturnLegKm     float64   `json:"return_leg_km"`
	TotalKm         float64   `json:"total_km"`
	DrivingMinutes  float64   `json:"driving_minutes"`
	ServiceMinutes  float64   `json:"service_minutes"`
	TotalMinutes    float64   `json:"total_minutes"`
	ComputedAt      time.Time `json:"computed_at"`
}

type Candidate struct {
	BinID   string
	Point   Point
	FillPct float64
}

type Params struct {
	AverageSpeedKmh    float64
	ServiceTimeMinutes float64
}

func DefaultParams() Params {
	return Params{AverageSpeedKmh: 30, ServiceTimeMinutes: 5}
}

// Haversine returns the great-circle distance between two points in km.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Optimize orders the candidate bins by repeatedly visiting the nearest
// unvisited one, starting from the depot and returning to it. Equal
// distances break toward the lowest bin ID so routes are deterministic.
// Candidates must already have valid coordinates. An empty candidate set
// yields an empty route with zero distance and duration.
func Optimize(zoneID, depotName string, depot Point, candidates []Candidate, p Params) *Route {
	route := &Route{
		ZoneID:     zoneID,
		DepotName:  depotName,
		Depot:      depot,
		ComputedAt: time.Now(),
	}
	if len(candidates) == 0 {
		return route
	}

	unvisited := make([]Candidate, len(candidates))
	copy(unvisited, candidates)
	sort.Slice(unvisited, func(i, j int) bool { return unvisited[i].BinID < unvisited[j].BinID })

	pos := depot
	var total float64
	for len(unvisited) > 0 {
		best := 0
		bestDist := Haversine(pos, unvisited[0].Point)
		for i := 1; i < len(unvisited); i++ {
			d := Haversine(pos, unvisited[i].Point)
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		next := unvisited[best]
		unvisited = append(unvisited[:best], unvisited[best+1:]...)

		total += bestDist
		route.Stops = append(route.Stops, Stop{
			BinID:        next.BinID,
			Point:        next.Point,
			FillPct:      next.FillPct,
			LegKm:        bestDist,
			CumulativeKm: total,
		})
		pos = next.Point
	}

	route.ReturnLegKm = Haversine(pos, depot)
	route.TotalKm = total + route.ReturnLegKm
	route.DrivingMinutes = route.TotalKm / p.AverageSpeedKmh * 60
	route.ServiceMinutes = float64(len(route.Stops)) * p.ServiceTimeMinutes
	route.TotalMinutes = route.DrivingMinutes + route.ServiceMinutes
	return route
}
