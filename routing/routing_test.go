package routing

import (
	"math"
	"testing"
)

var colomboDepot = Point{Lat: 6.9271, Lon: 79.8612}

func TestHaversineProperties(t *testing.T) {
	a := Point{Lat: 6.9271, Lon: 79.8612}
	b := Point{Lat: 6.9344, Lon: 79.8428}

	if d := Haversine(a, a); d != 0 {
		t.Errorf("dist(a,a) = %v, want 0", d)
	}
	ab := Haversine(a, b)
	ba := Haversine(b, a)
	if math.Abs(ab-ba) > 1e-12 {
		t.Errorf("asymmetric: %v vs %v", ab, ba)
	}
	if ab <= 0 {
		t.Errorf("dist(a,b) = %v, want > 0", ab)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Colombo to Kandy is roughly 94 km great-circle.
	colombo := Point{Lat: 6.9271, Lon: 79.8612}
	kandy := Point{Lat: 7.2906, Lon: 80.6337}
	d := Haversine(colombo, kandy)
	if d < 90 || d > 100 {
		t.Errorf("Colombo-Kandy = %v km, want about 94", d)
	}
}

func TestOptimizeEmpty(t *testing.T) {
	r := Optimize("colombo_zone1", "Depot", colomboDepot, nil, DefaultParams())
	if len(r.Stops) != 0 {
		t.Errorf("Stops = %d, want 0", len(r.Stops))
	}
	if r.TotalKm != 0 || r.TotalMinutes != 0 {
		t.Errorf("TotalKm = %v TotalMinutes = %v, want 0", r.TotalKm, r.TotalMinutes)
	}
}

func TestOptimizeTwoBins(t *testing.T) {
	near := Candidate{BinID: "BIN-B", Point: Point{Lat: 6.925, Lon: 79.858}, FillPct: 85}
	far := Candidate{BinID: "BIN-A", Point: Point{Lat: 6.930, Lon: 79.862}, FillPct: 90}

	r := Optimize("colombo_zone1", "Depot", colomboDepot, []Candidate{far, near}, DefaultParams())
	if len(r.Stops) != 2 {
		t.Fatalf("Stops = %d, want 2", len(r.Stops))
	}
	if r.Stops[0].BinID != "BIN-B" {
		t.Errorf("first stop = %s, want nearer BIN-B", r.Stops[0].BinID)
	}

	leg1 := Haversine(colomboDepot, near.Point)
	leg2 := Haversine(near.Point, far.Point)
	leg3 := Haversine(far.Point, colomboDepot)
	want := leg1 + leg2 + leg3
	if math.Abs(r.TotalKm-want) > 1e-9 {
		t.Errorf("TotalKm = %v, want sum of legs %v", r.TotalKm, want)
	}

	wantDriving := want / 30 * 60
	if math.Abs(r.DrivingMinutes-wantDriving) > 1e-9 {
		t.Errorf("DrivingMinutes = %v, want %v", r.DrivingMinutes, wantDriving)
	}
	if r.ServiceMinutes != 10 {
		t.Errorf("ServiceMinutes = %v, want 10 for two stops", r.ServiceMinutes)
	}
}

func TestOptimizeNeverRevisits(t *testing.T) {
	candidates := []Candidate{
		{BinID: "BIN-1", Point: Point{Lat: 6.93, Lon: 79.86}},
		{BinID: "BIN-2", Point: Point{Lat: 6.92, Lon: 79.87}},
		{BinID: "BIN-3", Point: Point{Lat: 6.94, Lon: 79.85}},
		{BinID: "BIN-4", Point: Point{Lat: 6.91, Lon: 79.88}},
		{BinID: "BIN-5", Point: Point{Lat: 6.95, Lon: 79.84}},
	}
	r := Optimize("colombo_zone1", "Depot", colomboDepot, candidates, DefaultParams())
	if len(r.Stops) != len(candidates) {
		t.Fatalf("Stops = %d, want %d", len(r.Stops), len(candidates))
	}
	seen := map[string]bool{}
	for _, s := range r.Stops {
		if seen[s.BinID] {
			t.Fatalf("bin %s visited twice", s.BinID)
		}
		seen[s.BinID] = true
	}
	if r.ReturnLegKm <= 0 {
		t.Error("route should end with a return leg to the depot")
	}
}

func TestOptimizeEqualDistanceTieBreak(t *testing.T) {
	// Two bins equidistant from the depot, east and west.
	east := Candidate{BinID: "BIN-ZZ", Point: Point{Lat: 6.9271, Lon: 79.8712}}
	west := Candidate{BinID: "BIN-AA", Point: Point{Lat: 6.9271, Lon: 79.8512}}

	r := Optimize("colombo_zone1", "Depot", colomboDepot, []Candidate{east, west}, DefaultParams())
	if r.Stops[0].BinID != "BIN-AA" {
		t.Errorf("first stop = %s, want lowest bin ID BIN-AA", r.Stops[0].BinID)
	}
}

func TestOptimizeCumulativeDistances(t *testing.T) {
	candidates := []Candidate{
		{BinID: "BIN-1", Point: Point{Lat: 6.93, Lon: 79.86}},
		{BinID: "BIN-2", Point: Point{Lat: 6.94, Lon: 79.87}},
	}
	r := Optimize("colombo_zone1", "Depot", colomboDepot, candidates, DefaultParams())
	var running float64
	for _, s := range r.Stops {
		running += s.LegKm
		if math.Abs(s.CumulativeKm-running) > 1e-9 {
			t.Errorf("stop %s cumulative = %v, want %v", s.BinID, s.CumulativeKm, running)
		}
	}
}
