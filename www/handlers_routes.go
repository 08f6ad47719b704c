package www

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cleanroute/metrics"
	"cleanroute/routing"
)

func (h *Handlers) routingParams() routing.Params {
	cfg := h.engine.AppConfig()
	return routing.Params{
		AverageSpeedKmh:    cfg.Routing.AverageSpeedKmh,
		ServiceTimeMinutes: cfg.Routing.ServiceTimeMinutes,
	}
}

// zoneRoute plans collection for one zone. Bins without coordinates,
// offline bins and bins declared unresponsive in the zone's active
// session carry no pickup value and are left out.
func (h *Handlers) zoneRoute(zoneID string, target time.Time, threshold float64) (*routing.Route, error) {
	z, ok := h.engine.Zones().Get(zoneID)
	if !ok {
		return nil, errUnknownZone
	}
	bins, err := h.engine.DB().ListBinsByZone(zoneID)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool)
	for _, id := range h.engine.Lifecycle().UnresponsiveBins(zoneID) {
		skip[id] = true
	}

	var candidates []routing.Candidate
	for _, b := range bins {
		if b.Lat == nil || b.Lon == nil || b.DeviceStatus == "offline" || skip[b.BinID] {
			continue
		}
		p, err := h.predictBin(b, target, threshold)
		if err != nil {
			return nil, err
		}
		if !p.NeedsCollection {
			continue
		}
		candidates = append(candidates, routing.Candidate{
			BinID:   b.BinID,
			Point:   routing.Point{Lat: *b.Lat, Lon: *b.Lon},
			FillPct: p.PredictedFill,
		})
	}

	route := routing.Optimize(zoneID, z.DepotName, z.Depot, candidates, h.routingParams())
	metrics.IncRoutePlanned(zoneID)
	return route, nil
}

func (h *Handlers) apiRouteZone(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")
	target, threshold, err := h.forecastQuery(r)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	route, err := h.zoneRoute(zoneID, target, threshold)
	if err == errUnknownZone {
		h.jsonError(w, "unknown zone", http.StatusNotFound)
		return
	}
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.jsonOK(w, route)
}

func (h *Handlers) apiRoutesAll(w http.ResponseWriter, r *http.Request) {
	target, threshold, err := h.forecastQuery(r)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	routes := make(map[string]*routing.Route)
	for _, z := range h.engine.Zones().Zones() {
		route, err := h.zoneRoute(z.ID, target, threshold)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		routes[z.ID] = route
	}
	h.jsonOK(w, map[string]any{
		"target_time": target,
		"threshold":   threshold,
		"routes":      routes,
	})
}
