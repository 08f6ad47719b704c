package www

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cleanroute/routing"
	"cleanroute/store"
)

type binRequest struct {
	BinID          string   `json:"bin_id"`
	Location       string   `json:"location"`
	Lat            *float64 `json:"lat"`
	Lon            *float64 `json:"lon"`
	CapacityLiters float64  `json:"capacity_liters"`
	ZoneID         string   `json:"zone_id"`
}

func (h *Handlers) apiListBins(w http.ResponseWriter, r *http.Request) {
	if zoneID := r.URL.Query().Get("zone"); zoneID != "" {
		bins, err := h.engine.DB().ListBinsByZone(zoneID)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.jsonOK(w, bins)
		return
	}
	states, err := h.engine.DevState().GetAllBinStates()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, states)
}

func (h *Handlers) apiGetBin(w http.ResponseWriter, r *http.Request) {
	binID := chi.URLParam(r, "binID")
	state, err := h.engine.DevState().GetBinState(binID)
	if err != nil {
		h.jsonError(w, "not found", http.StatusNotFound)
		return
	}
	h.jsonOK(w, state)
}

func (h *Handlers) apiBinTelemetry(w http.ResponseWriter, r *http.Request) {
	binID := chi.URLParam(r, "binID")
	hours := 24
	if s := r.URL.Query().Get("hours"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			hours = n
		}
	}
	readings, err := h.engine.DB().TelemetrySince(binID, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, readings)
}

func (h *Handlers) apiCreateBin(w http.ResponseWriter, r *http.Request) {
	var req binRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BinID == "" {
		h.jsonError(w, "bin_id is required", http.StatusBadRequest)
		return
	}

	b := &store.Bin{
		BinID:          req.BinID,
		Location:       req.Location,
		Lat:            req.Lat,
		Lon:            req.Lon,
		CapacityLiters: req.CapacityLiters,
		ZoneID:         req.ZoneID,
	}
	if b.ZoneID == "" && b.Lat != nil && b.Lon != nil {
		b.ZoneID = h.engine.Zones().Assign(routing.Point{Lat: *b.Lat, Lon: *b.Lon})
	}
	if err := h.engine.DB().CreateBin(b); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	h.engine.DB().AppendAudit("bin", b.BinID, "created", "", b.ZoneID, actor(r))
	h.jsonOK(w, b)
}

func (h *Handlers) apiUpdateBin(w http.ResponseWriter, r *http.Request) {
	binID := chi.URLParam(r, "binID")
	b, err := h.engine.DB().GetBin(binID)
	if err != nil {
		h.jsonError(w, "not found", http.StatusNotFound)
		return
	}

	var req binRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	oldZone := b.ZoneID
	b.Location = req.Location
	b.Lat = req.Lat
	b.Lon = req.Lon
	if req.CapacityLiters > 0 {
		b.CapacityLiters = req.CapacityLiters
	}
	b.ZoneID = req.ZoneID
	if b.ZoneID == "" && b.Lat != nil && b.Lon != nil {
		b.ZoneID = h.engine.Zones().Assign(routing.Point{Lat: *b.Lat, Lon: *b.Lon})
	}
	if err := h.engine.DB().UpdateBin(b); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.engine.DB().AppendAudit("bin", b.BinID, "updated", oldZone, b.ZoneID, actor(r))
	h.jsonOK(w, b)
}

func (h *Handlers) apiDeleteBin(w http.ResponseWriter, r *http.Request) {
	binID := chi.URLParam(r, "binID")
	if _, err := h.engine.DB().GetBin(binID); err != nil {
		h.jsonError(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.engine.DB().DeleteBin(binID); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.engine.DevState().RemoveBin(binID)
	h.engine.DB().AppendAudit("bin", binID, "deleted", "", "", actor(r))
	h.jsonOK(w, map[string]string{"deleted": binID})
}
