package www

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]any{
		"status":    "ok",
		"database":  h.engine.DB().Ping() == nil,
		"messaging": h.engine.MsgClient().IsConnected(),
	})
}

func (h *Handlers) apiListZones(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Zones().Zones())
}

func (h *Handlers) apiGetZone(w http.ResponseWriter, r *http.Request) {
	z, ok := h.engine.Zones().Get(chi.URLParam(r, "zoneID"))
	if !ok {
		h.jsonError(w, "unknown zone", http.StatusNotFound)
		return
	}
	h.jsonOK(w, z)
}

func (h *Handlers) apiRecentTelemetry(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	readings, err := h.engine.DB().RecentTelemetry(limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, readings)
}

func (h *Handlers) apiListAlerts(w http.ResponseWriter, r *http.Request) {
	unackedOnly := r.URL.Query().Get("all") == ""
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	alerts, err := h.engine.DB().ListAlerts(unackedOnly, limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, alerts)
}

func (h *Handlers) apiAckAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.engine.DB().AckAlert(id); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]int64{"acked": id})
}

func (h *Handlers) apiAuditLog(w http.ResponseWriter, r *http.Request) {
	if entityType := r.URL.Query().Get("entity_type"); entityType != "" {
		entries, err := h.engine.DB().ListEntityAudit(entityType, r.URL.Query().Get("entity_id"))
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.jsonOK(w, entries)
		return
	}
	limit := 200
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.engine.DB().ListAuditLog(limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, entries)
}
