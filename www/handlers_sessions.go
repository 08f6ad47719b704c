package www

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cleanroute/lifecycle"
)

var errUnknownZone = errors.New("unknown zone")

func (h *Handlers) sessionAction(w http.ResponseWriter, r *http.Request, fn func(string) (*lifecycle.Snapshot, error)) {
	zoneID := chi.URLParam(r, "zoneID")
	if _, ok := h.engine.Zones().Get(zoneID); !ok {
		h.jsonError(w, "unknown zone", http.StatusNotFound)
		return
	}
	snap, err := fn(zoneID)
	switch {
	case errors.Is(err, lifecycle.ErrSessionActive):
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, lifecycle.ErrNoActiveSession):
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, snap)
}

func (h *Handlers) apiCollectionStart(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.engine.Lifecycle().StartCollection)
}

func (h *Handlers) apiCollectionCheck(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.engine.Lifecycle().CheckStatus)
}

func (h *Handlers) apiCollectionFinish(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.engine.Lifecycle().Finish)
}

func (h *Handlers) apiCollectionEnd(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.engine.Lifecycle().End)
}

func (h *Handlers) apiCollectionStatus(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")
	if _, ok := h.engine.Zones().Get(zoneID); !ok {
		h.jsonError(w, "unknown zone", http.StatusNotFound)
		return
	}
	snap, err := h.engine.Lifecycle().Snapshot(zoneID)
	if errors.Is(err, lifecycle.ErrNoActiveSession) {
		h.jsonOK(w, map[string]any{"zone_id": zoneID, "state": "not_started"})
		return
	}
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, snap)
}

func (h *Handlers) apiListSessions(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := h.engine.DB().ListSessions(zoneID, limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, sessions)
}
