package www

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cleanroute/messaging"
)

var operatorCommands = map[string]bool{
	messaging.CmdConfigure:          true,
	messaging.CmdReboot:             true,
	messaging.CmdRequestDiagnostics: true,
	messaging.CmdOTAUpdate:          true,
}

func (h *Handlers) apiBinCommand(w http.ResponseWriter, r *http.Request) {
	binID := chi.URLParam(r, "binID")

	var req struct {
		Command string         `json:"command"`
		Params  map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !operatorCommands[req.Command] {
		h.jsonError(w, "unsupported command "+req.Command, http.StatusBadRequest)
		return
	}
	if req.Command == messaging.CmdOTAUpdate {
		if v, _ := req.Params["version"].(string); v == "" {
			h.jsonError(w, "ota_update requires a version param", http.StatusBadRequest)
			return
		}
	}

	if _, err := h.engine.DB().GetBin(binID); err != nil {
		h.jsonError(w, "not found", http.StatusNotFound)
		return
	}
	cmd, err := h.engine.IssueBinCommand(binID, req.Command, req.Params, actor(r))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.jsonOK(w, cmd)
}

func (h *Handlers) apiBinCommands(w http.ResponseWriter, r *http.Request) {
	binID := chi.URLParam(r, "binID")
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	cmds, err := h.engine.DB().ListCommandsForBin(binID, limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, cmds)
}

func (h *Handlers) apiBinOTAUpdates(w http.ResponseWriter, r *http.Request) {
	binID := chi.URLParam(r, "binID")
	updates, err := h.engine.DB().ListOTAUpdatesForBin(binID)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, updates)
}
