package www

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cleanroute/forecast"
	"cleanroute/metrics"
	"cleanroute/store"
)

// forecastQuery resolves the shared target_time and threshold parameters.
func (h *Handlers) forecastQuery(r *http.Request) (time.Time, float64, error) {
	cfg := h.engine.AppConfig()
	now := time.Now()

	targetStr := r.URL.Query().Get("target_time")
	if targetStr == "" {
		targetStr = "24h"
	}
	target, err := forecast.ParseTargetTime(targetStr, now)
	if err != nil {
		return time.Time{}, 0, err
	}

	threshold := cfg.Forecast.Threshold
	if s := r.URL.Query().Get("threshold"); s != "" {
		if f, perr := strconv.ParseFloat(s, 64); perr == nil && f > 0 && f <= 100 {
			threshold = f
		}
	}
	return target, threshold, nil
}

func (h *Handlers) forecastParams() forecast.Params {
	cfg := h.engine.AppConfig()
	return forecast.Params{
		Alpha:         cfg.Forecast.Alpha,
		MinDataPoints: cfg.Forecast.MinDataPoints,
		MaxRatePerHr:  cfg.Forecast.MaxRatePerHr,
		VarianceBound: cfg.Forecast.VarianceBound,
	}
}

func (h *Handlers) predictBin(b *store.Bin, target time.Time, threshold float64) (*forecast.Prediction, error) {
	cfg := h.engine.AppConfig()
	since := time.Now().AddDate(0, 0, -cfg.Forecast.HistoryDays)
	readings, err := h.engine.DB().TelemetrySince(b.BinID, since)
	if err != nil {
		return nil, err
	}
	history := make([]forecast.Reading, len(readings))
	for i, r := range readings {
		history[i] = forecast.Reading{Timestamp: r.Timestamp, FillPct: r.FillPct}
	}
	return forecast.Predict(b.BinID, history, time.Now(), target, threshold, h.forecastParams())
}

func (h *Handlers) apiForecastAll(w http.ResponseWriter, r *http.Request) {
	target, threshold, err := h.forecastQuery(r)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	bins, err := h.engine.DB().ListBins()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	predictions := make([]*forecast.Prediction, 0, len(bins))
	for _, b := range bins {
		p, err := h.predictBin(b, target, threshold)
		if err != nil {
			metrics.IncForecastRequest("error")
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		predictions = append(predictions, p)
	}
	metrics.IncForecastRequest("success")
	h.jsonOK(w, map[string]any{
		"target_time": target,
		"threshold":   threshold,
		"predictions": predictions,
	})
}

func (h *Handlers) apiForecastBin(w http.ResponseWriter, r *http.Request) {
	binID := chi.URLParam(r, "binID")
	b, err := h.engine.DB().GetBin(binID)
	if err != nil {
		h.jsonError(w, "not found", http.StatusNotFound)
		return
	}
	target, threshold, err := h.forecastQuery(r)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := h.predictBin(b, target, threshold)
	if err != nil {
		metrics.IncForecastRequest("error")
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.IncForecastRequest("success")
	h.jsonOK(w, p)
}
