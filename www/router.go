package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cleanroute/engine"
	"cleanroute/metrics"
)

type Handlers struct {
	engine    *engine.Engine
	jwtSecret string
}

func NewRouter(eng *engine.Engine) http.Handler {
	h := &Handlers{
		engine:    eng,
		jwtSecret: eng.AppConfig().Web.JWTSecret,
	}
	h.ensureDefaultAdmin(eng.DB())
	metrics.Init()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/login", h.handleLogin)

	// Read endpoints
	r.Get("/api/health", h.apiHealth)
	r.Get("/api/zones", h.apiListZones)
	r.Get("/api/zones/{zoneID}", h.apiGetZone)
	r.Get("/api/telemetry/recent", h.apiRecentTelemetry)
	r.Get("/api/bins", h.apiListBins)
	r.Get("/api/bins/{binID}", h.apiGetBin)
	r.Get("/api/bins/{binID}/telemetry", h.apiBinTelemetry)
	r.Get("/api/bins/{binID}/commands", h.apiBinCommands)
	r.Get("/api/bins/{binID}/updates", h.apiBinOTAUpdates)
	r.Get("/api/forecast", h.apiForecastAll)
	r.Get("/api/forecast/{binID}", h.apiForecastBin)
	r.Get("/api/routes", h.apiRoutesAll)
	r.Get("/api/routes/{zoneID}", h.apiRouteZone)
	r.Get("/api/zones/{zoneID}/collection", h.apiCollectionStatus)
	r.Get("/api/zones/{zoneID}/sessions", h.apiListSessions)
	r.Get("/api/alerts", h.apiListAlerts)
	r.Get("/api/audit", h.apiAuditLog)

	// Mutations need a login
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/api/bins", h.apiCreateBin)
		r.Put("/api/bins/{binID}", h.apiUpdateBin)
		r.Delete("/api/bins/{binID}", h.apiDeleteBin)
		r.Post("/api/bins/{binID}/command", h.apiBinCommand)
		r.Post("/api/zones/{zoneID}/collection/start", h.apiCollectionStart)
		r.Post("/api/zones/{zoneID}/collection/check", h.apiCollectionCheck)
		r.Post("/api/zones/{zoneID}/collection/finish", h.apiCollectionFinish)
		r.Post("/api/zones/{zoneID}/collection/end", h.apiCollectionEnd)
		r.Post("/api/alerts/{id}/ack", h.apiAckAlert)
	})

	return r
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
