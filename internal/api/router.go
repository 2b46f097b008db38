package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(recoveryMiddleware(s.logger))
	r.Use(loggingMiddleware(s.logger))
	r.Use(s.corsMiddleware)
	r.Use(bodySizeLimitMiddleware)

	// Health and metrics.
	r.Get("/health", s.handleHealthLive)
	r.Get("/health/live", s.handleHealthLive)
	r.Get("/health/ready", s.handleHealthReady)
	r.Handle("/metrics", promhttp.Handler())

	// Tesla Fleet shape. evcc and friends talk to these as if the bridge
	// were the Fleet API (or a tesla-http-proxy in front of it).
	r.Route("/api/1/vehicles", func(r chi.Router) {
		r.Get("/", s.handleFleetVehicles)
		r.Route("/{vin}", func(r chi.Router) {
			r.Get("/vehicle_data", s.handleVehicleData)
			r.Get("/body_controller_state", s.handleBodyControllerState)
			r.Get("/state/{objectID}", s.handleState)
			r.Get("/entities", s.handleEntities)
			r.Post("/wake_up", s.handleWakeUp)
			r.Post("/command/{command}", s.handleCommand)
		})
	})
	r.Get("/api/proxy/1/version", s.handleProxyVersion)

	// Bridge-native surface: raw entity snapshots and connection status.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/vehicles", s.handleVehicleStatuses)
		r.Route("/vehicles/{vin}", func(r chi.Router) {
			r.Get("/status", s.handleVehicleStatus)
			r.Get("/entities", s.handleEntities)
			r.Get("/entities/{objectID}", s.handleEntity)
		})
		r.Get("/ws", s.handleWebSocket)
	})
	r.Get("/ws", s.handleWebSocket)

	// Flat convenience routes against the default vehicle, for curl and
	// single-car automations that predate the Fleet surface.
	r.Get("/entities", s.handleEntities)
	r.Get("/state/{objectID}", s.handleState)
	r.Post("/button/{objectID}/press", s.handleButtonPress)
	r.Post("/switch/{objectID}", s.handleSwitchWrite)
	r.Post("/number/{objectID}", s.handleNumberWrite)

	r.Route("/vehicle", func(r chi.Router) {
		r.Get("/battery", s.handleBattery)
		r.Post("/wake_up", s.handleWakeUp)
		r.Post("/charger", s.handleCharger)
		r.Post("/charging_amps", s.handleChargingAmps)
		r.Post("/charging_limit", s.handleChargingLimit)
	})

	return r
}

// handleHealthLive reports process liveness.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleHealthReady reports readiness: every configured vehicle must be
// connected. Cached reads still work while degraded, but a not-ready
// probe tells orchestrators the bridge is running on stale data.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	for _, v := range s.fleet.Vehicles() {
		if !v.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
