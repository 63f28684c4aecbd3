package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"fleet-monitor/dms/internal/metrics"
)

// NewRouter mounts the API. Device routes (events, sessions, telemetry
// writes) sit behind the API key middleware; live may be nil.
func NewRouter(h *Handlers, authMW *AuthMiddleware, live http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/metrics", metrics.HandleMetrics).Methods("GET")
	if live != nil {
		router.Handle("/ws/alerts", live).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(RequestLogger(h.Log))

	device := func(f http.HandlerFunc) http.Handler { return authMW.Wrap(f) }
	api.Handle("/events", device(h.IngestEvents)).Methods("POST")
	api.Handle("/sessions", device(h.UpsertSession)).Methods("POST")
	api.Handle("/telemetry", device(h.IngestTelemetry)).Methods("POST")

	api.HandleFunc("/events", h.ListEvents).Methods("GET")
	api.HandleFunc("/events/recent", h.RecentEvents).Methods("GET")
	api.HandleFunc("/events/{id}", h.GetEvent).Methods("GET")

	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{external_id}", h.GetSession).Methods("GET")
	api.HandleFunc("/buses/{bus_id}/active-session", h.ActiveSessionForVehicle).Methods("GET")

	api.HandleFunc("/alerts", h.ListAlerts).Methods("GET")
	api.HandleFunc("/alerts/active", h.ActiveAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}", h.GetAlert).Methods("GET")
	api.HandleFunc("/alerts/{id}", h.UpdateAlert).Methods("PUT")

	return router
}
