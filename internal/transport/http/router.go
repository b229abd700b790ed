package http

import (
	"net/http"

	"route-deviation-service/internal/auth"
	"route-deviation-service/internal/engine"
)

// NewRouter wires the HTTP surface: position ingest, staff actions, dashboard
// reads, the staff websocket feed, health and metrics. Everything under /api
// and the websocket feed require an API key; staffFeed may be nil.
func NewRouter(tracker *engine.Tracker, records engine.RecordStore, authenticator *auth.Authenticator, staffFeed http.Handler) http.Handler {
	h := &Handlers{Tracker: tracker, Records: records}
	authn := NewAuthMiddleware(authenticator)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/positions", h.Position)
	api.HandleFunc("GET /api/deviations/active", h.ListActive)
	api.HandleFunc("POST /api/deviations/{id}/confirm-safe", h.ConfirmSafe)
	api.HandleFunc("POST /api/deviations/{id}/confirm-contact", h.ConfirmContact)
	api.HandleFunc("POST /api/deviations/{id}/extend-grace", h.ExtendGrace)
	api.HandleFunc("POST /api/deviations/{id}/mark-no-contact", h.MarkNoContact)
	api.HandleFunc("POST /api/deviations/{id}/create-incident", h.CreateIncident)

	mux := http.NewServeMux()
	mux.Handle("/api/", authn.Wrap(api))
	if staffFeed != nil {
		mux.Handle("GET /ws/staff", authn.Wrap(staffFeed))
	}
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /metrics", h.Metrics)

	return loggingMiddleware(mux)
}
