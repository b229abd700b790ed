package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"route-deviation-service/internal/domain"
	"route-deviation-service/internal/engine"
)

// Handlers exposes the engine over HTTP: the position ingest path, the staff
// action endpoints, and the read-only dashboard views.
type Handlers struct {
	Tracker *engine.Tracker
	Records engine.RecordStore
}

type positionRequest struct {
	TripID    string  `json:"trip_id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	SpeedKmh  float64 `json:"speed_kmh"`
	Bearing   float64 `json:"bearing"`
	Timestamp int64   `json:"timestamp"`
}

type positionResponse struct {
	TripID         string  `json:"trip_id"`
	DistanceMeters float64 `json:"distance_m"`
}

// Position accepts one live position sample and returns the current distance
// to the planned route, whether or not escalation fired.
func (h *Handlers) Position(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TripID == "" {
		writeError(w, r, http.StatusBadRequest, "trip_id is required")
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, r, http.StatusBadRequest, "coordinates out of range")
		return
	}

	ts := time.Now()
	if req.Timestamp > 0 {
		ts = time.Unix(req.Timestamp, 0)
	}

	distance, err := h.Tracker.OnPositionReport(r.Context(), domain.PositionReport{
		TripID:    req.TripID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		SpeedKmh:  req.SpeedKmh,
		Bearing:   req.Bearing,
		Timestamp: ts,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, positionResponse{TripID: req.TripID, DistanceMeters: distance})
}

type confirmSafeRequest struct {
	Notes string `json:"notes"`
}

func (h *Handlers) ConfirmSafe(w http.ResponseWriter, r *http.Request) {
	var req confirmSafeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := h.Tracker.ConfirmSafe(r.Context(), r.PathValue("id"), StaffID(r), req.Notes)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recordResponse(rec))
}

type confirmContactRequest struct {
	GrantGrace bool `json:"grant_grace"`
}

func (h *Handlers) ConfirmContact(w http.ResponseWriter, r *http.Request) {
	var req confirmContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := h.Tracker.ConfirmContact(r.Context(), r.PathValue("id"), StaffID(r), req.GrantGrace)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recordResponse(rec))
}

func (h *Handlers) ExtendGrace(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Tracker.ExtendGracePeriod(r.Context(), r.PathValue("id"), StaffID(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recordResponse(rec))
}

func (h *Handlers) MarkNoContact(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Tracker.MarkNoContact(r.Context(), r.PathValue("id"), StaffID(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recordResponse(rec))
}

func (h *Handlers) CreateIncident(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Tracker.CreateIncident(r.Context(), r.PathValue("id"), StaffID(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recordResponse(rec))
}

func (h *Handlers) ListActive(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Records.ListActive(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "listing active deviations failed")
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordResponse(rec))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"deviations": out})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	h.Tracker.Counters().WritePlaintext(w)
}

func recordResponse(rec *domain.DeviationRecord) map[string]any {
	out := map[string]any{
		"id":               rec.ID,
		"trip_id":          rec.TripID,
		"state":            string(rec.State),
		"started_at":       rec.StartedAt.Unix(),
		"last_update_at":   rec.LastUpdateAt.Unix(),
		"last_lat":         rec.LastLatitude,
		"last_lng":         rec.LastLongitude,
		"distance_m":       rec.LastDistanceMeters,
		"grace_extensions": rec.GracePeriodExtensionCount,
		"no_contact_count": rec.NoContactCount,
	}
	putUnix(out, "yellow_sent_at", rec.YellowSentAt)
	putUnix(out, "red_sent_at", rec.RedSentAt)
	putUnix(out, "contacted_at", rec.ContactedAt)
	putUnix(out, "grace_expires_at", rec.GracePeriodExpiresAt)
	putUnix(out, "resolved_at", rec.ResolvedAt)
	if rec.ContactedBy != "" {
		out["contacted_by"] = rec.ContactedBy
	}
	if rec.ResolvedReason != "" {
		out["resolved_reason"] = rec.ResolvedReason
	}
	if rec.LinkedIncidentID != "" {
		out["incident_id"] = rec.LinkedIncidentID
	}
	return out
}

func putUnix(out map[string]any, key string, t *time.Time) {
	if t != nil {
		out[key] = t.Unix()
	}
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoActiveTrip), errors.Is(err, domain.ErrNoPlannedRoute):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrExtensionLimit):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		log.Printf("internal error method=%s path=%s err=%v", r.Method, r.URL.Path, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode failed: method=%s path=%s err=%v", r.Method, r.URL.Path, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
