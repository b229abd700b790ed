package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"route-deviation-service/internal/auth"
	"route-deviation-service/internal/config"
	"route-deviation-service/internal/domain"
	"route-deviation-service/internal/engine"
	"route-deviation-service/internal/store"
)

const testAPIKey = "test-key"

type api struct {
	server  *httptest.Server
	store   *store.MemoryStore
	tracker *engine.Tracker
	clock   *settableClock
}

type settableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *settableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *settableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newAPI(t *testing.T) *api {
	t.Helper()

	mem := store.NewMemoryStore()
	mem.AddTrip(domain.TripContext{TripID: "trip-1", DriverName: "Dana Driver"}, domain.PlannedRoute{
		TripID: "trip-1",
		Segments: []domain.RouteSegment{{
			Start: domain.LatLng{Lat: 52.0, Lng: 13.0},
			End:   domain.LatLng{Lat: 52.0, Lng: 13.2},
		}},
	}, true)

	clock := &settableClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tracker := engine.NewTracker(engine.TrackerDeps{
		Routes:    mem,
		Records:   mem,
		Incidents: mem,
		Clock:     clock.Now,
	})
	t.Cleanup(tracker.Close)

	authenticator := auth.NewAuthenticator(&config.Config{
		StaffAPIKeys:        []string{testAPIKey + ":staff-test"},
		AuthCacheTTLSeconds: 300,
	}, nil)

	staffFeed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"feed": "connected", "staff": StaffID(r)})
	})
	server := httptest.NewServer(NewRouter(tracker, mem, authenticator, staffFeed))
	t.Cleanup(server.Close)

	return &api{server: server, store: mem, tracker: tracker, clock: clock}
}

func (a *api) do(t *testing.T, method, path, apiKey string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}

	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (a *api) report(t *testing.T, lat, lng float64) (*http.Response, map[string]any) {
	t.Helper()
	return a.do(t, http.MethodPost, "/api/positions", testAPIKey, map[string]any{
		"trip_id": "trip-1",
		"lat":     lat,
		"lng":     lng,
	})
}

func TestPositionEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("rejects missing API key", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)
		resp, body := a.do(t, http.MethodPost, "/api/positions", "", map[string]any{"trip_id": "trip-1", "lat": 52.0, "lng": 13.05})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, body["error"], "API key")
	})

	t.Run("rejects an unknown key", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)
		resp, _ := a.do(t, http.MethodPost, "/api/positions", "wrong-key", map[string]any{"trip_id": "trip-1", "lat": 52.0, "lng": 13.05})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("validates the body", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)

		resp, _ := a.do(t, http.MethodPost, "/api/positions", testAPIKey, map[string]any{"lat": 52.0, "lng": 13.05})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = a.do(t, http.MethodPost, "/api/positions", testAPIKey, map[string]any{"trip_id": "trip-1", "lat": 95.0, "lng": 13.05})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown trip maps to 422", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)
		resp, _ := a.do(t, http.MethodPost, "/api/positions", testAPIKey, map[string]any{"trip_id": "ghost", "lat": 52.0, "lng": 13.05})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("returns the distance to the route", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)
		resp, body := a.report(t, 52.0, 13.05)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "trip-1", body["trip_id"])
		assert.InDelta(t, 0, body["distance_m"].(float64), 1)
	})
}

func TestStaffEndpoints(t *testing.T) {
	t.Parallel()

	// openDeviation drives trip-1 off route and returns the record id from
	// the active listing.
	openDeviation := func(t *testing.T, a *api) string {
		t.Helper()
		resp, _ := a.report(t, 52.1, 13.1)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := a.do(t, http.MethodGet, "/api/deviations/active", testAPIKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		devs := body["deviations"].([]any)
		require.Len(t, devs, 1)
		return devs[0].(map[string]any)["id"].(string)
	}

	t.Run("confirm safe resolves and records the staff id", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)
		id := openDeviation(t, a)

		resp, body := a.do(t, http.MethodPost, fmt.Sprintf("/api/deviations/%s/confirm-safe", id), testAPIKey, map[string]any{"notes": "spoke to driver"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "RESOLVED_SAFE", body["state"])
		assert.Equal(t, "spoke to driver", body["resolved_reason"])

		// Terminal records leave the active listing.
		_, listing := a.do(t, http.MethodGet, "/api/deviations/active", testAPIKey, nil)
		assert.Empty(t, listing["deviations"])

		// And further actions on them conflict.
		resp, _ = a.do(t, http.MethodPost, fmt.Sprintf("/api/deviations/%s/confirm-safe", id), testAPIKey, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("contact, grace and no-contact flow", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)
		id := openDeviation(t, a)
		a.clock.Advance(10 * time.Minute)
		resp, _ := a.report(t, 52.1, 13.1) // escalate to RED
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := a.do(t, http.MethodPost, fmt.Sprintf("/api/deviations/%s/mark-no-contact", id), testAPIKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(1), body["no_contact_count"])
		assert.Equal(t, "RED_SENT", body["state"])

		resp, body = a.do(t, http.MethodPost, fmt.Sprintf("/api/deviations/%s/confirm-contact", id), testAPIKey, map[string]any{"grant_grace": true})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "CONTACTED_WAITING_RETURN", body["state"])
		assert.Equal(t, "staff-test", body["contacted_by"])
		assert.NotNil(t, body["grace_expires_at"])

		for i := 0; i < 3; i++ {
			resp, _ = a.do(t, http.MethodPost, fmt.Sprintf("/api/deviations/%s/extend-grace", id), testAPIKey, nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}
		resp, _ = a.do(t, http.MethodPost, fmt.Sprintf("/api/deviations/%s/extend-grace", id), testAPIKey, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("create incident returns the linked id", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)
		id := openDeviation(t, a)

		resp, body := a.do(t, http.MethodPost, fmt.Sprintf("/api/deviations/%s/create-incident", id), testAPIKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ISSUE_CREATED", body["state"])
		assert.NotEmpty(t, body["incident_id"])
	})

	t.Run("unknown record maps to 404", func(t *testing.T) {
		t.Parallel()
		a := newAPI(t)
		resp, _ := a.do(t, http.MethodPost, "/api/deviations/nope/confirm-safe", testAPIKey, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestStaffFeedAuth(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	t.Run("rejects an unauthenticated upgrade", func(t *testing.T) {
		t.Parallel()
		resp, _ := a.do(t, http.MethodGet, "/ws/staff", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("accepts the key from the header", func(t *testing.T) {
		t.Parallel()
		resp, body := a.do(t, http.MethodGet, "/ws/staff", testAPIKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "staff-test", body["staff"])
	})

	t.Run("accepts the key as a query parameter", func(t *testing.T) {
		t.Parallel()
		// Browser websocket clients cannot set custom headers.
		resp, body := a.do(t, http.MethodGet, "/ws/staff?api_key="+testAPIKey, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "staff-test", body["staff"])
	})

	t.Run("rejects an invalid query key", func(t *testing.T) {
		t.Parallel()
		resp, _ := a.do(t, http.MethodGet, "/ws/staff?api_key=wrong", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	a := newAPI(t)

	resp, body := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	req, err := http.NewRequest(http.MethodGet, a.server.URL+"/metrics", nil)
	require.NoError(t, err)
	mresp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
	assert.Contains(t, mresp.Header.Get("Content-Type"), "text/plain")
}
