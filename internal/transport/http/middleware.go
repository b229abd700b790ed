package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"route-deviation-service/internal/auth"
)

type contextKey string

const staffIDKey contextKey = "staffID"

// StaffID returns the authenticated staff id for the request, or "".
func StaffID(r *http.Request) string {
	id, _ := r.Context().Value(staffIDKey).(string)
	return id
}

type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			// Browser websocket clients cannot set headers on the
			// upgrade request; they pass the key as a query parameter.
			apiKey = r.URL.Query().Get("api_key")
		}
		if apiKey == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing API key"}`))
			return
		}

		staffID := m.auth.Resolve(r.Context(), apiKey)
		if staffID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid API key"}`))
			return
		}

		ctx := context.WithValue(r.Context(), staffIDKey, staffID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("request method=%s path=%s duration=%s", r.Method, r.URL.Path, time.Since(start))
	})
}
