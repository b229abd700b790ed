package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"route-deviation-service/internal/domain"
)

// MemoryStore is an in-process implementation of the engine's collaborators
// (records, trips/routes, incidents) for tests and local runs. Records are
// cloned on the way in and out, matching the copy semantics of a real store.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*domain.DeviationRecord
	trips     map[string]domain.TripContext
	routes    map[string]domain.PlannedRoute
	active    map[string]bool
	incidents map[string]string // incident id -> record id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*domain.DeviationRecord),
		trips:     make(map[string]domain.TripContext),
		routes:    make(map[string]domain.PlannedRoute),
		active:    make(map[string]bool),
		incidents: make(map[string]string),
	}
}

// AddTrip registers a trip with its route and metadata.
func (s *MemoryStore) AddTrip(trip domain.TripContext, route domain.PlannedRoute, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[trip.TripID] = trip
	s.routes[trip.TripID] = route
	s.active[trip.TripID] = active
}

func (s *MemoryStore) Save(_ context.Context, rec *domain.DeviationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) ActiveByTrip(_ context.Context, tripID string) (*domain.DeviationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.TripID == tripID && !rec.State.Terminal() {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ByID(_ context.Context, id string) (*domain.DeviationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, domain.ErrRecordNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*domain.DeviationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.DeviationRecord
	for _, rec := range s.records {
		if !rec.State.Terminal() {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) PlannedRoute(_ context.Context, tripID string) (domain.PlannedRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active[tripID] {
		return domain.PlannedRoute{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrNoActiveTrip)
	}
	route, ok := s.routes[tripID]
	if !ok || len(route.Segments) == 0 {
		return domain.PlannedRoute{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrNoPlannedRoute)
	}
	return route, nil
}

func (s *MemoryStore) TripContext(_ context.Context, tripID string) (domain.TripContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trip, ok := s.trips[tripID]
	if !ok {
		return domain.TripContext{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrNoActiveTrip)
	}
	return trip, nil
}

func (s *MemoryStore) CreateIncident(_ context.Context, rec *domain.DeviationRecord, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.incidents[id] = rec.ID
	return id, nil
}
