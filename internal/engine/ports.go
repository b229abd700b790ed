package engine

import (
	"context"

	"route-deviation-service/internal/domain"
)

// RouteSource resolves a trip to its planned route and staff-facing metadata.
// Implementations return domain.ErrNoActiveTrip or domain.ErrNoPlannedRoute
// so the engine can reject reports for trips it must not evaluate.
type RouteSource interface {
	PlannedRoute(ctx context.Context, tripID string) (domain.PlannedRoute, error)
	TripContext(ctx context.Context, tripID string) (domain.TripContext, error)
}

// RecordStore is the engine's only durability boundary.
type RecordStore interface {
	// ActiveByTrip returns the trip's non-terminal record, or nil when the
	// trip is not being tracked.
	ActiveByTrip(ctx context.Context, tripID string) (*domain.DeviationRecord, error)
	// ByID returns the record or domain.ErrRecordNotFound.
	ByID(ctx context.Context, id string) (*domain.DeviationRecord, error)
	// ListActive returns every non-terminal record, for the sweeper.
	ListActive(ctx context.Context) ([]*domain.DeviationRecord, error)
	// Save persists the record, creating or overwriting by id.
	Save(ctx context.Context, rec *domain.DeviationRecord) error
}

// IncidentCreator is the external incident system. The engine only keeps the
// returned identifier.
type IncidentCreator interface {
	CreateIncident(ctx context.Context, rec *domain.DeviationRecord, staffID string) (string, error)
}

// Emitter delivers a staff notification. At-most-once: implementations must
// not retry, and callers treat failures as log-and-continue.
type Emitter interface {
	Emit(ctx context.Context, ev domain.Event) error
}

// LiveSink receives every position sample with its computed deviation
// distance, for real-time map views. Best-effort; errors are logged only.
type LiveSink interface {
	UpdateLivePosition(ctx context.Context, report domain.PositionReport, distanceMeters float64) error
}
