package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"route-deviation-service/internal/domain"
)

func TestMemoryStoreRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rec := &domain.DeviationRecord{
		ID:        "rec-1",
		TripID:    "trip-1",
		State:     domain.StateYellowSent,
		StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	t.Run("save and load copies, not aliases", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.ByID(ctx, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)

		// Mutating the loaded copy must not leak into the store.
		got.State = domain.StateResolvedSafe
		again, err := s.ByID(ctx, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StateYellowSent, again.State)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		_, err := s.ByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("active lookup skips terminal records", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		closed := rec.Clone()
		closed.ID = "rec-closed"
		closed.State = domain.StateBackOnRoute
		require.NoError(t, s.Save(ctx, closed))

		got, err := s.ActiveByTrip(ctx, "trip-1")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, s.Save(ctx, rec))
		got, err = s.ActiveByTrip(ctx, "trip-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "rec-1", got.ID)

		active, err := s.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "rec-1", active[0].ID)
	})
}

func TestMemoryStoreTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	route := domain.PlannedRoute{
		TripID: "trip-1",
		Segments: []domain.RouteSegment{{
			Start: domain.LatLng{Lat: 52.0, Lng: 13.0},
			End:   domain.LatLng{Lat: 52.0, Lng: 13.1},
		}},
	}

	t.Run("registered active trip resolves", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		s.AddTrip(domain.TripContext{TripID: "trip-1", DriverName: "Dana"}, route, true)

		got, err := s.PlannedRoute(ctx, "trip-1")
		require.NoError(t, err)
		assert.Len(t, got.Segments, 1)

		trip, err := s.TripContext(ctx, "trip-1")
		require.NoError(t, err)
		assert.Equal(t, "Dana", trip.DriverName)
	})

	t.Run("inactive trip is rejected", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		s.AddTrip(domain.TripContext{TripID: "trip-1"}, route, false)
		_, err := s.PlannedRoute(ctx, "trip-1")
		assert.ErrorIs(t, err, domain.ErrNoActiveTrip)
	})

	t.Run("active trip without segments is rejected", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryStore()
		s.AddTrip(domain.TripContext{TripID: "trip-1"}, domain.PlannedRoute{TripID: "trip-1"}, true)
		_, err := s.PlannedRoute(ctx, "trip-1")
		assert.ErrorIs(t, err, domain.ErrNoPlannedRoute)
	})
}
