package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"route-deviation-service/internal/domain"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func receive(t *testing.T, sub *redis.PubSub) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	return env
}

func TestRedisEmitter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("publishes to staff and trip channels", func(t *testing.T) {
		t.Parallel()
		client := newTestRedis(t)
		e := NewRedisEmitter(client, "")

		staff := client.Subscribe(ctx, DefaultStaffChannel)
		defer staff.Close()
		trip := client.Subscribe(ctx, "trip:trip-7:deviations")
		defer trip.Close()
		_, err := staff.Receive(ctx) // wait for the subscriptions
		require.NoError(t, err)
		_, err = trip.Receive(ctx)
		require.NoError(t, err)

		fired := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
		rec := &domain.DeviationRecord{
			ID:                 "rec-9",
			TripID:             "trip-7",
			State:              domain.StateYellowSent,
			StartedAt:          fired.Add(-5 * time.Minute),
			LastLatitude:       52.1,
			LastLongitude:      13.1,
			LastDistanceMeters: 630.5,
			YellowSentAt:       &fired,
		}
		ev := domain.YellowWarning{
			EventMeta: domain.NewEventMeta(rec, domain.TripContext{
				TripID:       "trip-7",
				DriverName:   "Dana Driver",
				DriverPhone:  "+49 151 0000000",
				VehiclePlate: "B-RD 1234",
			}, fired),
			OffRouteFor:    5 * time.Minute,
			DistanceMeters: 630.5,
		}
		require.NoError(t, e.Emit(ctx, ev))

		env := receive(t, staff)
		assert.Equal(t, "YELLOW_WARNING", env.Kind)
		assert.Equal(t, "trip-7", env.TripID)
		assert.Equal(t, fired.Unix(), env.OccurredAt)
		assert.Equal(t, "rec-9", env.Record.ID)
		assert.Equal(t, "YELLOW_SENT", env.Record.State)
		assert.Equal(t, 630.5, env.Record.DistanceMeters)
		require.NotNil(t, env.Record.YellowSentAt)
		assert.Equal(t, fired.Unix(), *env.Record.YellowSentAt)
		assert.Nil(t, env.Record.RedSentAt)
		assert.Equal(t, "Dana Driver", env.Trip.DriverName)
		assert.Equal(t, "B-RD 1234", env.Trip.VehiclePlate)
		assert.Equal(t, float64(300), env.Details["off_route_seconds"])

		// Same payload lands on the per-trip channel.
		tripEnv := receive(t, trip)
		assert.Equal(t, env.Record.ID, tripEnv.Record.ID)
	})

	t.Run("variant details reach subscribers", func(t *testing.T) {
		t.Parallel()
		client := newTestRedis(t)
		e := NewRedisEmitter(client, "ops:alerts")

		sub := client.Subscribe(ctx, "ops:alerts")
		defer sub.Close()
		_, err := sub.Receive(ctx)
		require.NoError(t, err)

		at := time.Date(2026, 3, 1, 9, 20, 0, 0, time.UTC)
		rec := &domain.DeviationRecord{ID: "rec-2", TripID: "trip-7", State: domain.StateContactedWaitingReturn}

		require.NoError(t, e.Emit(ctx, domain.ContactConfirmed{
			EventMeta:    domain.NewEventMeta(rec, domain.TripContext{TripID: "trip-7"}, at),
			StaffID:      "staff-3",
			GraceGranted: true,
		}))
		env := receive(t, sub)
		assert.Equal(t, "CONTACT_CONFIRMED", env.Kind)
		assert.Equal(t, "staff-3", env.Details["staff_id"])
		assert.Equal(t, true, env.Details["grace_granted"])

		require.NoError(t, e.Emit(ctx, domain.IncidentCreated{
			EventMeta:  domain.NewEventMeta(rec, domain.TripContext{TripID: "trip-7"}, at),
			StaffID:    "staff-3",
			IncidentID: "inc-42",
		}))
		env = receive(t, sub)
		assert.Equal(t, "INCIDENT_CREATED", env.Kind)
		assert.Equal(t, "inc-42", env.Details["incident_id"])
	})
}
