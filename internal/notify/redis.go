package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"route-deviation-service/internal/domain"
)

// DefaultStaffChannel is the topic staff dashboards subscribe to.
const DefaultStaffChannel = "staff:deviations"

// RedisEmitter publishes events as JSON to the shared staff channel and to a
// per-trip channel for focused views. Fire-and-forget: subscribers that are
// not connected miss the message.
type RedisEmitter struct {
	client       *redis.Client
	staffChannel string
}

func NewRedisEmitter(client *redis.Client, staffChannel string) *RedisEmitter {
	if staffChannel == "" {
		staffChannel = DefaultStaffChannel
	}
	return &RedisEmitter{client: client, staffChannel: staffChannel}
}

func (e *RedisEmitter) Emit(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(encode(ev))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}

	pipe := e.client.Pipeline()
	pipe.Publish(ctx, e.staffChannel, payload)
	pipe.Publish(ctx, fmt.Sprintf("trip:%s:deviations", ev.TripID()), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s event for trip %s: %w", ev.Kind(), ev.TripID(), err)
	}
	return nil
}

type envelope struct {
	Kind       string         `json:"kind"`
	TripID     string         `json:"trip_id"`
	OccurredAt int64          `json:"occurred_at"`
	Record     recordPayload  `json:"record"`
	Trip       tripPayload    `json:"trip"`
	Details    map[string]any `json:"details,omitempty"`
}

type recordPayload struct {
	ID              string  `json:"id"`
	State           string  `json:"state"`
	StartedAt       int64   `json:"started_at"`
	LastLatitude    float64 `json:"last_lat"`
	LastLongitude   float64 `json:"last_lng"`
	DistanceMeters  float64 `json:"distance_m"`
	YellowSentAt    *int64  `json:"yellow_sent_at,omitempty"`
	RedSentAt       *int64  `json:"red_sent_at,omitempty"`
	ContactedAt     *int64  `json:"contacted_at,omitempty"`
	ContactedBy     string  `json:"contacted_by,omitempty"`
	GraceExpiresAt  *int64  `json:"grace_expires_at,omitempty"`
	GraceExtensions int     `json:"grace_extensions,omitempty"`
	ResolvedReason  string  `json:"resolved_reason,omitempty"`
	IncidentID      string  `json:"incident_id,omitempty"`
}

type tripPayload struct {
	DriverName   string `json:"driver_name,omitempty"`
	DriverPhone  string `json:"driver_phone,omitempty"`
	VehiclePlate string `json:"vehicle_plate,omitempty"`
	OrderSummary string `json:"order_summary,omitempty"`
}

func encode(ev domain.Event) envelope {
	meta := ev.Meta()
	rec := meta.Record

	env := envelope{
		Kind:       string(ev.Kind()),
		TripID:     ev.TripID(),
		OccurredAt: meta.At.Unix(),
		Record: recordPayload{
			ID:              rec.ID,
			State:           string(rec.State),
			StartedAt:       rec.StartedAt.Unix(),
			LastLatitude:    rec.LastLatitude,
			LastLongitude:   rec.LastLongitude,
			DistanceMeters:  rec.LastDistanceMeters,
			YellowSentAt:    unixOrNil(rec.YellowSentAt),
			RedSentAt:       unixOrNil(rec.RedSentAt),
			ContactedAt:     unixOrNil(rec.ContactedAt),
			ContactedBy:     rec.ContactedBy,
			GraceExpiresAt:  unixOrNil(rec.GracePeriodExpiresAt),
			GraceExtensions: rec.GracePeriodExtensionCount,
			ResolvedReason:  rec.ResolvedReason,
			IncidentID:      rec.LinkedIncidentID,
		},
		Trip: tripPayload{
			DriverName:   meta.Trip.DriverName,
			DriverPhone:  meta.Trip.DriverPhone,
			VehiclePlate: meta.Trip.VehiclePlate,
			OrderSummary: meta.Trip.OrderSummary,
		},
	}

	switch v := ev.(type) {
	case domain.YellowWarning:
		env.Details = map[string]any{
			"off_route_seconds": int64(v.OffRouteFor / time.Second),
			"distance_m":        v.DistanceMeters,
		}
	case domain.RedWarning:
		env.Details = map[string]any{
			"off_route_seconds": int64(v.OffRouteFor / time.Second),
			"distance_m":        v.DistanceMeters,
		}
	case domain.ContactConfirmed:
		env.Details = map[string]any{
			"staff_id":      v.StaffID,
			"grace_granted": v.GraceGranted,
		}
	case domain.GraceExtended:
		env.Details = map[string]any{
			"staff_id":   v.StaffID,
			"expires_at": v.ExpiresAt.Unix(),
			"extension":  v.Extension,
		}
	case domain.MarkedSafe:
		env.Details = map[string]any{
			"staff_id": v.StaffID,
			"notes":    v.Notes,
		}
	case domain.BackOnRoute:
		env.Details = map[string]any{
			"distance_m": v.DistanceMeters,
		}
	case domain.IncidentCreated:
		env.Details = map[string]any{
			"staff_id":    v.StaffID,
			"incident_id": v.IncidentID,
		}
	}
	return env
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}
