package domain

import "time"

// EventKind tags the notification variant produced by a state transition.
type EventKind string

const (
	EventYellowWarning    EventKind = "YELLOW_WARNING"
	EventRedWarning       EventKind = "RED_WARNING"
	EventContactConfirmed EventKind = "CONTACT_CONFIRMED"
	EventGraceExtended    EventKind = "GRACE_EXTENDED"
	EventMarkedSafe       EventKind = "MARKED_SAFE"
	EventBackOnRoute      EventKind = "BACK_ON_ROUTE"
	EventIncidentCreated  EventKind = "INCIDENT_CREATED"
)

// Event is a staff-facing notification produced by an escalation transition.
// Each variant carries a snapshot of the record at transition time plus the
// trip metadata a human needs to act on the alert.
type Event interface {
	Kind() EventKind
	TripID() string
	OccurredAt() time.Time
	Meta() EventMeta
}

// EventMeta carries the fields common to every variant: a copy of the record
// at transition time, the trip metadata, and the transition timestamp.
type EventMeta struct {
	Record DeviationRecord
	Trip   TripContext
	At     time.Time
}

func (e EventMeta) TripID() string        { return e.Record.TripID }
func (e EventMeta) OccurredAt() time.Time { return e.At }
func (e EventMeta) Meta() EventMeta       { return e }

// NewEventMeta snapshots a record for inclusion in an event.
func NewEventMeta(rec *DeviationRecord, trip TripContext, at time.Time) EventMeta {
	return EventMeta{Record: *rec.Clone(), Trip: trip, At: at}
}

// YellowWarning: first warning tier fired.
type YellowWarning struct {
	EventMeta
	OffRouteFor    time.Duration
	DistanceMeters float64
}

func (YellowWarning) Kind() EventKind { return EventYellowWarning }

// RedWarning: second warning tier fired, either on total elapsed time or on
// time since the last driver contact.
type RedWarning struct {
	EventMeta
	OffRouteFor    time.Duration
	DistanceMeters float64
}

func (RedWarning) Kind() EventKind { return EventRedWarning }

// ContactConfirmed: staff reached the driver.
type ContactConfirmed struct {
	EventMeta
	StaffID      string
	GraceGranted bool
}

func (ContactConfirmed) Kind() EventKind { return EventContactConfirmed }

// GraceExtended: the return window was extended by staff.
type GraceExtended struct {
	EventMeta
	StaffID   string
	ExpiresAt time.Time
	Extension int
}

func (GraceExtended) Kind() EventKind { return EventGraceExtended }

// MarkedSafe: staff confirmed the deviation is harmless.
type MarkedSafe struct {
	EventMeta
	StaffID string
	Notes   string
}

func (MarkedSafe) Kind() EventKind { return EventMarkedSafe }

// BackOnRoute: the vehicle returned within the on-route threshold and the
// record closed automatically.
type BackOnRoute struct {
	EventMeta
	DistanceMeters float64
}

func (BackOnRoute) Kind() EventKind { return EventBackOnRoute }

// IncidentCreated: staff converted the deviation into a formal incident.
type IncidentCreated struct {
	EventMeta
	StaffID    string
	IncidentID string
}

func (IncidentCreated) Kind() EventKind { return EventIncidentCreated }
