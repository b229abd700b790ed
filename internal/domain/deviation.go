package domain

import "time"

// DeviationState is the escalation stage of an off-route trip.
type DeviationState string

const (
	// StateNone: the trip is off-route but no warning tier has fired yet.
	StateNone DeviationState = "NONE"
	// StateYellowSent: first warning tier delivered to staff.
	StateYellowSent DeviationState = "YELLOW_SENT"
	// StateRedSent: second warning tier delivered to staff.
	StateRedSent DeviationState = "RED_SENT"
	// StateContactedWaitingReturn: staff reached the driver and granted a
	// bounded window to return to the route.
	StateContactedWaitingReturn DeviationState = "CONTACTED_WAITING_RETURN"
	// StateResolvedSafe: staff confirmed the deviation is harmless. Terminal.
	StateResolvedSafe DeviationState = "RESOLVED_SAFE"
	// StateBackOnRoute: vehicle came back within the on-route threshold on
	// its own. Terminal.
	StateBackOnRoute DeviationState = "BACK_ON_ROUTE"
	// StateIssueCreated: staff escalated to a formal incident. Terminal.
	StateIssueCreated DeviationState = "ISSUE_CREATED"
)

// Terminal reports whether the state is absorbing: a terminal record is
// frozen and further deviation for the trip must open a fresh record.
func (s DeviationState) Terminal() bool {
	switch s {
	case StateResolvedSafe, StateBackOnRoute, StateIssueCreated:
		return true
	}
	return false
}

// DeviationRecord tracks one continuous off-route episode for a trip. At most
// one non-terminal record exists per trip at any time.
type DeviationRecord struct {
	ID     string
	TripID string
	State  DeviationState

	StartedAt    time.Time
	LastUpdateAt time.Time

	LastLatitude           float64
	LastLongitude          float64
	LastDistanceMeters     float64
	PreviousDistanceMeters *float64

	YellowSentAt *time.Time
	RedSentAt    *time.Time

	ContactedAt *time.Time
	ContactedBy string

	GracePeriodExpiresAt      *time.Time
	GracePeriodExtensionCount int

	NoContactCount   int
	LastNoContactAt  *time.Time
	LastNoContactBy  string

	ResolvedAt     *time.Time
	ResolvedBy     string
	ResolvedReason string

	LinkedIncidentID string
}

// OffRouteFor is the continuous off-route duration as of now.
func (r *DeviationRecord) OffRouteFor(now time.Time) time.Duration {
	return now.Sub(r.StartedAt)
}

// Clone returns a deep copy, so stores can hand out records without sharing
// mutable pointers with the engine.
func (r *DeviationRecord) Clone() *DeviationRecord {
	c := *r
	c.PreviousDistanceMeters = cloneFloat(r.PreviousDistanceMeters)
	c.YellowSentAt = cloneTime(r.YellowSentAt)
	c.RedSentAt = cloneTime(r.RedSentAt)
	c.ContactedAt = cloneTime(r.ContactedAt)
	c.GracePeriodExpiresAt = cloneTime(r.GracePeriodExpiresAt)
	c.LastNoContactAt = cloneTime(r.LastNoContactAt)
	c.ResolvedAt = cloneTime(r.ResolvedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
