package engine

import (
	"fmt"
	"time"

	"route-deviation-service/internal/domain"
)

// Thresholds is the tunable surface of the escalation engine. All values have
// production defaults; see DefaultThresholds.
type Thresholds struct {
	// OnRouteMeters: at or below this distance a trip counts as on-route
	// and any active record closes automatically.
	OnRouteMeters float64
	// ReturnMeters: tighter distance used by the returning-to-route
	// heuristic during a contact grace window.
	ReturnMeters float64
	// YellowAfter: continuous off-route time before the first warning.
	YellowAfter time.Duration
	// RedAfter: off-route time (total, or since last contact) before the
	// second warning.
	RedAfter time.Duration
	// GracePeriod: return window granted on contact, also the extension
	// increment.
	GracePeriod time.Duration
	// MaxGraceExtensions bounds how often staff may extend the window.
	MaxGraceExtensions int
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OnRouteMeters:      200,
		ReturnMeters:       50,
		YellowAfter:        5 * time.Minute,
		RedAfter:           10 * time.Minute,
		GracePeriod:        15 * time.Minute,
		MaxGraceExtensions: 3,
	}
}

// machine applies the escalation transition rules to a single record. It
// mutates records in place and reports the notifications to emit; it never
// touches storage and never blocks, so callers hold the trip lock across it.
type machine struct {
	t Thresholds
}

// evaluateTime runs the time-driven transitions. Called on every position
// report and on every sweep pass. Terminal records are silently left alone
// since reports keep arriving after resolution.
//
// A record evaluated for the first time after a long gap can pass through
// YELLOW_SENT and RED_SENT in the same call; both events are returned in
// order.
func (m *machine) evaluateTime(rec *domain.DeviationRecord, trip domain.TripContext, now time.Time) []domain.Event {
	if rec.State.Terminal() {
		return nil
	}

	var events []domain.Event

	if rec.State == domain.StateNone && now.Sub(rec.StartedAt) >= m.t.YellowAfter {
		rec.State = domain.StateYellowSent
		sentAt := now
		rec.YellowSentAt = &sentAt
		events = append(events, domain.YellowWarning{
			EventMeta:      domain.NewEventMeta(rec, trip, now),
			OffRouteFor:    now.Sub(rec.StartedAt),
			DistanceMeters: rec.LastDistanceMeters,
		})
	}

	if rec.State == domain.StateYellowSent {
		var redDue bool
		if rec.ContactedAt == nil {
			redDue = now.Sub(rec.StartedAt) >= m.t.RedAfter
		} else {
			redDue = now.Sub(*rec.ContactedAt) >= m.t.RedAfter
		}
		if redDue {
			events = append(events, m.escalateRed(rec, trip, now))
		}
	}

	// Grace window expiry. If the vehicle is demonstrably heading back
	// (distance shrinking and inside the return threshold) the expiry
	// check passes without re-escalating; the next sample decides.
	if rec.State == domain.StateContactedWaitingReturn &&
		rec.GracePeriodExpiresAt != nil &&
		!now.Before(*rec.GracePeriodExpiresAt) &&
		!m.returningToRoute(rec) {
		events = append(events, m.escalateRed(rec, trip, now))
	}

	return events
}

func (m *machine) escalateRed(rec *domain.DeviationRecord, trip domain.TripContext, now time.Time) domain.Event {
	rec.State = domain.StateRedSent
	sentAt := now
	rec.RedSentAt = &sentAt
	return domain.RedWarning{
		EventMeta:      domain.NewEventMeta(rec, trip, now),
		OffRouteFor:    now.Sub(rec.StartedAt),
		DistanceMeters: rec.LastDistanceMeters,
	}
}

// confirmContact records that staff reached the driver. Only legal from
// YELLOW_SENT or RED_SENT.
//
// Without a grace grant this is the one non-monotonic transition: a RED
// record regresses to YELLOW_SENT with redSentAt cleared, so continued
// deviation re-escalates on its own schedule from contactedAt. With a grace
// grant the record enters CONTACTED_WAITING_RETURN with a bounded window.
func (m *machine) confirmContact(rec *domain.DeviationRecord, trip domain.TripContext, staffID string, grantGrace bool, now time.Time) (domain.Event, error) {
	if rec.State != domain.StateYellowSent && rec.State != domain.StateRedSent {
		return nil, fmt.Errorf("%w: confirm-contact requires YELLOW_SENT or RED_SENT, record %s is %s",
			domain.ErrInvalidTransition, rec.ID, rec.State)
	}

	contactedAt := now
	rec.ContactedAt = &contactedAt
	rec.ContactedBy = staffID
	rec.RedSentAt = nil

	if grantGrace {
		rec.State = domain.StateContactedWaitingReturn
		expires := now.Add(m.t.GracePeriod)
		rec.GracePeriodExpiresAt = &expires
	} else {
		rec.State = domain.StateYellowSent
	}

	return domain.ContactConfirmed{
		EventMeta:    domain.NewEventMeta(rec, trip, now),
		StaffID:      staffID,
		GraceGranted: grantGrace,
	}, nil
}

// extendGrace pushes the return window out by one increment. Only legal in
// CONTACTED_WAITING_RETURN and at most MaxGraceExtensions times per record;
// exceeding the bound is a rejection, not a clamp.
func (m *machine) extendGrace(rec *domain.DeviationRecord, trip domain.TripContext, staffID string, now time.Time) (domain.Event, error) {
	if rec.State != domain.StateContactedWaitingReturn {
		return nil, fmt.Errorf("%w: grace extension requires CONTACTED_WAITING_RETURN, record %s is %s",
			domain.ErrInvalidTransition, rec.ID, rec.State)
	}
	if rec.GracePeriodExtensionCount >= m.t.MaxGraceExtensions {
		return nil, fmt.Errorf("%w: record %s already extended %d times",
			domain.ErrExtensionLimit, rec.ID, rec.GracePeriodExtensionCount)
	}

	expires := rec.GracePeriodExpiresAt.Add(m.t.GracePeriod)
	rec.GracePeriodExpiresAt = &expires
	rec.GracePeriodExtensionCount++

	return domain.GraceExtended{
		EventMeta: domain.NewEventMeta(rec, trip, now),
		StaffID:   staffID,
		ExpiresAt: expires,
		Extension: rec.GracePeriodExtensionCount,
	}, nil
}

// markSafe closes the record as RESOLVED_SAFE with free-text staff notes.
// Legal from any non-terminal state.
func (m *machine) markSafe(rec *domain.DeviationRecord, trip domain.TripContext, staffID, notes string, now time.Time) (domain.Event, error) {
	if rec.State.Terminal() {
		return nil, fmt.Errorf("%w: record %s is already %s",
			domain.ErrInvalidTransition, rec.ID, rec.State)
	}

	rec.State = domain.StateResolvedSafe
	resolvedAt := now
	rec.ResolvedAt = &resolvedAt
	rec.ResolvedBy = staffID
	rec.ResolvedReason = notes

	return domain.MarkedSafe{
		EventMeta: domain.NewEventMeta(rec, trip, now),
		StaffID:   staffID,
		Notes:     notes,
	}, nil
}

// markNoContact logs a failed contact attempt without changing state. Only
// meaningful while a warning tier is active.
func (m *machine) markNoContact(rec *domain.DeviationRecord, staffID string, now time.Time) error {
	if rec.State != domain.StateYellowSent && rec.State != domain.StateRedSent {
		return fmt.Errorf("%w: mark-no-contact requires YELLOW_SENT or RED_SENT, record %s is %s",
			domain.ErrInvalidTransition, rec.ID, rec.State)
	}

	rec.NoContactCount++
	attemptAt := now
	rec.LastNoContactAt = &attemptAt
	rec.LastNoContactBy = staffID
	return nil
}

// closeBackOnRoute closes the record automatically once the vehicle is back
// within the on-route threshold. Terminal records are left untouched and nil
// is returned.
func (m *machine) closeBackOnRoute(rec *domain.DeviationRecord, trip domain.TripContext, distance float64, now time.Time) domain.Event {
	if rec.State.Terminal() {
		return nil
	}

	rec.State = domain.StateBackOnRoute
	resolvedAt := now
	rec.ResolvedAt = &resolvedAt
	rec.ResolvedReason = fmt.Sprintf("vehicle back within %.0fm of planned route", m.t.OnRouteMeters)
	rec.LastDistanceMeters = distance
	rec.LastUpdateAt = now

	return domain.BackOnRoute{
		EventMeta:      domain.NewEventMeta(rec, trip, now),
		DistanceMeters: distance,
	}
}

// attachIncident closes the record as ISSUE_CREATED, linking the externally
// created incident. Legal from any non-terminal state.
func (m *machine) attachIncident(rec *domain.DeviationRecord, trip domain.TripContext, staffID, incidentID string, now time.Time) (domain.Event, error) {
	if rec.State.Terminal() {
		return nil, fmt.Errorf("%w: record %s is already %s",
			domain.ErrInvalidTransition, rec.ID, rec.State)
	}

	rec.State = domain.StateIssueCreated
	rec.LinkedIncidentID = incidentID
	resolvedAt := now
	rec.ResolvedAt = &resolvedAt
	rec.ResolvedBy = staffID
	rec.ResolvedReason = "converted to incident " + incidentID

	return domain.IncidentCreated{
		EventMeta:  domain.NewEventMeta(rec, trip, now),
		StaffID:    staffID,
		IncidentID: incidentID,
	}, nil
}

// returningToRoute: distance is shrinking sample-over-sample and already
// inside the tightened return threshold. Used only by the grace-window flow;
// automatic closure keys off the coarser on-route threshold instead.
func (m *machine) returningToRoute(rec *domain.DeviationRecord) bool {
	return rec.PreviousDistanceMeters != nil &&
		rec.LastDistanceMeters < *rec.PreviousDistanceMeters &&
		rec.LastDistanceMeters <= m.t.ReturnMeters
}
