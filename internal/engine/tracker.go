package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"route-deviation-service/internal/domain"
	"route-deviation-service/internal/geo"
)

const liveSinkTimeout = 2 * time.Second

// TrackerDeps wires the tracker's collaborators. Routes and Records are
// required; Incidents is required only if CreateIncident is used; Emitter,
// Live, Counters and Clock are optional.
type TrackerDeps struct {
	Routes     RouteSource
	Records    RecordStore
	Incidents  IncidentCreator
	Emitter    Emitter
	Live       LiveSink
	Counters   *Counters
	Thresholds Thresholds
	Clock      func() time.Time
}

// Tracker is the deviation engine: it turns position reports into deviation
// records, drives the escalation state machine, and applies staff actions.
//
// The tracker is the sole writer of deviation records. All mutations for a
// trip are serialized on a per-trip lock; different trips proceed in
// parallel.
type Tracker struct {
	routes    RouteSource
	records   RecordStore
	incidents IncidentCreator
	emitter   Emitter
	live      LiveSink
	counters  *Counters
	machine   machine
	clock     func() time.Time
	locks     keyMutex
	timers    *timerSet
}

// NewTracker builds a tracker. Zero Thresholds fields fall back to defaults.
func NewTracker(deps TrackerDeps) *Tracker {
	t := deps.Thresholds
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	counters := deps.Counters
	if counters == nil {
		counters = &Counters{}
	}
	return &Tracker{
		routes:    deps.Routes,
		records:   deps.Records,
		incidents: deps.Incidents,
		emitter:   deps.Emitter,
		live:      deps.Live,
		counters:  counters,
		machine:   machine{t: t},
		clock:     clock,
		timers:    newTimerSet(),
	}
}

// Counters exposes the engine's statistics for the metrics endpoint.
func (t *Tracker) Counters() *Counters { return t.counters }

// Close cancels all pending grace timers.
func (t *Tracker) Close() { t.timers.Stop() }

// OnPositionReport evaluates one live position sample and returns the
// current distance to the planned route, whether or not any escalation
// happened. The distance is also usable by live map views.
//
// On-route samples close any active record as BACK_ON_ROUTE. Off-route
// samples open a record (state NONE) when the trip is untracked, otherwise
// update the geometry samples and re-run the time-based transitions.
func (t *Tracker) OnPositionReport(ctx context.Context, report domain.PositionReport) (float64, error) {
	t.counters.PositionReports.Add(1)

	route, err := t.routes.PlannedRoute(ctx, report.TripID)
	if err != nil {
		t.counters.PositionRejected.Add(1)
		return 0, fmt.Errorf("position report for trip %s: %w", report.TripID, err)
	}
	if len(route.Segments) == 0 {
		t.counters.PositionRejected.Add(1)
		return 0, fmt.Errorf("position report for trip %s: %w", report.TripID, domain.ErrNoPlannedRoute)
	}

	pos := domain.LatLng{Lat: report.Latitude, Lng: report.Longitude}
	distance := geo.DistanceToRoute(pos, route)

	if t.live != nil {
		go t.writeLive(report, distance)
	}

	unlock := t.locks.Lock(report.TripID)
	defer unlock()

	rec, err := t.records.ActiveByTrip(ctx, report.TripID)
	if err != nil {
		return distance, fmt.Errorf("load active record for trip %s: %w", report.TripID, err)
	}
	now := t.clock()

	if distance <= t.machine.t.OnRouteMeters {
		if rec == nil {
			return distance, nil
		}
		trip := t.tripContext(ctx, report.TripID)
		ev := t.machine.closeBackOnRoute(rec, trip, distance, now)
		if ev == nil {
			return distance, nil
		}
		if err := t.records.Save(ctx, rec); err != nil {
			return distance, fmt.Errorf("close record %s: %w", rec.ID, err)
		}
		t.counters.BackOnRouteCloses.Add(1)
		t.timers.Cancel(rec.ID)
		t.emit(ctx, ev)
		return distance, nil
	}

	if rec == nil {
		rec = &domain.DeviationRecord{
			ID:                 uuid.NewString(),
			TripID:             report.TripID,
			State:              domain.StateNone,
			StartedAt:          now,
			LastUpdateAt:       now,
			LastLatitude:       report.Latitude,
			LastLongitude:      report.Longitude,
			LastDistanceMeters: distance,
		}
		t.counters.DeviationsOpened.Add(1)
	} else {
		prev := rec.LastDistanceMeters
		rec.PreviousDistanceMeters = &prev
		rec.LastLatitude = report.Latitude
		rec.LastLongitude = report.Longitude
		rec.LastDistanceMeters = distance
		rec.LastUpdateAt = now
	}

	trip := t.tripContext(ctx, report.TripID)
	events := t.machine.evaluateTime(rec, trip, now)

	if err := t.records.Save(ctx, rec); err != nil {
		// Persist-then-notify: a failed save suppresses the events.
		return distance, fmt.Errorf("save record %s: %w", rec.ID, err)
	}

	t.countTransitions(events)
	t.emit(ctx, events...)
	return distance, nil
}

// ConfirmSafe closes the record as RESOLVED_SAFE with staff notes.
func (t *Tracker) ConfirmSafe(ctx context.Context, recordID, staffID, notes string) (*domain.DeviationRecord, error) {
	rec, err := t.withRecord(ctx, recordID, func(rec *domain.DeviationRecord, trip domain.TripContext, now time.Time) (domain.Event, error) {
		return t.machine.markSafe(rec, trip, staffID, notes, now)
	})
	if err != nil {
		return nil, err
	}
	t.counters.ManualResolutions.Add(1)
	t.timers.Cancel(rec.ID)
	return rec, nil
}

// ConfirmContact records a successful driver contact. With grantGrace the
// record enters CONTACTED_WAITING_RETURN and a delayed re-evaluation is
// armed for the window expiry; without it, RED regresses to YELLOW per the
// re-escalation rule.
func (t *Tracker) ConfirmContact(ctx context.Context, recordID, staffID string, grantGrace bool) (*domain.DeviationRecord, error) {
	rec, err := t.withRecord(ctx, recordID, func(rec *domain.DeviationRecord, trip domain.TripContext, now time.Time) (domain.Event, error) {
		return t.machine.confirmContact(rec, trip, staffID, grantGrace, now)
	})
	if err != nil {
		return nil, err
	}
	t.armGraceTimer(rec)
	return rec, nil
}

// ExtendGracePeriod pushes the return window out by one increment, re-arming
// the expiry timer. Bounded; see Thresholds.MaxGraceExtensions.
func (t *Tracker) ExtendGracePeriod(ctx context.Context, recordID, staffID string) (*domain.DeviationRecord, error) {
	rec, err := t.withRecord(ctx, recordID, func(rec *domain.DeviationRecord, trip domain.TripContext, now time.Time) (domain.Event, error) {
		return t.machine.extendGrace(rec, trip, staffID, now)
	})
	if err != nil {
		return nil, err
	}
	t.armGraceTimer(rec)
	return rec, nil
}

// MarkNoContact logs a failed contact attempt; state is unchanged.
func (t *Tracker) MarkNoContact(ctx context.Context, recordID, staffID string) (*domain.DeviationRecord, error) {
	return t.withRecord(ctx, recordID, func(rec *domain.DeviationRecord, trip domain.TripContext, now time.Time) (domain.Event, error) {
		return nil, t.machine.markNoContact(rec, staffID, now)
	})
}

// CreateIncident converts the deviation into a formal incident through the
// external incident collaborator and closes the record as ISSUE_CREATED. A
// failed incident creation leaves the record untouched.
func (t *Tracker) CreateIncident(ctx context.Context, recordID, staffID string) (*domain.DeviationRecord, error) {
	if t.incidents == nil {
		return nil, fmt.Errorf("create incident for record %s: no incident collaborator configured", recordID)
	}

	loaded, err := t.records.ByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", recordID, err)
	}

	unlock := t.locks.Lock(loaded.TripID)
	defer unlock()

	rec, err := t.records.ByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", recordID, err)
	}
	if rec.State.Terminal() {
		return nil, fmt.Errorf("%w: record %s is already %s", domain.ErrInvalidTransition, rec.ID, rec.State)
	}
	now := t.clock()
	trip := t.tripContext(ctx, rec.TripID)

	incidentID, err := t.incidents.CreateIncident(ctx, rec.Clone(), staffID)
	if err != nil {
		return nil, fmt.Errorf("create incident for record %s: %w", recordID, err)
	}

	ev, err := t.machine.attachIncident(rec, trip, staffID, incidentID, now)
	if err != nil {
		return nil, err
	}
	if err := t.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record %s: %w", rec.ID, err)
	}

	t.counters.IncidentsCreated.Add(1)
	t.timers.Cancel(rec.ID)
	t.emit(ctx, ev)
	return rec, nil
}

// withRecord loads the record, serializes on its trip, applies fn, persists,
// then emits. fn returning an error leaves the record unpersisted.
func (t *Tracker) withRecord(ctx context.Context, recordID string, fn func(rec *domain.DeviationRecord, trip domain.TripContext, now time.Time) (domain.Event, error)) (*domain.DeviationRecord, error) {
	loaded, err := t.records.ByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", recordID, err)
	}

	unlock := t.locks.Lock(loaded.TripID)
	defer unlock()

	// Reload under the lock: the sweep or a position report may have
	// advanced the record since the unlocked read.
	rec, err := t.records.ByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", recordID, err)
	}

	trip := t.tripContext(ctx, rec.TripID)
	now := t.clock()

	ev, err := fn(rec, trip, now)
	if err != nil {
		return nil, err
	}
	if err := t.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	if ev != nil {
		t.emit(ctx, ev)
	}
	return rec, nil
}

// armGraceTimer schedules a re-evaluation at the grace window expiry, or
// cancels the timer if the record left the waiting state.
func (t *Tracker) armGraceTimer(rec *domain.DeviationRecord) {
	if rec.State != domain.StateContactedWaitingReturn || rec.GracePeriodExpiresAt == nil {
		t.timers.Cancel(rec.ID)
		return
	}
	delay := rec.GracePeriodExpiresAt.Sub(t.clock())
	if delay < 0 {
		delay = 0
	}
	recordID, tripID := rec.ID, rec.TripID
	t.timers.Schedule(recordID, delay+time.Second, func() {
		t.reEvaluate(recordID, tripID)
	})
}

// reEvaluate re-runs the time transitions for one record outside the
// position/sweep paths. Fired by grace timers; no-ops if the record moved on,
// since cancellation and firing can race.
func (t *Tracker) reEvaluate(recordID, tripID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	unlock := t.locks.Lock(tripID)
	defer unlock()

	rec, err := t.records.ByID(ctx, recordID)
	if err != nil || rec.State.Terminal() {
		return
	}

	trip := t.tripContext(ctx, tripID)
	events := t.machine.evaluateTime(rec, trip, t.clock())
	if len(events) == 0 {
		return
	}
	if err := t.records.Save(ctx, rec); err != nil {
		log.Printf("grace re-evaluation save failed record=%s err=%v", recordID, err)
		return
	}
	t.countTransitions(events)
	t.emit(ctx, events...)
}

func (t *Tracker) tripContext(ctx context.Context, tripID string) domain.TripContext {
	trip, err := t.routes.TripContext(ctx, tripID)
	if err != nil {
		log.Printf("trip context lookup failed trip=%s err=%v", tripID, err)
		return domain.TripContext{TripID: tripID}
	}
	return trip
}

func (t *Tracker) writeLive(report domain.PositionReport, distance float64) {
	ctx, cancel := context.WithTimeout(context.Background(), liveSinkTimeout)
	defer cancel()
	if err := t.live.UpdateLivePosition(ctx, report, distance); err != nil {
		log.Printf("live position update failed trip=%s err=%v", report.TripID, err)
	}
}

// emit delivers events best-effort. A notification failure never rolls back
// the transition that produced it.
func (t *Tracker) emit(ctx context.Context, events ...domain.Event) {
	if t.emitter == nil {
		return
	}
	for _, ev := range events {
		if err := t.emitter.Emit(ctx, ev); err != nil {
			log.Printf("notification failed trip=%s kind=%s err=%v", ev.TripID(), ev.Kind(), err)
		}
	}
}

func (t *Tracker) countTransitions(events []domain.Event) {
	for _, ev := range events {
		switch ev.Kind() {
		case domain.EventYellowWarning:
			t.counters.YellowWarnings.Add(1)
		case domain.EventRedWarning:
			t.counters.RedWarnings.Add(1)
		}
	}
}
