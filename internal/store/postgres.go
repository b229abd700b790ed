package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"route-deviation-service/internal/config"
	"route-deviation-service/internal/domain"
)

// PostgresStore backs the engine's durability boundary: deviation records,
// trip/route lookup, and incident creation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const terminalStates = `('RESOLVED_SAFE', 'BACK_ON_ROUTE', 'ISSUE_CREATED')`

const recordColumns = `
	id, trip_id, state, started_at, last_update_at,
	last_lat, last_lng, last_distance_m, previous_distance_m,
	yellow_sent_at, red_sent_at,
	contacted_at, contacted_by,
	grace_expires_at, grace_extensions,
	no_contact_count, last_no_contact_at, last_no_contact_by,
	resolved_at, resolved_by, resolved_reason, incident_id`

// Save upserts the record by id.
func (s *PostgresStore) Save(ctx context.Context, rec *domain.DeviationRecord) error {
	query := `
		INSERT INTO deviation_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			last_update_at = EXCLUDED.last_update_at,
			last_lat = EXCLUDED.last_lat,
			last_lng = EXCLUDED.last_lng,
			last_distance_m = EXCLUDED.last_distance_m,
			previous_distance_m = EXCLUDED.previous_distance_m,
			yellow_sent_at = EXCLUDED.yellow_sent_at,
			red_sent_at = EXCLUDED.red_sent_at,
			contacted_at = EXCLUDED.contacted_at,
			contacted_by = EXCLUDED.contacted_by,
			grace_expires_at = EXCLUDED.grace_expires_at,
			grace_extensions = EXCLUDED.grace_extensions,
			no_contact_count = EXCLUDED.no_contact_count,
			last_no_contact_at = EXCLUDED.last_no_contact_at,
			last_no_contact_by = EXCLUDED.last_no_contact_by,
			resolved_at = EXCLUDED.resolved_at,
			resolved_by = EXCLUDED.resolved_by,
			resolved_reason = EXCLUDED.resolved_reason,
			incident_id = EXCLUDED.incident_id
	`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.TripID, string(rec.State), rec.StartedAt, rec.LastUpdateAt,
		rec.LastLatitude, rec.LastLongitude, rec.LastDistanceMeters, rec.PreviousDistanceMeters,
		rec.YellowSentAt, rec.RedSentAt,
		rec.ContactedAt, rec.ContactedBy,
		rec.GracePeriodExpiresAt, rec.GracePeriodExtensionCount,
		rec.NoContactCount, rec.LastNoContactAt, rec.LastNoContactBy,
		rec.ResolvedAt, rec.ResolvedBy, rec.ResolvedReason, rec.LinkedIncidentID,
	)
	if err != nil {
		return fmt.Errorf("save deviation record %s: %w", rec.ID, err)
	}
	return nil
}

// ActiveByTrip returns the trip's non-terminal record, or nil when none.
func (s *PostgresStore) ActiveByTrip(ctx context.Context, tripID string) (*domain.DeviationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM deviation_records
		WHERE trip_id = $1 AND state NOT IN ` + terminalStates + `
		LIMIT 1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, tripID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active record for trip %s: %w", tripID, err)
	}
	return rec, nil
}

// ByID returns the record or domain.ErrRecordNotFound.
func (s *PostgresStore) ByID(ctx context.Context, id string) (*domain.DeviationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM deviation_records WHERE id = $1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, domain.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query record %s: %w", id, err)
	}
	return rec, nil
}

// ListActive returns every non-terminal record, oldest deviation first.
func (s *PostgresStore) ListActive(ctx context.Context) ([]*domain.DeviationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM deviation_records
		WHERE state NOT IN ` + terminalStates + `
		ORDER BY started_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active records: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeviationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.DeviationRecord, error) {
	var rec domain.DeviationRecord
	var state string
	err := row.Scan(
		&rec.ID, &rec.TripID, &state, &rec.StartedAt, &rec.LastUpdateAt,
		&rec.LastLatitude, &rec.LastLongitude, &rec.LastDistanceMeters, &rec.PreviousDistanceMeters,
		&rec.YellowSentAt, &rec.RedSentAt,
		&rec.ContactedAt, &rec.ContactedBy,
		&rec.GracePeriodExpiresAt, &rec.GracePeriodExtensionCount,
		&rec.NoContactCount, &rec.LastNoContactAt, &rec.LastNoContactBy,
		&rec.ResolvedAt, &rec.ResolvedBy, &rec.ResolvedReason, &rec.LinkedIncidentID,
	)
	if err != nil {
		return nil, err
	}
	rec.State = domain.DeviationState(state)
	return &rec, nil
}

// PlannedRoute loads the route for an active trip. Inactive or unknown trips
// yield domain.ErrNoActiveTrip; active trips without a route yield
// domain.ErrNoPlannedRoute.
func (s *PostgresStore) PlannedRoute(ctx context.Context, tripID string) (domain.PlannedRoute, error) {
	query := `
		SELECT t.active, r.segments
		FROM trips t
		LEFT JOIN planned_routes r ON r.trip_id = t.trip_id
		WHERE t.trip_id = $1
	`
	var active bool
	var segments []byte
	err := s.pool.QueryRow(ctx, query, tripID).Scan(&active, &segments)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlannedRoute{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrNoActiveTrip)
	}
	if err != nil {
		return domain.PlannedRoute{}, fmt.Errorf("query route for trip %s: %w", tripID, err)
	}
	if !active {
		return domain.PlannedRoute{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrNoActiveTrip)
	}
	if len(segments) == 0 {
		return domain.PlannedRoute{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrNoPlannedRoute)
	}

	route := domain.PlannedRoute{TripID: tripID}
	if err := json.Unmarshal(segments, &route.Segments); err != nil {
		return domain.PlannedRoute{}, fmt.Errorf("decode route segments for trip %s: %w", tripID, err)
	}
	if len(route.Segments) == 0 {
		return domain.PlannedRoute{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrNoPlannedRoute)
	}
	return route, nil
}

// TripContext loads the staff-facing trip metadata.
func (s *PostgresStore) TripContext(ctx context.Context, tripID string) (domain.TripContext, error) {
	query := `
		SELECT driver_name, driver_phone, vehicle_plate, order_summary
		FROM trips WHERE trip_id = $1
	`
	trip := domain.TripContext{TripID: tripID}
	err := s.pool.QueryRow(ctx, query, tripID).Scan(
		&trip.DriverName, &trip.DriverPhone, &trip.VehiclePlate, &trip.OrderSummary,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TripContext{}, fmt.Errorf("trip %s: %w", tripID, domain.ErrNoActiveTrip)
	}
	if err != nil {
		return domain.TripContext{}, fmt.Errorf("query trip %s: %w", tripID, err)
	}
	return trip, nil
}

// CreateIncident records a formal incident for the deviation and returns its
// id. The engine persists the returned id on the record.
func (s *PostgresStore) CreateIncident(ctx context.Context, rec *domain.DeviationRecord, staffID string) (string, error) {
	id := uuid.NewString()
	summary := fmt.Sprintf("trip %s off-route %.0fm, state %s", rec.TripID, rec.LastDistanceMeters, rec.State)

	query := `
		INSERT INTO incidents (id, record_id, trip_id, created_by, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	if _, err := s.pool.Exec(ctx, query, id, rec.ID, rec.TripID, staffID, summary); err != nil {
		return "", fmt.Errorf("insert incident for record %s: %w", rec.ID, err)
	}
	return id, nil
}
