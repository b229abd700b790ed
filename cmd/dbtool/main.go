// dbtool initialises the Postgres schema and optionally provisions staff API
// keys in Redis. Run it once before the first server start:
//
//	go run ./cmd/dbtool            # schema only
//	go run ./cmd/dbtool -seed      # schema + demo trip + staff key
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"route-deviation-service/internal/domain"
)

func main() {
	seed := flag.Bool("seed", false, "insert a demo trip and provision a demo staff key")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		getEnv("DB_USER", "deviation_user"),
		getEnv("DB_PASSWORD", "deviation_password"),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "route_deviation"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	initTrips(ctx, conn)
	initRoutes(ctx, conn)
	initRecords(ctx, conn)
	initIncidents(ctx, conn)

	if *seed {
		seedDemoTrip(ctx, conn)
		seedStaffKey(ctx)
	}

	fmt.Println("\n✓ Database initialised")
}

func initTrips(ctx context.Context, conn *pgx.Conn) {
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trips (
			trip_id       TEXT PRIMARY KEY,
			driver_name   TEXT NOT NULL DEFAULT '',
			driver_phone  TEXT NOT NULL DEFAULT '',
			vehicle_plate TEXT NOT NULL DEFAULT '',
			order_summary TEXT NOT NULL DEFAULT '',
			active        BOOLEAN NOT NULL DEFAULT TRUE
		);
	`, "trips table")
}

func initRoutes(ctx context.Context, conn *pgx.Conn) {
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS planned_routes (
			trip_id  TEXT PRIMARY KEY REFERENCES trips(trip_id),
			segments JSONB NOT NULL
		);
	`, "planned_routes table")
}

func initRecords(ctx context.Context, conn *pgx.Conn) {
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS deviation_records (
			id                  UUID PRIMARY KEY,
			trip_id             TEXT NOT NULL REFERENCES trips(trip_id),
			state               TEXT NOT NULL,
			started_at          TIMESTAMPTZ NOT NULL,
			last_update_at      TIMESTAMPTZ NOT NULL,
			last_lat            DOUBLE PRECISION NOT NULL,
			last_lng            DOUBLE PRECISION NOT NULL,
			last_distance_m     DOUBLE PRECISION NOT NULL,
			previous_distance_m DOUBLE PRECISION,
			yellow_sent_at      TIMESTAMPTZ,
			red_sent_at         TIMESTAMPTZ,
			contacted_at        TIMESTAMPTZ,
			contacted_by        TEXT NOT NULL DEFAULT '',
			grace_expires_at    TIMESTAMPTZ,
			grace_extensions    INT NOT NULL DEFAULT 0,
			no_contact_count    INT NOT NULL DEFAULT 0,
			last_no_contact_at  TIMESTAMPTZ,
			last_no_contact_by  TEXT NOT NULL DEFAULT '',
			resolved_at         TIMESTAMPTZ,
			resolved_by         TEXT NOT NULL DEFAULT '',
			resolved_reason     TEXT NOT NULL DEFAULT '',
			incident_id         TEXT NOT NULL DEFAULT ''
		);
	`, "deviation_records table")

	execOrFatal(ctx, conn, `
		CREATE UNIQUE INDEX IF NOT EXISTS deviation_records_active_trip
		ON deviation_records (trip_id)
		WHERE state NOT IN ('RESOLVED_SAFE', 'BACK_ON_ROUTE', 'ISSUE_CREATED');
	`, "active-record uniqueness index")

	execOrFatal(ctx, conn, `
		CREATE INDEX IF NOT EXISTS deviation_records_state
		ON deviation_records (state);
	`, "state index")
}

func initIncidents(ctx context.Context, conn *pgx.Conn) {
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS incidents (
			id         UUID PRIMARY KEY,
			record_id  UUID NOT NULL REFERENCES deviation_records(id),
			trip_id    TEXT NOT NULL,
			created_by TEXT NOT NULL,
			summary    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
	`, "incidents table")
}

func seedDemoTrip(ctx context.Context, conn *pgx.Conn) {
	execOrFatal(ctx, conn, `
		INSERT INTO trips (trip_id, driver_name, driver_phone, vehicle_plate, order_summary, active)
		VALUES ('demo-trip-1', 'Alex Demo', '+49 000 000', 'B-RD 1001', '3 parcels, zone north', TRUE)
		ON CONFLICT (trip_id) DO NOTHING;
	`, "demo trip")

	segments := []domain.RouteSegment{
		{
			Start: domain.LatLng{Lat: 52.5200, Lng: 13.4050},
			End:   domain.LatLng{Lat: 52.5310, Lng: 13.3850},
			Path: []domain.LatLng{
				{Lat: 52.5200, Lng: 13.4050},
				{Lat: 52.5255, Lng: 13.3950},
				{Lat: 52.5310, Lng: 13.3850},
			},
		},
	}
	raw, err := json.Marshal(segments)
	if err != nil {
		log.Fatalf("marshal demo route: %v", err)
	}
	if _, err := conn.Exec(ctx, `
		INSERT INTO planned_routes (trip_id, segments)
		VALUES ('demo-trip-1', $1)
		ON CONFLICT (trip_id) DO UPDATE SET segments = EXCLUDED.segments;
	`, raw); err != nil {
		log.Fatalf("demo route failed: %v", err)
	}
	fmt.Println("✓ demo trip")
}

func seedStaffKey(ctx context.Context) {
	client := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis connection failed: %v", err)
	}
	if err := client.Set(ctx, "staff:auth:demo-staff-key", "staff-demo", 0).Err(); err != nil {
		log.Fatalf("seed staff key failed: %v", err)
	}
	fmt.Println("✓ staff key demo-staff-key -> staff-demo")
}

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	if _, err := conn.Exec(ctx, sql); err != nil {
		log.Fatalf("%s failed: %v", label, err)
	}
	fmt.Printf("✓ %s\n", label)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
