package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"route-deviation-service/internal/config"
	"route-deviation-service/internal/domain"
)

// Redis key/channel layout.
const (
	liveStateTTL    = 30 * time.Second
	tripsGeoKey     = "trips:geo"
	liveChannelName = "trips:live"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// UpdateLivePosition keeps the latest sample per trip for real-time map
// views: a short-lived hash with the computed deviation distance, the global
// geo set, and a publish for connected dashboards.
func (r *RedisStore) UpdateLivePosition(ctx context.Context, report domain.PositionReport, distanceMeters float64) error {
	state := map[string]interface{}{
		"trip_id":    report.TripID,
		"lat":        report.Latitude,
		"lng":        report.Longitude,
		"speed_kmh":  report.SpeedKmh,
		"bearing":    report.Bearing,
		"distance_m": distanceMeters,
		"timestamp":  report.Timestamp.Unix(),
	}

	pubPayload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal live state: %w", err)
	}

	liveKey := fmt.Sprintf("trip:%s:live", report.TripID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, liveKey, state)
	pipe.Expire(ctx, liveKey, liveStateTTL)
	pipe.GeoAdd(ctx, tripsGeoKey, &redis.GeoLocation{
		Name:      report.TripID,
		Longitude: report.Longitude,
		Latitude:  report.Latitude,
	})
	pipe.Publish(ctx, liveChannelName, pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// GetStaffKey resolves a provisioned staff API key to its staff id, or ""
// when unknown.
func (r *RedisStore) GetStaffKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("staff:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get staff key failed: %w", err)
	}
	return val, nil
}
