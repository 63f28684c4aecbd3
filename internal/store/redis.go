package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/dms/internal/config"
	"fleet-monitor/dms/internal/domain"
)

// deviceStateTTL is how long a device stays visible as online after its last sample.
const deviceStateTTL = 5 * time.Minute

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

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
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

// DeviceStateUpdate stores the latest health sample of a device and publishes
// it for dashboards.
func (r *RedisStore) DeviceStateUpdate(ctx context.Context, t *domain.DeviceTelemetry) error {
	stateData := map[string]interface{}{
		"hardware_id": t.HardwareID,
		"timestamp":   t.Timestamp.Unix(),
		"received_at": t.ReceivedAt.Unix(),
	}
	optional := map[string]*float64{
		"ram_usage_gb":        t.RAMUsageGB,
		"cpu_usage_percent":   t.CPUUsagePct,
		"disk_usage_gb":       t.DiskUsageGB,
		"disk_usage_percent":  t.DiskUsagePct,
		"temperatura_celsius": t.TemperatureC,
	}
	for k, v := range optional {
		if v != nil {
			stateData[k] = *v
		}
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateKey := DeviceStateKey(t.HardwareID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, deviceStateTTL)
	pipe.Publish(ctx, "devices:telemetry", pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func DeviceStateKey(hardwareID string) string {
	return fmt.Sprintf("device:%s:state", hardwareID)
}

// GetAPIKey returns the hardware id bound to apiKey, or "" when the key is unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("device:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

// Claim takes key for ttl unless another caller holds it.
func (r *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisStore) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func AlertChannel(companyID string) string {
	return fmt.Sprintf("fleet:%s:alerts", companyID)
}

func (r *RedisStore) PublishAlert(ctx context.Context, companyID string, payload []byte) error {
	return r.client.Publish(ctx, AlertChannel(companyID), payload).Err()
}
