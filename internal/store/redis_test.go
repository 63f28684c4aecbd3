package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/dms/internal/domain"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStoreFromClient(client)
}

func TestRedisStore_ClaimAndRelease(t *testing.T) {
	mr, rs := setupTestRedis(t)
	ctx := context.Background()

	ok, err := rs.Claim(ctx, "cooldown:bus-1:Conductor No Identificado", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rs.Claim(ctx, "cooldown:bus-1:Conductor No Identificado", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second claim loses")

	mr.FastForward(6 * time.Minute)
	ok, err = rs.Claim(ctx, "cooldown:bus-1:Conductor No Identificado", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "claim expires with the window")

	require.NoError(t, rs.Release(ctx, "cooldown:bus-1:Conductor No Identificado"))
	assert.False(t, mr.Exists("cooldown:bus-1:Conductor No Identificado"))
}

func TestRedisStore_ClaimFailsWhenRedisDown(t *testing.T) {
	mr, rs := setupTestRedis(t)
	mr.Close()

	_, err := rs.Claim(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}

func TestRedisStore_GetAPIKey(t *testing.T) {
	mr, rs := setupTestRedis(t)
	require.NoError(t, mr.Set("device:auth:key-1", "JETSON-001"))

	hw, err := rs.GetAPIKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "JETSON-001", hw)

	hw, err = rs.GetAPIKey(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, hw)
}

func TestRedisStore_PublishAlert(t *testing.T) {
	_, rs := setupTestRedis(t)
	ctx := context.Background()

	sub := rs.Client().Subscribe(ctx, AlertChannel("company-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, rs.PublishAlert(ctx, "company-1", []byte(`{"tipo_alerta":"Fatiga Severa"}`)))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fleet:company-1:alerts", msg.Channel)
	assert.JSONEq(t, `{"tipo_alerta":"Fatiga Severa"}`, msg.Payload)
}

func TestRedisStore_DeviceStateUpdate(t *testing.T) {
	mr, rs := setupTestRedis(t)
	cpu := 41.5
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	err := rs.DeviceStateUpdate(context.Background(), &domain.DeviceTelemetry{
		HardwareID:  "JETSON-001",
		Timestamp:   now,
		ReceivedAt:  now,
		CPUUsagePct: &cpu,
	})
	require.NoError(t, err)

	key := DeviceStateKey("JETSON-001")
	assert.Equal(t, "JETSON-001", mr.HGet(key, "hardware_id"))
	assert.Equal(t, "41.5", mr.HGet(key, "cpu_usage_percent"))
	assert.Empty(t, mr.HGet(key, "ram_usage_gb"))
	assert.Equal(t, deviceStateTTL, mr.TTL(key))
}
