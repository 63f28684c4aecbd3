package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DefaultValues(t *testing.T) {
	for _, k := range []string{
		"HTTP_PORT", "STORE_BACKEND", "DB_HOST", "MASTER_DB_HOST", "REDIS_ADDR",
		"DISTRACTION_THRESHOLD_SECONDS", "FATIGUE_THRESHOLD_SCORE", "ALERT_COOLDOWNS",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "8001", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "localhost", cfg.MasterDBHost)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 3.0, cfg.DistractionThresholdSec)
	assert.Equal(t, 0.8, cfg.FatigueThresholdScore)
	assert.Equal(t, map[string]time.Duration{"Conductor No Identificado": 5 * time.Minute}, cfg.AlertCooldowns)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("MASTER_DB_HOST", "")
	t.Setenv("DISTRACTION_THRESHOLD_SECONDS", "2.5")
	t.Setenv("FATIGUE_THRESHOLD_SCORE", "not-a-number")
	t.Setenv("ALERT_COOLDOWNS", "Fatiga Severa=2m; Conductor No Identificado=10m")
	t.Setenv("VALID_API_KEYS", "a,b")

	cfg := Load()

	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "db", cfg.DBHost)
	assert.Equal(t, "db", cfg.MasterDBHost, "master data falls back to the event store host")
	assert.Equal(t, 2.5, cfg.DistractionThresholdSec)
	assert.Equal(t, 0.8, cfg.FatigueThresholdScore)
	assert.Equal(t, 2*time.Minute, cfg.AlertCooldowns["Fatiga Severa"])
	assert.Equal(t, 10*time.Minute, cfg.AlertCooldowns["Conductor No Identificado"])
	assert.Equal(t, []string{"a", "b"}, cfg.ValidAPIKeys)
}

func TestParseCooldowns(t *testing.T) {
	got := parseCooldowns("A=1m;broken;B=;C=-5s;=3m; D = 30s ")

	assert.Equal(t, map[string]time.Duration{
		"A": time.Minute,
		"D": 30 * time.Second,
	}, got)
}
