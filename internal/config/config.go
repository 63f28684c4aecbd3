package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPPort string

	// "postgres" or "memory"
	StoreBackend string

	// Event/session/alert store
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Master data (vehicles, drivers, users, devices)
	MasterDBHost     string
	MasterDBPort     string
	MasterDBUser     string
	MasterDBPassword string
	MasterDBName     string
	MasterDBSSLMode  string
	MasterDBMaxConns int
	// JSON fixture for the memory directory, used with STORE_BACKEND=memory
	MasterDataSeedFile string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Alert rules
	DistractionThresholdSec float64
	FatigueThresholdScore   float64
	AlertCooldowns          map[string]time.Duration

	// Telemetry pipeline channels
	TelemetryChannelSize int
	StateChannelSize     int

	// Telemetry batch writer tuning
	DBBatchSize       int
	DBFlushIntervalMS int

	// Worker counts
	DBWriterWorkers    int
	StateWriterWorkers int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string

	// Notification sinks
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
	AlertWebhookURL string
	NotifyTimeoutMS int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		HTTPPort:                getEnv("HTTP_PORT", "8001"),
		StoreBackend:            getEnv("STORE_BACKEND", "postgres"),
		DBHost:                  getEnv("DB_HOST", "localhost"),
		DBPort:                  getEnv("DB_PORT", "5432"),
		DBUser:                  getEnv("DB_USER", "fleet_user"),
		DBPassword:              getEnv("DB_PASSWORD", "fleet_password"),
		DBName:                  getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns:              int32(getEnvInt("DB_MAX_CONNS", 15)),
		MasterDBHost:            getEnv("MASTER_DB_HOST", getEnv("DB_HOST", "localhost")),
		MasterDBPort:            getEnv("MASTER_DB_PORT", getEnv("DB_PORT", "5432")),
		MasterDBUser:            getEnv("MASTER_DB_USER", getEnv("DB_USER", "fleet_user")),
		MasterDBPassword:        getEnv("MASTER_DB_PASSWORD", getEnv("DB_PASSWORD", "fleet_password")),
		MasterDBName:            getEnv("MASTER_DB_NAME", getEnv("DB_NAME", "fleet_monitor")),
		MasterDBSSLMode:         getEnv("MASTER_DB_SSLMODE", "disable"),
		MasterDBMaxConns:        getEnvInt("MASTER_DB_MAX_CONNS", 5),
		MasterDataSeedFile:      getEnv("MASTERDATA_SEED_FILE", ""),
		RedisAddr:               getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:           getEnv("REDIS_PASSWORD", ""),
		RedisDB:                 getEnvInt("REDIS_DB", 0),
		DistractionThresholdSec: getEnvFloat("DISTRACTION_THRESHOLD_SECONDS", 3.0),
		FatigueThresholdScore:   getEnvFloat("FATIGUE_THRESHOLD_SCORE", 0.8),
		AlertCooldowns:          parseCooldowns(getEnv("ALERT_COOLDOWNS", "Conductor No Identificado=5m")),
		TelemetryChannelSize:    getEnvInt("TELEMETRY_CHANNEL_SIZE", 10000),
		StateChannelSize:        getEnvInt("STATE_CHANNEL_SIZE", 10000),
		DBBatchSize:             getEnvInt("DB_BATCH_SIZE", 500),
		DBFlushIntervalMS:       getEnvInt("DB_FLUSH_INTERVAL_MS", 1000),
		DBWriterWorkers:         getEnvInt("DB_WRITER_WORKERS", 2),
		StateWriterWorkers:      getEnvInt("STATE_WRITER_WORKERS", 2),
		AuthCacheTTLSeconds:     getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:            strings.Split(getEnv("VALID_API_KEYS", ""), ","),
		MQTTBroker:              getEnv("MQTT_BROKER", ""),
		MQTTClientID:            getEnv("MQTT_CLIENT_ID", "dms-api"),
		MQTTUsername:            getEnv("MQTT_USERNAME", ""),
		MQTTPassword:            getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix:         getEnv("MQTT_TOPIC_PREFIX", "dms/alerts"),
		AlertWebhookURL:         getEnv("ALERT_WEBHOOK_URL", ""),
		NotifyTimeoutMS:         getEnvInt("NOTIFY_TIMEOUT_MS", 3000),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "json"),
	}
}

// parseCooldowns reads "Type=duration;Type=duration". Alert type names contain
// spaces, so pairs are separated by semicolons. Bad pairs are ignored.
func parseCooldowns(v string) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, pair := range strings.Split(v, ";") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if name == "" || err != nil || d <= 0 {
			continue
		}
		out[name] = d
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
