package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file - using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       redisGetEnvInt("REDIS_DB", 0),
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	step1_api_keys(ctx, client)
	if redisGetEnv("SEED_FROM_DB", "false") == "true" {
		step2_registered_devices(ctx, client)
	}
	step3_verify(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/dms-api")
}

func step1_api_keys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 1: Seeding device API keys ─────────────")

	// Key pattern: device:auth:{api_key} → id_hardware_jetson
	// This is what authenticator.go looks up at Level 2
	// TTL = 0 means permanent - these never expire
	apiKeys := map[string]string{
		"device:auth:jetson_001_key": "JETSON-001",
		"device:auth:jetson_002_key": "JETSON-002",
		"device:auth:jetson_003_key": "JETSON-003",
		"device:auth:test_key":       "JETSON-TEST",
	}

	for key, hardwareID := range apiKeys {
		err := client.Set(ctx, key, hardwareID, 0).Err()
		if err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", key, hardwareID)
	}
}

// step2_registered_devices issues one key per jetson_nanos row that has none.
func step2_registered_devices(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 2: Keys for registered devices ─────────")

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		redisGetEnv("MASTER_DB_USER", redisGetEnv("DB_USER", "fleet_user")),
		redisGetEnv("MASTER_DB_PASSWORD", redisGetEnv("DB_PASSWORD", "fleet_password")),
		redisGetEnv("MASTER_DB_HOST", redisGetEnv("DB_HOST", "localhost")),
		redisGetEnv("MASTER_DB_PORT", redisGetEnv("DB_PORT", "5432")),
		redisGetEnv("MASTER_DB_NAME", redisGetEnv("DB_NAME", "fleet_monitor")),
	)
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Master data connection failed: %v", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `SELECT id_hardware_jetson FROM jetson_nanos ORDER BY id_hardware_jetson`)
	if err != nil {
		log.Fatalf("Reading jetson_nanos failed: %v", err)
	}
	hardwareIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		log.Fatalf("Reading jetson_nanos failed: %v", err)
	}

	issued := map[string]bool{}
	existing, err := client.Keys(ctx, "device:auth:*").Result()
	if err != nil {
		log.Fatalf("Listing keys failed: %v", err)
	}
	for _, k := range existing {
		if hw, err := client.Get(ctx, k).Result(); err == nil {
			issued[hw] = true
		}
	}

	for _, hw := range hardwareIDs {
		if issued[hw] {
			fmt.Printf("  – %-20s already has a key\n", hw)
			continue
		}
		apiKey := uuid.NewString()
		if err := client.Set(ctx, "device:auth:"+apiKey, hw, 0).Err(); err != nil {
			log.Fatalf("Failed to set key for %s: %v", hw, err)
		}
		fmt.Printf("  ✓ %-20s → %s\n", hw, apiKey)
	}
}

func step3_verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	// Check all keys exist
	keys, err := client.Keys(ctx, "device:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	// Spot check one key
	val, err := client.Get(ctx, "device:auth:test_key").Result()
	if err != nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: device:auth:test_key → %s\n", val)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func redisGetEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}
