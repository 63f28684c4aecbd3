package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found - using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to PostgreSQL...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure PostgreSQL is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	// Master-data tables live here only in development. In production they
	// are owned by the master-data service (MASTER_DB_*).
	busRef := ""
	if dbGetEnv("INIT_MASTER_TABLES", "true") == "true" {
		step1_master_tables(ctx, conn)
		busRef = "REFERENCES buses (id)"
	}
	step2_sessions_table(ctx, conn, busRef)
	step3_events_table(ctx, conn, busRef)
	step4_alerts_table(ctx, conn, busRef)
	step5_telemetry_table(ctx, conn)
	step6_indexes(ctx, conn)
	step7_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1 - Master data (buses, conductores, usuarios, jetson_nanos)
// ─────────────────────────────────────────────────────────────
func step1_master_tables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Master data tables ──────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS buses (
			id              UUID         PRIMARY KEY,
			id_empresa      UUID         NOT NULL,
			placa           TEXT         NOT NULL UNIQUE,
			numero_interno  TEXT
		);
	`, "buses table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS conductores (
			id               UUID        PRIMARY KEY,
			id_empresa       UUID        NOT NULL,
			nombre_completo  TEXT        NOT NULL,
			cedula           TEXT
		);
	`, "conductores table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS usuarios (
			id        UUID   PRIMARY KEY,
			username  TEXT   NOT NULL UNIQUE,
			rol       TEXT   NOT NULL
		);
	`, "usuarios table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS jetson_nanos (
			id_hardware_jetson        TEXT         PRIMARY KEY,
			id_bus                    UUID         REFERENCES buses (id),
			last_telemetry_at         TIMESTAMPTZ,
			ultima_conexion_cloud_at  TIMESTAMPTZ
		);
	`, "jetson_nanos table created")
}

// ─────────────────────────────────────────────────────────────
// Step 2 - sesiones_conduccion
// ─────────────────────────────────────────────────────────────
func step2_sessions_table(ctx context.Context, conn *pgx.Conn, busRef string) {
	fmt.Println("\n── Step 2: sesiones_conduccion table ───────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS sesiones_conduccion (
			id                           UUID              PRIMARY KEY,

			-- Generated on the device; start and end reports upsert on it
			id_sesion_conduccion_jetson  UUID              NOT NULL UNIQUE,

			id_conductor                 UUID              NOT NULL,
			id_bus                       UUID              NOT NULL `+busRef+`,
			fecha_inicio_real            TIMESTAMPTZ       NOT NULL,
			fecha_fin_real               TIMESTAMPTZ,
			estado_sesion                TEXT              NOT NULL DEFAULT 'Activa',
			duracion_total_seg           DOUBLE PRECISION,
			last_updated_at              TIMESTAMPTZ       NOT NULL DEFAULT NOW()
		);
	`, "sesiones_conduccion table created")
}

// ─────────────────────────────────────────────────────────────
// Step 3 - eventos
// ─────────────────────────────────────────────────────────────
func step3_events_table(ctx context.Context, conn *pgx.Conn, busRef string) {
	fmt.Println("\n── Step 3: eventos table ───────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS eventos (
			-- Generated on the device; the idempotency key
			id                     UUID              PRIMARY KEY,
			id_local_jetson        BIGINT,

			-- Hard reference: an unknown bus is a foreign key violation
			id_bus                 UUID              NOT NULL `+busRef+`,
			id_conductor           UUID,

			-- Device session id (sesiones_conduccion.id_sesion_conduccion_jetson)
			id_sesion_conduccion   UUID,

			timestamp_evento       TIMESTAMPTZ       NOT NULL,
			tipo_evento            TEXT              NOT NULL,
			subtipo_evento         TEXT,
			duracion_segundos      DOUBLE PRECISION,
			severidad              TEXT,
			confidence_score_ia    DOUBLE PRECISION,
			alerta_disparada       BOOLEAN           NOT NULL DEFAULT false,
			ubicacion_gps_evento   TEXT,
			snapshot_url           TEXT,
			video_clip_url         TEXT,
			metadatos_ia_json      JSONB,
			sent_to_cloud_at       TIMESTAMPTZ,
			processed_in_cloud_at  TIMESTAMPTZ       NOT NULL DEFAULT NOW()
		);
	`, "eventos table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4 - alertas
// ─────────────────────────────────────────────────────────────
func step4_alerts_table(ctx context.Context, conn *pgx.Conn, busRef string) {
	fmt.Println("\n── Step 4: alertas table ───────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS alertas (
			id                         UUID          PRIMARY KEY,
			id_evento                  UUID          REFERENCES eventos (id),

			-- The nil UUID marks an unidentified driver, so no foreign key
			id_conductor               UUID          NOT NULL,
			id_bus                     UUID          NOT NULL `+busRef+`,
			-- Device session id, same key space as eventos.id_sesion_conduccion
			id_sesion_conduccion       UUID          REFERENCES sesiones_conduccion (id_sesion_conduccion_jetson),

			timestamp_alerta           TIMESTAMPTZ   NOT NULL,
			tipo_alerta                TEXT          NOT NULL,
			descripcion                TEXT          NOT NULL,
			nivel_criticidad           TEXT          NOT NULL,
			estado_alerta              TEXT          NOT NULL DEFAULT 'Activa',

			-- Operator management, NULL until an operator acts
			gestionada_por_id_usuario  UUID,
			fecha_gestion              TIMESTAMPTZ,
			tipo_gestion               TEXT,
			comentarios_gestion        TEXT,

			last_updated_at            TIMESTAMPTZ   NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_estado_alerta CHECK (
				estado_alerta IN ('Activa', 'Revisada', 'Descartada')
			),
			CONSTRAINT chk_nivel_criticidad CHECK (
				nivel_criticidad IN ('Alta', 'Crítica')
			)
		);
	`, "alertas table created")
}

// ─────────────────────────────────────────────────────────────
// Step 5 - jetson_telemetry
// ─────────────────────────────────────────────────────────────
func step5_telemetry_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: jetson_telemetry table ──────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS jetson_telemetry (
			id_hardware_jetson   TEXT              NOT NULL,

			-- Device clock; received_at is the server clock
			timestamp_telemetry  TIMESTAMPTZ       NOT NULL,
			received_at          TIMESTAMPTZ       NOT NULL DEFAULT NOW(),

			ram_usage_gb         DOUBLE PRECISION,
			cpu_usage_percent    DOUBLE PRECISION,
			disk_usage_gb        DOUBLE PRECISION,
			disk_usage_percent   DOUBLE PRECISION,
			temperatura_celsius  DOUBLE PRECISION,

			-- Original JSON payload - stored for debugging and replay
			raw_payload          JSONB
		);
	`, "jetson_telemetry table created")

	// Hypertable partitioning when TimescaleDB is installed; plain table otherwise
	if execOptional(ctx, conn, "CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;", "timescaledb extension") {
		execOrFatal(ctx, conn, `
			SELECT create_hypertable(
				'jetson_telemetry',
				'timestamp_telemetry',
				if_not_exists => TRUE
			);
		`, "jetson_telemetry converted to hypertable")
	}
}

// ─────────────────────────────────────────────────────────────
// Step 6 - Indexes
// ─────────────────────────────────────────────────────────────
func step6_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_eventos_bus_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_eventos_bus_time
				  ON eventos (id_bus, timestamp_evento DESC);`,
			why: "query: events for one bus",
		},
		{
			name: "idx_eventos_conductor_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_eventos_conductor_time
				  ON eventos (id_conductor, timestamp_evento DESC);`,
			why: "query: events for one driver",
		},
		{
			name: "idx_eventos_sesion",
			sql: `CREATE INDEX IF NOT EXISTS idx_eventos_sesion
				  ON eventos (id_sesion_conduccion);`,
			why: "query: events of one session",
		},
		{
			name: "idx_alertas_bus_tipo_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_alertas_bus_tipo_time
				  ON alertas (id_bus, tipo_alerta, timestamp_alerta DESC);`,
			why: "cooldown: latest alert of a type for one bus",
		},
		{
			name: "idx_alertas_activas",
			sql: `CREATE INDEX IF NOT EXISTS idx_alertas_activas
				  ON alertas (timestamp_alerta DESC)
				  WHERE estado_alerta = 'Activa';`,
			why: "query: active alerts only (partial index)",
		},
		{
			name: "idx_alertas_sesion",
			sql: `CREATE INDEX IF NOT EXISTS idx_alertas_sesion
				  ON alertas (id_sesion_conduccion);`,
			why: "query: alerts of one session",
		},
		{
			name: "idx_sesiones_bus_activa",
			sql: `CREATE INDEX IF NOT EXISTS idx_sesiones_bus_activa
				  ON sesiones_conduccion (id_bus, fecha_inicio_real DESC)
				  WHERE estado_sesion = 'Activa';`,
			why: "query: active session of a bus",
		},
		{
			name: "idx_telemetry_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_telemetry_device_time
				  ON jetson_telemetry (id_hardware_jetson, timestamp_telemetry DESC);`,
			why: "query: telemetry history for one device",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 7 - Verify everything was created
// ─────────────────────────────────────────────────────────────
func step7_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 7: Verification ────────────────────────")

	tables := []string{"eventos", "sesiones_conduccion", "alertas", "jetson_telemetry"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var indexCount int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('eventos', 'alertas', 'sesiones_conduccion', 'jetson_telemetry')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED - %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

// execOptional runs a SQL statement and reports whether it succeeded
func execOptional(ctx context.Context, conn *pgx.Conn, sql, label string) bool {
	if _, err := conn.Exec(ctx, sql); err != nil {
		fmt.Printf("  – %s skipped: %v\n", label, err)
		return false
	}
	fmt.Printf("  ✓ %s\n", label)
	return true
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
