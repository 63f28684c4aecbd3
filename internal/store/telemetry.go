package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/dms/internal/domain"
)

var telemetryColumns = []string{
	"id_hardware_jetson",
	"timestamp_telemetry",
	"received_at",
	"ram_usage_gb",
	"cpu_usage_percent",
	"disk_usage_gb",
	"disk_usage_percent",
	"temperatura_celsius",
	"raw_payload",
}

func (s *PostgresStore) BatchInsertTelemetry(ctx context.Context, samples []*domain.DeviceTelemetry) error {
	if len(samples) == 0 {
		return nil
	}

	rows := make([][]any, len(samples))
	for i, t := range samples {
		var raw any
		if len(t.RawPayload) > 0 {
			raw = string(t.RawPayload)
		}
		rows[i] = []any{
			t.HardwareID,
			t.Timestamp,
			t.ReceivedAt,
			t.RAMUsageGB,
			t.CPUUsagePct,
			t.DiskUsageGB,
			t.DiskUsagePct,
			t.TemperatureC,
			raw,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"jetson_telemetry"},
		telemetryColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(samples), err)
	}

	return nil
}

// TouchDevices records the newest contact time per device in jetson_nanos.
// Unknown hardware ids match no row and are ignored.
func (s *PostgresStore) TouchDevices(ctx context.Context, samples []*domain.DeviceTelemetry) error {
	latest := make(map[string]time.Time, len(samples))
	for _, t := range samples {
		if cur, ok := latest[t.HardwareID]; !ok || t.ReceivedAt.After(cur) {
			latest[t.HardwareID] = t.ReceivedAt
		}
	}

	batch := &pgx.Batch{}
	for hw, at := range latest {
		batch.Queue(`
			UPDATE jetson_nanos
			SET last_telemetry_at = $2, ultima_conexion_cloud_at = $2
			WHERE id_hardware_jetson = $1`, hw, at)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("touch devices: %w", err)
	}
	return nil
}
