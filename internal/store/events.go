package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fleet-monitor/dms/internal/domain"
)

const eventColumns = `
	id, id_local_jetson, id_bus, id_conductor, id_sesion_conduccion,
	timestamp_evento, tipo_evento, subtipo_evento, duracion_segundos, severidad,
	confidence_score_ia, alerta_disparada, ubicacion_gps_evento, snapshot_url,
	video_clip_url, metadatos_ia_json, sent_to_cloud_at, processed_in_cloud_at`

func scanEvent(row pgx.Row, extra ...any) (*domain.Event, error) {
	var ev domain.Event
	var eventType string
	dest := []any{
		&ev.ID,
		&ev.LocalSeq,
		&ev.VehicleID,
		&ev.DriverID,
		&ev.SessionID,
		&ev.OccurredAt,
		&eventType,
		&ev.Subtype,
		&ev.DurationSec,
		&ev.Severity,
		&ev.Confidence,
		&ev.AlertTriggered,
		&ev.Location,
		&ev.SnapshotURL,
		&ev.ClipURL,
		&ev.Metadata,
		&ev.SentAt,
		&ev.ProcessedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	ev.Type = domain.EventType(eventType)
	return &ev, nil
}

// UpsertEvent inserts the event or overwrites the provided fields of the row
// with the same id. alerta_disparada is left as stored.
func (s *PostgresStore) UpsertEvent(ctx context.Context, ev *domain.Event) (*domain.Event, bool, error) {
	query := `
		INSERT INTO eventos (
			id, id_local_jetson, id_bus, id_conductor, id_sesion_conduccion,
			timestamp_evento, tipo_evento, subtipo_evento, duracion_segundos, severidad,
			confidence_score_ia, ubicacion_gps_evento, snapshot_url, video_clip_url,
			metadatos_ia_json, sent_to_cloud_at, processed_in_cloud_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			id_local_jetson       = COALESCE(EXCLUDED.id_local_jetson, eventos.id_local_jetson),
			id_bus                = EXCLUDED.id_bus,
			id_conductor          = COALESCE(EXCLUDED.id_conductor, eventos.id_conductor),
			id_sesion_conduccion  = COALESCE(EXCLUDED.id_sesion_conduccion, eventos.id_sesion_conduccion),
			timestamp_evento      = EXCLUDED.timestamp_evento,
			tipo_evento           = EXCLUDED.tipo_evento,
			subtipo_evento        = COALESCE(EXCLUDED.subtipo_evento, eventos.subtipo_evento),
			duracion_segundos     = COALESCE(EXCLUDED.duracion_segundos, eventos.duracion_segundos),
			severidad             = COALESCE(EXCLUDED.severidad, eventos.severidad),
			confidence_score_ia   = COALESCE(EXCLUDED.confidence_score_ia, eventos.confidence_score_ia),
			ubicacion_gps_evento  = COALESCE(EXCLUDED.ubicacion_gps_evento, eventos.ubicacion_gps_evento),
			snapshot_url          = COALESCE(EXCLUDED.snapshot_url, eventos.snapshot_url),
			video_clip_url        = COALESCE(EXCLUDED.video_clip_url, eventos.video_clip_url),
			metadatos_ia_json     = COALESCE(EXCLUDED.metadatos_ia_json, eventos.metadatos_ia_json),
			sent_to_cloud_at      = COALESCE(EXCLUDED.sent_to_cloud_at, eventos.sent_to_cloud_at),
			processed_in_cloud_at = EXCLUDED.processed_in_cloud_at
		RETURNING` + eventColumns + `, (xmax = 0) AS inserted`

	var metadata any
	if len(ev.Metadata) > 0 {
		metadata = string(ev.Metadata)
	}

	var inserted bool
	row := s.pool.QueryRow(ctx, query,
		ev.ID,
		ev.LocalSeq,
		ev.VehicleID,
		ev.DriverID,
		ev.SessionID,
		ev.OccurredAt,
		string(ev.Type),
		ev.Subtype,
		ev.DurationSec,
		ev.Severity,
		ev.Confidence,
		ev.Location,
		ev.SnapshotURL,
		ev.ClipURL,
		metadata,
		ev.SentAt,
		ev.ProcessedAt,
	)
	stored, err := scanEvent(row, &inserted)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, false, fmt.Errorf("upsert event %s: %w", ev.ID, domain.ErrRejected)
		}
		return nil, false, fmt.Errorf("upsert event %s: %w", ev.ID, err)
	}
	return stored, inserted, nil
}

func (s *PostgresStore) MarkAlertTriggered(ctx context.Context, eventID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE eventos SET alerta_disparada = TRUE WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark event %s alerted: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+eventColumns+` FROM eventos WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, notFound(err)
	}
	return ev, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, f domain.EventFilter) ([]*domain.Event, error) {
	var where []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.VehicleID != nil {
		add("id_bus", *f.VehicleID)
	}
	if f.DriverID != nil {
		add("id_conductor", *f.DriverID)
	}
	if f.SessionID != nil {
		add("id_sesion_conduccion", *f.SessionID)
	}

	query := `SELECT` + eventColumns + ` FROM eventos`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY timestamp_evento DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
