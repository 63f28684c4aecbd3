package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fleet-monitor/dms/internal/domain"
)

const sessionColumns = `
	id, id_sesion_conduccion_jetson, id_conductor, id_bus, fecha_inicio_real,
	fecha_fin_real, estado_sesion, duracion_total_seg, last_updated_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.ExternalID,
		&s.DriverID,
		&s.VehicleID,
		&s.StartedAt,
		&s.EndedAt,
		&s.Status,
		&s.DurationSec,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSession creates the session for u.ExternalID or overwrites the fields
// u provides. StartedAt is required when the session does not exist yet.
func (s *PostgresStore) UpsertSession(ctx context.Context, u domain.SessionUpdate) (*domain.Session, error) {
	query := `
		INSERT INTO sesiones_conduccion (
			id, id_sesion_conduccion_jetson, id_conductor, id_bus, fecha_inicio_real,
			fecha_fin_real, estado_sesion, duracion_total_seg, last_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, 'Activa'), $8, NOW())
		ON CONFLICT (id_sesion_conduccion_jetson) DO UPDATE SET
			id_conductor       = EXCLUDED.id_conductor,
			id_bus             = EXCLUDED.id_bus,
			fecha_inicio_real  = COALESCE($5, sesiones_conduccion.fecha_inicio_real),
			fecha_fin_real     = COALESCE($6, sesiones_conduccion.fecha_fin_real),
			estado_sesion      = COALESCE($7, sesiones_conduccion.estado_sesion),
			duracion_total_seg = COALESCE($8, sesiones_conduccion.duracion_total_seg),
			last_updated_at    = NOW()
		RETURNING` + sessionColumns

	row := s.pool.QueryRow(ctx, query,
		uuid.New(),
		u.ExternalID,
		u.DriverID,
		u.VehicleID,
		u.StartedAt,
		u.EndedAt,
		u.Status,
		u.DurationSec,
	)
	sess, err := scanSession(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("upsert session %s: %w", u.ExternalID, domain.ErrRejected)
		}
		if isNotNullViolation(err) {
			return nil, fmt.Errorf("upsert session %s: start time required: %w", u.ExternalID, domain.ErrInvalidSession)
		}
		return nil, fmt.Errorf("upsert session %s: %w", u.ExternalID, err)
	}
	return sess, nil
}

func (s *PostgresStore) SessionByExternalID(ctx context.Context, externalID uuid.UUID) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+sessionColumns+` FROM sesiones_conduccion WHERE id_sesion_conduccion_jetson = $1`,
		externalID,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return sess, nil
}

func (s *PostgresStore) ActiveSessionForVehicle(ctx context.Context, vehicleID uuid.UUID) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+sessionColumns+` FROM sesiones_conduccion
		WHERE id_bus = $1 AND estado_sesion = 'Activa' AND fecha_fin_real IS NULL
		ORDER BY fecha_inicio_real DESC LIMIT 1`,
		vehicleID,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, f domain.SessionFilter) ([]*domain.Session, error) {
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
	if f.ActiveOnly {
		where = append(where, "estado_sesion = 'Activa' AND fecha_fin_real IS NULL")
	}

	query := `SELECT` + sessionColumns + ` FROM sesiones_conduccion`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY fecha_inicio_real DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
