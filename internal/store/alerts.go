package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fleet-monitor/dms/internal/domain"
)

const alertColumns = `
	id, id_evento, id_conductor, id_bus, id_sesion_conduccion, timestamp_alerta,
	tipo_alerta, descripcion, nivel_criticidad, estado_alerta,
	gestionada_por_id_usuario, fecha_gestion, tipo_gestion, comentarios_gestion,
	last_updated_at`

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	var alertType, criticality string
	err := row.Scan(
		&a.ID,
		&a.EventID,
		&a.DriverID,
		&a.VehicleID,
		&a.SessionID,
		&a.RaisedAt,
		&alertType,
		&a.Description,
		&criticality,
		&a.Status,
		&a.ManagedBy,
		&a.ManagedAt,
		&a.ActionType,
		&a.Comments,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AlertType(alertType)
	a.Criticality = domain.Criticality(criticality)
	return &a, nil
}

func (s *PostgresStore) CreateAlert(ctx context.Context, a *domain.Alert) (*domain.Alert, error) {
	query := `
		INSERT INTO alertas (
			id, id_evento, id_conductor, id_bus, id_sesion_conduccion, timestamp_alerta,
			tipo_alerta, descripcion, nivel_criticidad, estado_alerta, last_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING` + alertColumns

	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	status := a.Status
	if status == "" {
		status = domain.AlertStatusActive
	}

	row := s.pool.QueryRow(ctx, query,
		id,
		a.EventID,
		a.DriverID,
		a.VehicleID,
		a.SessionID,
		a.RaisedAt,
		string(a.Type),
		a.Description,
		string(a.Criticality),
		status,
	)
	created, err := scanAlert(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("create alert: %w", domain.ErrRejected)
		}
		return nil, fmt.Errorf("create alert: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+alertColumns+` FROM alertas WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *PostgresStore) LatestAlert(ctx context.Context, vehicleID uuid.UUID, alertType domain.AlertType) (*domain.Alert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+alertColumns+` FROM alertas
		WHERE id_bus = $1 AND tipo_alerta = $2
		ORDER BY timestamp_alerta DESC LIMIT 1`,
		vehicleID, string(alertType),
	)
	a, err := scanAlert(row)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// UpdateAlert persists the status and management fields of a.
func (s *PostgresStore) UpdateAlert(ctx context.Context, a *domain.Alert) (*domain.Alert, error) {
	query := `
		UPDATE alertas SET
			estado_alerta             = $2,
			gestionada_por_id_usuario = $3,
			fecha_gestion             = $4,
			tipo_gestion              = $5,
			comentarios_gestion       = $6,
			last_updated_at           = NOW()
		WHERE id = $1
		RETURNING` + alertColumns

	row := s.pool.QueryRow(ctx, query,
		a.ID,
		a.Status,
		a.ManagedBy,
		a.ManagedAt,
		a.ActionType,
		a.Comments,
	)
	updated, err := scanAlert(row)
	if err != nil {
		return nil, notFound(err)
	}
	return updated, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error) {
	var where []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Status != "" {
		add("estado_alerta", f.Status)
	}
	if f.Type != "" {
		add("tipo_alerta", string(f.Type))
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

	query := `SELECT` + alertColumns + ` FROM alertas`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY timestamp_alerta DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ActiveAlerts(ctx context.Context, offset, limit int) ([]*domain.Alert, error) {
	return s.ListAlerts(ctx, domain.AlertFilter{
		Status: domain.AlertStatusActive,
		Offset: offset,
		Limit:  limit,
	})
}
