// Package masterdata reads the vehicles, drivers, users and devices owned by
// the master-data service. It never writes.
package masterdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"fleet-monitor/dms/internal/config"
	"fleet-monitor/dms/internal/domain"
)

// OpenPostgres connects to the master-data database.
func OpenPostgres(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.MasterDBHost,
		cfg.MasterDBPort,
		cfg.MasterDBUser,
		cfg.MasterDBPassword,
		cfg.MasterDBName,
		cfg.MasterDBSSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open master-data database: %w", err)
	}
	if cfg.MasterDBMaxConns > 0 {
		db.SetMaxOpenConns(cfg.MasterDBMaxConns)
		db.SetMaxIdleConns(cfg.MasterDBMaxConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping master-data database: %w", err)
	}
	return db, nil
}

// SQLDirectory looks records up by primary key. A missing row is domain.ErrNotFound.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) Vehicle(ctx context.Context, id uuid.UUID) (*domain.Vehicle, error) {
	var v domain.Vehicle
	var internal sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, id_empresa, placa, numero_interno FROM buses WHERE id = $1`, id,
	).Scan(&v.ID, &v.CompanyID, &v.Plate, &internal)
	if err != nil {
		return nil, rowErr("vehicle", id, err)
	}
	v.InternalNumber = internal.String
	return &v, nil
}

func (d *SQLDirectory) Driver(ctx context.Context, id uuid.UUID) (*domain.Driver, error) {
	var dr domain.Driver
	var nationalID sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, id_empresa, nombre_completo, cedula FROM conductores WHERE id = $1`, id,
	).Scan(&dr.ID, &dr.CompanyID, &dr.FullName, &nationalID)
	if err != nil {
		return nil, rowErr("driver", id, err)
	}
	dr.NationalID = nationalID.String
	return &dr, nil
}

func (d *SQLDirectory) User(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, rol FROM usuarios WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Role)
	if err != nil {
		return nil, rowErr("user", id, err)
	}
	return &u, nil
}

func (d *SQLDirectory) Device(ctx context.Context, hardwareID string) (*domain.Device, error) {
	var dev domain.Device
	var vehicle uuid.NullUUID
	err := d.db.QueryRowContext(ctx,
		`SELECT id_hardware_jetson, id_bus FROM jetson_nanos WHERE id_hardware_jetson = $1`, hardwareID,
	).Scan(&dev.HardwareID, &vehicle)
	if err != nil {
		return nil, rowErr("device", hardwareID, err)
	}
	if vehicle.Valid {
		dev.VehicleID = &vehicle.UUID
	}
	return &dev, nil
}

func rowErr(kind string, key any, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("lookup %s %v: %w", kind, key, err)
}
