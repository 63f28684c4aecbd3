package domain

import "github.com/google/uuid"

// Vehicle, Driver, User and Device are owned by the master-data service.
// Only the attributes needed to link records and render alert text are loaded.

type Vehicle struct {
	ID             uuid.UUID
	CompanyID      uuid.UUID
	Plate          string
	InternalNumber string
}

type Driver struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	FullName   string
	NationalID string
}

type User struct {
	ID       uuid.UUID
	Username string
	Role     string
}

type Device struct {
	HardwareID string
	VehicleID  *uuid.UUID
}
