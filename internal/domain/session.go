package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	SessionActive   = "Activa"
	SessionFinished = "Finalizada"
)

// Session is one continuous driving period. ExternalID is generated on the
// device and is the upsert key; start and end reports collapse into one row.
type Session struct {
	ID          uuid.UUID
	ExternalID  uuid.UUID
	DriverID    uuid.UUID
	VehicleID   uuid.UUID
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string
	DurationSec *float64
	UpdatedAt   time.Time
}

func (s *Session) Active() bool {
	return s.Status == SessionActive && s.EndedAt == nil
}

// SessionUpdate carries the fields of one session report. Nil fields are not
// provided and leave the stored value untouched.
type SessionUpdate struct {
	ExternalID  uuid.UUID
	DriverID    uuid.UUID
	VehicleID   uuid.UUID
	StartedAt   *time.Time
	EndedAt     *time.Time
	Status      *string
	DurationSec *float64
}

type SessionFilter struct {
	VehicleID  *uuid.UUID
	DriverID   *uuid.UUID
	ActiveOnly bool
	Offset     int
	Limit      int
}
