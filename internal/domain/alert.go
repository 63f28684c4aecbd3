package domain

import (
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	AlertProlongedDistraction AlertType = "Distracción Prolongada"
	AlertSevereFatigue        AlertType = "Fatiga Severa"
	AlertExcessDrivingHours   AlertType = "Exceso Horas Conduccion"
	AlertUnidentifiedDriver   AlertType = "Conductor No Identificado"
)

type Criticality string

const (
	CriticalityHigh     Criticality = "Alta"
	CriticalityCritical Criticality = "Crítica"
)

const (
	AlertStatusActive    = "Activa"
	AlertStatusReviewed  = "Revisada"
	AlertStatusDismissed = "Descartada"
)

// UnknownDriverID is recorded on alerts whose event carried no resolvable driver.
var UnknownDriverID = uuid.Nil

type Alert struct {
	ID        uuid.UUID
	EventID   *uuid.UUID
	DriverID  uuid.UUID
	VehicleID uuid.UUID
	// SessionID holds the device-generated session id, as on Event.
	SessionID *uuid.UUID

	RaisedAt    time.Time
	Type        AlertType
	Description string
	Criticality Criticality
	Status      string

	ManagedBy  *uuid.UUID
	ManagedAt  *time.Time
	ActionType *string
	Comments   *string

	UpdatedAt time.Time
}

func IsKnownAlertStatus(s string) bool {
	switch s {
	case AlertStatusActive, AlertStatusReviewed, AlertStatusDismissed:
		return true
	}
	return false
}

func (a *Alert) Terminal() bool {
	return a.Status != AlertStatusActive
}

type AlertFilter struct {
	Status    string
	Type      AlertType
	VehicleID *uuid.UUID
	DriverID  *uuid.UUID
	SessionID *uuid.UUID
	Offset    int
	Limit     int
}
