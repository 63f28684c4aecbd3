package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDistraction       EventType = "Distraccion"
	EventFatigue           EventType = "Fatiga"
	EventDrivingRegulation EventType = "RegulacionConduccion"
	EventIdentification    EventType = "Identificacion"
)

const (
	SubtypeExcessDrivingHours = "Exceso Horas Conduccion"
	SubtypeUnidentifiedDriver = "Conductor No Identificado"
)

// Event is one driving-behavior occurrence reported by an edge device.
// ID is generated on the device and is the idempotency key.
type Event struct {
	ID        uuid.UUID
	LocalSeq  *int64
	VehicleID uuid.UUID
	DriverID  *uuid.UUID
	// SessionID holds the device-generated session id, not the session row id.
	SessionID *uuid.UUID

	OccurredAt  time.Time
	Type        EventType
	Subtype     *string
	DurationSec *float64
	Severity    *string
	Confidence  *float64

	AlertTriggered bool

	Location    *string
	SnapshotURL *string
	ClipURL     *string
	Metadata    json.RawMessage

	SentAt      *time.Time
	ProcessedAt time.Time
}

func (e *Event) SubtypeIs(s string) bool {
	return e.Subtype != nil && *e.Subtype == s
}

// Merge overwrites e with every field provided by next. Nil fields in next keep
// the stored value. AlertTriggered is owned by the pipeline and never merged.
func (e *Event) Merge(next *Event) {
	if next.LocalSeq != nil {
		e.LocalSeq = next.LocalSeq
	}
	e.VehicleID = next.VehicleID
	if next.DriverID != nil {
		e.DriverID = next.DriverID
	}
	if next.SessionID != nil {
		e.SessionID = next.SessionID
	}
	e.OccurredAt = next.OccurredAt
	e.Type = next.Type
	if next.Subtype != nil {
		e.Subtype = next.Subtype
	}
	if next.DurationSec != nil {
		e.DurationSec = next.DurationSec
	}
	if next.Severity != nil {
		e.Severity = next.Severity
	}
	if next.Confidence != nil {
		e.Confidence = next.Confidence
	}
	if next.Location != nil {
		e.Location = next.Location
	}
	if next.SnapshotURL != nil {
		e.SnapshotURL = next.SnapshotURL
	}
	if next.ClipURL != nil {
		e.ClipURL = next.ClipURL
	}
	if len(next.Metadata) > 0 {
		e.Metadata = next.Metadata
	}
	if next.SentAt != nil {
		e.SentAt = next.SentAt
	}
	e.ProcessedAt = next.ProcessedAt
}

type EventFilter struct {
	VehicleID *uuid.UUID
	DriverID  *uuid.UUID
	SessionID *uuid.UUID
	Offset    int
	Limit     int
}
