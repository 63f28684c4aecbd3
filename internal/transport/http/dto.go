package http

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/dms/internal/domain"
)

type batchRequest struct {
	Events *[]json.RawMessage `json:"events"`
}

type batchResponse struct {
	Message          string `json:"message"`
	Received         int    `json:"received"`
	ProcessedCount   int    `json:"processed_count"`
	SkippedCount     int    `json:"skipped_count"`
	AlertsRaised     int    `json:"alerts_raised"`
	AlertsSuppressed int    `json:"alerts_suppressed"`
}

type alertUpdateRequest struct {
	Status     *string `json:"estado_alerta"`
	ActionType *string `json:"tipo_gestion"`
	Comments   *string `json:"comentarios_gestion"`
	ManagedBy  string  `json:"gestionada_por_id_usuario"`
}

type eventJSON struct {
	ID             string          `json:"id"`
	LocalSeq       *int64          `json:"id_local_jetson,omitempty"`
	VehicleID      string          `json:"id_bus"`
	DriverID       *string         `json:"id_conductor"`
	SessionID      *string         `json:"id_sesion_conduccion"`
	OccurredAt     string          `json:"timestamp_evento"`
	Type           string          `json:"tipo_evento"`
	Subtype        *string         `json:"subtipo_evento"`
	DurationSec    *float64        `json:"duracion_segundos"`
	Severity       *string         `json:"severidad"`
	Confidence     *float64        `json:"confidence_score_ia"`
	AlertTriggered bool            `json:"alerta_disparada"`
	Location       *string         `json:"ubicacion_gps_evento"`
	SnapshotURL    *string         `json:"snapshot_url"`
	ClipURL        *string         `json:"video_clip_url"`
	Metadata       json.RawMessage `json:"metadatos_ia_json,omitempty"`
	SentAt         *string         `json:"sent_to_cloud_at"`
	ProcessedAt    string          `json:"processed_in_cloud_at"`
}

type sessionJSON struct {
	ID          string   `json:"id"`
	ExternalID  string   `json:"id_sesion_conduccion_jetson"`
	DriverID    string   `json:"id_conductor"`
	VehicleID   string   `json:"id_bus"`
	StartedAt   string   `json:"fecha_inicio_real"`
	EndedAt     *string  `json:"fecha_fin_real"`
	Status      string   `json:"estado_sesion"`
	DurationSec *float64 `json:"duracion_total_seg"`
	UpdatedAt   string   `json:"last_updated_at"`
}

type alertJSON struct {
	ID          string  `json:"id"`
	EventID     *string `json:"id_evento"`
	DriverID    *string `json:"id_conductor"`
	VehicleID   string  `json:"id_bus"`
	SessionID   *string `json:"id_sesion_conduccion"`
	RaisedAt    string  `json:"timestamp_alerta"`
	Type        string  `json:"tipo_alerta"`
	Description string  `json:"descripcion"`
	Criticality string  `json:"nivel_criticidad"`
	Status      string  `json:"estado_alerta"`
	ManagedBy   *string `json:"gestionada_por_id_usuario"`
	ManagedAt   *string `json:"fecha_gestion"`
	ActionType  *string `json:"tipo_gestion"`
	Comments    *string `json:"comentarios_gestion"`
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optTS(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := ts(*t)
	return &s
}

func optID(id *uuid.UUID) *string {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func toEventJSON(e *domain.Event) eventJSON {
	return eventJSON{
		ID:             e.ID.String(),
		LocalSeq:       e.LocalSeq,
		VehicleID:      e.VehicleID.String(),
		DriverID:       optID(e.DriverID),
		SessionID:      optID(e.SessionID),
		OccurredAt:     ts(e.OccurredAt),
		Type:           string(e.Type),
		Subtype:        e.Subtype,
		DurationSec:    e.DurationSec,
		Severity:       e.Severity,
		Confidence:     e.Confidence,
		AlertTriggered: e.AlertTriggered,
		Location:       e.Location,
		SnapshotURL:    e.SnapshotURL,
		ClipURL:        e.ClipURL,
		Metadata:       e.Metadata,
		SentAt:         optTS(e.SentAt),
		ProcessedAt:    ts(e.ProcessedAt),
	}
}

func toSessionJSON(s *domain.Session) sessionJSON {
	return sessionJSON{
		ID:          s.ID.String(),
		ExternalID:  s.ExternalID.String(),
		DriverID:    s.DriverID.String(),
		VehicleID:   s.VehicleID.String(),
		StartedAt:   ts(s.StartedAt),
		EndedAt:     optTS(s.EndedAt),
		Status:      s.Status,
		DurationSec: s.DurationSec,
		UpdatedAt:   ts(s.UpdatedAt),
	}
}

// toAlertJSON renders the unknown-driver sentinel as null.
func toAlertJSON(a *domain.Alert) alertJSON {
	driver := a.DriverID
	return alertJSON{
		ID:          a.ID.String(),
		EventID:     optID(a.EventID),
		DriverID:    optID(&driver),
		VehicleID:   a.VehicleID.String(),
		SessionID:   optID(a.SessionID),
		RaisedAt:    ts(a.RaisedAt),
		Type:        string(a.Type),
		Description: a.Description,
		Criticality: string(a.Criticality),
		Status:      a.Status,
		ManagedBy:   optID(a.ManagedBy),
		ManagedAt:   optTS(a.ManagedAt),
		ActionType:  a.ActionType,
		Comments:    a.Comments,
	}
}

func mapSlice[T, R any](in []T, f func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
