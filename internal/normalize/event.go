// Package normalize turns raw device payloads into canonical in-memory records.
// It validates and coerces; it never reads or writes storage.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/dms/internal/domain"
)

var (
	ErrUndecodable = errors.New("entry is not a JSON object with the expected field types")
	ErrMissingID   = errors.New("event id is missing")
	ErrMalformedID = errors.New("event id is not a valid UUID")
	ErrMissingType = errors.New("tipo_evento is missing")
)

// RawEvent mirrors the device wire format. Numeric fields may arrive as JSON
// numbers or as numeric strings, so they are kept raw until coercion.
type RawEvent struct {
	ID          string          `json:"id"`
	LocalSeq    json.RawMessage `json:"id_local_jetson,omitempty"`
	VehicleID   string          `json:"id_bus"`
	DriverID    string          `json:"id_conductor"`
	SessionID   string          `json:"id_sesion_conduccion_jetson"`
	Timestamp   string          `json:"timestamp_evento"`
	Type        string          `json:"tipo_evento"`
	Subtype     *string         `json:"subtipo_evento"`
	Duration    json.RawMessage `json:"duracion_segundos,omitempty"`
	Severity    *string         `json:"severidad"`
	Confidence  json.RawMessage `json:"confidence_score_ia,omitempty"`
	Location    *string         `json:"ubicacion_gps_evento"`
	SnapshotURL *string         `json:"snapshot_url"`
	ClipURL     *string         `json:"video_clip_url"`
	Metadata    json.RawMessage `json:"metadatos_ia_json,omitempty"`
	SentAt      string          `json:"sent_to_cloud_at"`
}

// Candidate is a validated event whose references are still unresolved.
type Candidate struct {
	Event      domain.Event
	VehicleRef string
	DriverRef  string
	SessionRef string

	// TimestampDefaulted is set when timestamp_evento was absent or unparsable
	// and server time was used instead.
	TimestampDefaulted bool
}

// Decode parses one batch entry. A decoding failure only affects that entry.
func Decode(raw json.RawMessage) (RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return RawEvent{}, errors.Join(ErrUndecodable, err)
	}
	return ev, nil
}

// Event validates raw and coerces its fields. now is the server receive time.
func Event(raw RawEvent, now time.Time) (Candidate, error) {
	idRaw := strings.TrimSpace(raw.ID)
	if idRaw == "" {
		return Candidate{}, ErrMissingID
	}
	id, err := uuid.Parse(idRaw)
	if err != nil || id == uuid.Nil {
		return Candidate{}, ErrMalformedID
	}

	typ := strings.TrimSpace(raw.Type)
	if typ == "" {
		return Candidate{}, ErrMissingType
	}

	c := Candidate{
		VehicleRef: raw.VehicleID,
		DriverRef:  raw.DriverID,
		SessionRef: raw.SessionID,
	}

	occurred, ok := Timestamp(raw.Timestamp)
	if !ok {
		occurred = now
		c.TimestampDefaulted = true
	}

	c.Event = domain.Event{
		ID:          id,
		LocalSeq:    Int(raw.LocalSeq),
		OccurredAt:  occurred,
		Type:        domain.EventType(typ),
		Subtype:     trimmed(raw.Subtype),
		DurationSec: nonNegative(Float(raw.Duration)),
		Severity:    trimmed(raw.Severity),
		Confidence:  unitInterval(Float(raw.Confidence)),
		Location:    trimmed(raw.Location),
		SnapshotURL: trimmed(raw.SnapshotURL),
		ClipURL:     trimmed(raw.ClipURL),
		Metadata:    object(raw.Metadata),
		ProcessedAt: now,
	}
	if sent, ok := Timestamp(raw.SentAt); ok {
		c.Event.SentAt = &sent
	}

	return c, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// Timestamp parses ISO-8601 timestamps with or without a zone offset.
// Values without an offset are taken as UTC.
func Timestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Float accepts a JSON number or a numeric string. Anything else is nil.
func Float(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Int accepts an integral JSON number or numeric string.
func Int(raw json.RawMessage) *int64 {
	f := Float(raw)
	if f == nil || *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt64/2 {
		return nil
	}
	n := int64(*f)
	return &n
}

func nonNegative(f *float64) *float64 {
	if f == nil || *f < 0 {
		return nil
	}
	return f
}

func unitInterval(f *float64) *float64 {
	if f == nil || *f < 0 || *f > 1 {
		return nil
	}
	return f
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// object keeps the metadata blob only when it is a JSON object.
func object(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' || !json.Valid(raw) {
		return nil
	}
	return raw
}
