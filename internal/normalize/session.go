package normalize

import (
	"encoding/json"
	"strings"
)

// RawSession is one session start or end report.
type RawSession struct {
	ExternalID  string          `json:"id_sesion_conduccion_jetson"`
	DriverID    string          `json:"id_conductor"`
	VehicleID   string          `json:"id_bus"`
	StartedAt   string          `json:"fecha_inicio_real"`
	EndedAt     string          `json:"fecha_fin_real"`
	Status      string          `json:"estado_sesion"`
	DurationSec json.RawMessage `json:"duracion_total_seg,omitempty"`
}

// SessionStatus returns the trimmed status or nil when none was sent.
func SessionStatus(raw RawSession) *string {
	s := strings.TrimSpace(raw.Status)
	if s == "" {
		return nil
	}
	return &s
}
