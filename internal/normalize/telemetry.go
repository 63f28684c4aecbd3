package normalize

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fleet-monitor/dms/internal/domain"
)

var ErrMissingHardwareID = errors.New("id_hardware_jetson is missing")

type RawTelemetry struct {
	HardwareID   string          `json:"id_hardware_jetson"`
	Timestamp    string          `json:"timestamp_telemetry"`
	RAMUsageGB   json.RawMessage `json:"ram_usage_gb,omitempty"`
	CPUUsagePct  json.RawMessage `json:"cpu_usage_percent,omitempty"`
	DiskUsageGB  json.RawMessage `json:"disk_usage_gb,omitempty"`
	DiskUsagePct json.RawMessage `json:"disk_usage_percent,omitempty"`
	TemperatureC json.RawMessage `json:"temperatura_celsius,omitempty"`
}

// Telemetry validates one device health sample. payload is kept verbatim for replay.
func Telemetry(raw RawTelemetry, payload []byte, now time.Time) (*domain.DeviceTelemetry, error) {
	hw := strings.TrimSpace(raw.HardwareID)
	if hw == "" {
		return nil, ErrMissingHardwareID
	}

	ts, ok := Timestamp(raw.Timestamp)
	if !ok {
		ts = now
	}

	return &domain.DeviceTelemetry{
		ReceivedAt:   now,
		HardwareID:   hw,
		Timestamp:    ts,
		RAMUsageGB:   Float(raw.RAMUsageGB),
		CPUUsagePct:  Float(raw.CPUUsagePct),
		DiskUsageGB:  Float(raw.DiskUsageGB),
		DiskUsagePct: Float(raw.DiskUsagePct),
		TemperatureC: Float(raw.TemperatureC),
		RawPayload:   payload,
	}, nil
}
