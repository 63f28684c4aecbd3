package domain

import "time"

// DeviceTelemetry is one periodic health sample from an edge unit.
type DeviceTelemetry struct {
	ReceivedAt time.Time

	HardwareID string
	Timestamp  time.Time

	RAMUsageGB   *float64
	CPUUsagePct  *float64
	DiskUsageGB  *float64
	DiskUsagePct *float64
	TemperatureC *float64

	RawPayload []byte
}
