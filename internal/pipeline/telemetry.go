package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/metrics"
	"fleet-monitor/dms/internal/normalize"
)

type DeviceLookup interface {
	Device(ctx context.Context, hardwareID string) (*domain.Device, error)
}

// TelemetryIntake validates device health samples and queues them for the
// writers. Writes happen asynchronously.
type TelemetryIntake struct {
	dispatcher *Dispatcher
	devices    DeviceLookup
	now        func() time.Time
	log        *zap.Logger
}

func NewTelemetryIntake(dispatcher *Dispatcher, devices DeviceLookup, log *zap.Logger) *TelemetryIntake {
	return &TelemetryIntake{dispatcher: dispatcher, devices: devices, now: time.Now, log: log}
}

// Accept returns normalize validation errors for a bad payload and
// domain.ErrRejected for an unregistered device. A device lookup failure does
// not block the sample.
func (t *TelemetryIntake) Accept(ctx context.Context, payload []byte) (*domain.DeviceTelemetry, error) {
	var raw normalize.RawTelemetry
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(normalize.ErrUndecodable, err)
	}

	sample, err := normalize.Telemetry(raw, payload, t.now())
	if err != nil {
		return nil, err
	}

	if t.devices != nil {
		_, err := t.devices.Device(ctx, sample.HardwareID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("device %s: %w", sample.HardwareID, domain.ErrRejected)
		case err != nil:
			t.log.Warn("device lookup failed, accepting sample", zap.String("hardware_id", sample.HardwareID), zap.Error(err))
		}
	}

	metrics.TelemetryReceived.Add(1)
	t.dispatcher.Dispatch(sample)
	return sample, nil
}
