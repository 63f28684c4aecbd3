package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/metrics"
)

type DeviceStateStore interface {
	DeviceStateUpdate(ctx context.Context, t *domain.DeviceTelemetry) error
}

// StateWriter keeps the live per-device state used by dashboards.
type StateWriter struct {
	ch    <-chan *domain.DeviceTelemetry
	state DeviceStateStore
	log   *zap.Logger
}

func NewStateWriter(
	ch <-chan *domain.DeviceTelemetry,
	state DeviceStateStore,
	log *zap.Logger,
) *StateWriter {
	return &StateWriter{ch: ch, state: state, log: log}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.DeviceTelemetry, 0, 100)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	flushCtx := context.WithoutCancel(ctx)

	for {
		select {
		case t, ok := <-w.ch:
			if !ok {
				w.flushBatch(flushCtx, batch)
				return
			}
			batch = append(batch, t)
			if len(batch) >= 100 {
				w.flushBatch(flushCtx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(flushCtx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(flushCtx, batch)
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch []*domain.DeviceTelemetry) {
	for _, t := range batch {
		if err := w.state.DeviceStateUpdate(ctx, t); err != nil {
			metrics.StateWriteFailures.Add(1)
			w.log.Warn("device state update failed", zap.String("hardware_id", t.HardwareID), zap.Error(err))
		}
	}
}
