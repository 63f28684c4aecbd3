package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/metrics"
)

type TelemetryStore interface {
	BatchInsertTelemetry(ctx context.Context, samples []*domain.DeviceTelemetry) error
}

// DeviceToucher is implemented by stores that track device last-contact
// times. It runs after a successful insert and never triggers a retry.
type DeviceToucher interface {
	TouchDevices(ctx context.Context, samples []*domain.DeviceTelemetry) error
}

type DBWriter struct {
	ch         <-chan *domain.DeviceTelemetry
	db         TelemetryStore
	batchSize  int
	flushMS    int
	retryDelay time.Duration
	log        *zap.Logger
}

func NewDBWriter(
	ch <-chan *domain.DeviceTelemetry,
	db TelemetryStore,
	batchSize int,
	flushMS int,
	log *zap.Logger,
) *DBWriter {
	return &DBWriter{
		ch:         ch,
		db:         db,
		batchSize:  batchSize,
		flushMS:    flushMS,
		retryDelay: 500 * time.Millisecond,
		log:        log,
	}
}

func (w *DBWriter) Run(ctx context.Context) {
	batch := make([]*domain.DeviceTelemetry, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	// Final flushes must outlive the cancelled run context.
	flushCtx := context.WithoutCancel(ctx)

	for {
		select {
		case t, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.flush(flushCtx, batch)
				}
				return
			}
			batch = append(batch, t)
			if len(batch) >= w.batchSize {
				w.flush(flushCtx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(flushCtx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(flushCtx, batch)
			}
			return
		}
	}
}

func (w *DBWriter) flush(ctx context.Context, batch []*domain.DeviceTelemetry) {
	err := w.db.BatchInsertTelemetry(ctx, batch)
	if err != nil {
		w.log.Warn("telemetry write failed, retrying", zap.Int("batch", len(batch)), zap.Error(err))
		time.Sleep(w.retryDelay)
		err = w.db.BatchInsertTelemetry(ctx, batch)
		if err != nil {
			w.log.Error("telemetry write permanently failed", zap.Int("batch", len(batch)), zap.Error(err))
			metrics.DBWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.DBWriteSuccess.Add(int64(len(batch)))

	if t, ok := w.db.(DeviceToucher); ok {
		if err := t.TouchDevices(ctx, batch); err != nil {
			w.log.Warn("device last-contact update failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
	}
}
