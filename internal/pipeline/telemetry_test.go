package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/masterdata"
	"fleet-monitor/dms/internal/metrics"
	"fleet-monitor/dms/internal/normalize"
	"fleet-monitor/dms/internal/store"
)

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, 1)
	before := metrics.DBChannelDrops.Load()

	d.Dispatch(&domain.DeviceTelemetry{HardwareID: "A"})
	d.Dispatch(&domain.DeviceTelemetry{HardwareID: "B"})

	assert.Len(t, d.DBChan, 1)
	assert.Len(t, d.StateChan, 1)
	assert.Equal(t, before+1, metrics.DBChannelDrops.Load())
}

func TestDispatcher_DispatchAfterCloseDrops(t *testing.T) {
	d := NewDispatcher(4, 4)
	before := metrics.DBChannelDrops.Load()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(&domain.DeviceTelemetry{HardwareID: "LATE"})
		}()
	}
	d.Close()
	wg.Wait()

	assert.NotPanics(t, func() { d.Dispatch(&domain.DeviceTelemetry{HardwareID: "AFTER"}) })
	assert.NotPanics(t, d.Close)

	queued := 0
	for range d.DBChan {
		queued++
	}
	assert.Equal(t, int64(9-queued), metrics.DBChannelDrops.Load()-before)
}

func TestTelemetryIntake_Accept(t *testing.T) {
	dir := masterdata.NewMemoryDirectory()
	dir.AddDevice(domain.Device{HardwareID: "JETSON-001"})
	d := NewDispatcher(10, 10)
	intake := NewTelemetryIntake(d, dir, zap.NewNop())

	sample, err := intake.Accept(context.Background(),
		[]byte(`{"id_hardware_jetson":"JETSON-001","cpu_usage_percent":"55.5","temperatura_celsius":61}`))

	require.NoError(t, err)
	assert.Equal(t, 55.5, *sample.CPUUsagePct)
	assert.Len(t, d.DBChan, 1)
	assert.Len(t, d.StateChan, 1)
}

func TestTelemetryIntake_Rejections(t *testing.T) {
	intake := NewTelemetryIntake(NewDispatcher(10, 10), masterdata.NewMemoryDirectory(), zap.NewNop())
	ctx := context.Background()

	_, err := intake.Accept(ctx, []byte(`{"id_hardware_jetson":"UNKNOWN"}`))
	assert.ErrorIs(t, err, domain.ErrRejected)

	_, err = intake.Accept(ctx, []byte(`{"cpu_usage_percent":1}`))
	assert.ErrorIs(t, err, normalize.ErrMissingHardwareID)

	_, err = intake.Accept(ctx, []byte(`[1,2]`))
	assert.ErrorIs(t, err, normalize.ErrUndecodable)
}

type flakyTelemetry struct {
	mu       sync.Mutex
	failures int
	written  int
	touches  int
}

func (f *flakyTelemetry) TouchDevices(context.Context, []*domain.DeviceTelemetry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return errors.New("jetson_nanos missing")
}

func (f *flakyTelemetry) BatchInsertTelemetry(_ context.Context, samples []*domain.DeviceTelemetry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("copy failed")
	}
	f.written += len(samples)
	return nil
}

func TestDBWriter_FlushesOnBatchSizeAndClose(t *testing.T) {
	mem := store.NewMemoryStore()
	ch := make(chan *domain.DeviceTelemetry, 10)
	w := NewDBWriter(ch, mem, 2, 60_000, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	for i := 0; i < 3; i++ {
		ch <- &domain.DeviceTelemetry{HardwareID: "JETSON-001", Timestamp: time.Now()}
	}
	close(ch)
	<-done

	assert.Equal(t, 3, mem.TelemetryCount())
}

func TestDBWriter_RetriesOnce(t *testing.T) {
	db := &flakyTelemetry{failures: 1}
	w := NewDBWriter(nil, db, 10, 1000, zap.NewNop())
	w.retryDelay = time.Millisecond

	w.flush(context.Background(), []*domain.DeviceTelemetry{{HardwareID: "A"}})

	assert.Equal(t, 1, db.written)
	assert.Equal(t, 1, db.touches, "touch failure does not retry the insert")
}

type recordingState struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingState) DeviceStateUpdate(_ context.Context, t *domain.DeviceTelemetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, t.HardwareID)
	return nil
}

func TestStateWriter_DrainsOnCancel(t *testing.T) {
	state := &recordingState{}
	ch := make(chan *domain.DeviceTelemetry, 10)
	w := NewStateWriter(ch, state, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	ch <- &domain.DeviceTelemetry{HardwareID: "A"}
	ch <- &domain.DeviceTelemetry{HardwareID: "B"}

	require.Eventually(t, func() bool {
		state.mu.Lock()
		defer state.mu.Unlock()
		return len(state.ids) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
