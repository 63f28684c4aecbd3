package pipeline

import (
	"sync"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/metrics"
)

// Dispatcher hands each telemetry sample to the DB and state writers without
// blocking the request path. A full channel drops the sample for that writer.
type Dispatcher struct {
	DBChan    chan *domain.DeviceTelemetry
	StateChan chan *domain.DeviceTelemetry

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(dbSize, stateSize int) *Dispatcher {
	return &Dispatcher{
		DBChan:    make(chan *domain.DeviceTelemetry, dbSize),
		StateChan: make(chan *domain.DeviceTelemetry, stateSize),
	}
}

// Dispatch drops the sample for both writers once Close has been called.
func (d *Dispatcher) Dispatch(t *domain.DeviceTelemetry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.DBChannelDrops.Add(1)
		metrics.StateChannelDrops.Add(1)
		return
	}

	select {
	case d.DBChan <- t:
	default:
		metrics.DBChannelDrops.Add(1)
	}

	select {
	case d.StateChan <- t:
	default:
		metrics.StateChannelDrops.Add(1)
	}
}

// Close stops the writers once they drain. It is safe to call more than once
// and concurrently with Dispatch.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.DBChan)
	close(d.StateChan)
}
