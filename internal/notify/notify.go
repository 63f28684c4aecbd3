// Package notify delivers raised alerts to downstream consumers. Delivery is
// fire-and-forget: sink failures are logged and counted, never returned.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/metrics"
)

type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Message is one raised alert plus the vehicle context consumers route on.
type Message struct {
	Alert     *domain.Alert
	CompanyID uuid.UUID
	Plate     string
}

type payload struct {
	ID          string  `json:"id"`
	EventID     *string `json:"id_evento,omitempty"`
	DriverID    string  `json:"id_conductor"`
	VehicleID   string  `json:"id_bus"`
	SessionID   *string `json:"id_sesion_conduccion,omitempty"`
	CompanyID   string  `json:"id_empresa,omitempty"`
	Plate       string  `json:"placa,omitempty"`
	RaisedAt    string  `json:"timestamp_alerta"`
	Type        string  `json:"tipo_alerta"`
	Description string  `json:"descripcion"`
	Criticality string  `json:"nivel_criticidad"`
	Status      string  `json:"estado_alerta"`
}

func optionalID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// JSON renders the wire form shared by every sink.
func (m Message) JSON() ([]byte, error) {
	a := m.Alert
	p := payload{
		ID:          a.ID.String(),
		EventID:     optionalID(a.EventID),
		DriverID:    a.DriverID.String(),
		VehicleID:   a.VehicleID.String(),
		SessionID:   optionalID(a.SessionID),
		Plate:       m.Plate,
		RaisedAt:    a.RaisedAt.UTC().Format(time.RFC3339Nano),
		Type:        string(a.Type),
		Description: a.Description,
		Criticality: string(a.Criticality),
		Status:      a.Status,
	}
	if m.CompanyID != uuid.Nil {
		p.CompanyID = m.CompanyID.String()
	}
	return json.Marshal(p)
}

type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Fanout sends every message to all sinks, each in its own goroutine and
// bounded by timeout.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewFanout(timeout time.Duration, log *zap.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, timeout: timeout, log: log}
}

func (f *Fanout) Notify(ctx context.Context, msg Message) {
	base := context.WithoutCancel(ctx)
	for _, s := range f.sinks {
		f.wg.Add(1)
		go func(s Sink) {
			defer f.wg.Done()
			sctx, cancel := context.WithTimeout(base, f.timeout)
			defer cancel()
			if err := f.send(sctx, s, msg); err != nil {
				metrics.NotifyFailures.Add(1)
				f.log.Warn("alert notification failed",
					zap.String("sink", s.Name()),
					zap.String("alert_id", msg.Alert.ID.String()),
					zap.Error(err),
				)
			}
		}(s)
	}
}

func (f *Fanout) send(ctx context.Context, s Sink, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Send(ctx, msg)
}

// Wait blocks until in-flight deliveries finish.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) {}
