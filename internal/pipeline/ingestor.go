package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/metrics"
	"fleet-monitor/dms/internal/normalize"
	"fleet-monitor/dms/internal/resolve"
	"fleet-monitor/dms/internal/rules"
)

// Skip reasons recorded in the "reason" log field.
const (
	SkipUndecodable         = "undecodable"
	SkipMissingID           = "missing_id"
	SkipMalformedID         = "malformed_id"
	SkipMissingType         = "missing_type"
	SkipVehicleNotFound     = "vehicle_not_found"
	SkipVehicleLookupFailed = "vehicle_lookup_failed"
	SkipPersistFailed       = "persist_failed"
	SkipInternalError       = "internal_error"
)

type EventStore interface {
	// UpsertEvent reports whether the row was newly inserted. The returned
	// event carries the stored AlertTriggered flag.
	UpsertEvent(ctx context.Context, ev *domain.Event) (*domain.Event, bool, error)
	MarkAlertTriggered(ctx context.Context, eventID uuid.UUID) error
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	ListEvents(ctx context.Context, f domain.EventFilter) ([]*domain.Event, error)
}

type BatchResult struct {
	Received         int
	Stored           int
	Skipped          int
	AlertsRaised     int
	AlertsSuppressed int
}

type entryResult struct {
	stored  bool
	outcome RaiseOutcome
}

// Ingestor runs every entry of an event batch through normalization,
// reference resolution, upsert and alerting. Entries are independent: a
// failure in one never undoes or blocks another.
type Ingestor struct {
	events   EventStore
	resolver *resolve.Resolver
	engine   *rules.Engine
	alerts   *AlertService
	now      func() time.Time
	log      *zap.Logger
}

func NewIngestor(events EventStore, resolver *resolve.Resolver, engine *rules.Engine, alerts *AlertService, log *zap.Logger) *Ingestor {
	return &Ingestor{
		events:   events,
		resolver: resolver,
		engine:   engine,
		alerts:   alerts,
		now:      time.Now,
		log:      log,
	}
}

// WithClock replaces the wall clock used for receive time.
func (in *Ingestor) WithClock(now func() time.Time) *Ingestor {
	in.now = now
	return in
}

// IngestBatch processes entries in order and always runs to completion, even
// when ctx is cancelled mid-batch.
func (in *Ingestor) IngestBatch(ctx context.Context, entries []json.RawMessage) BatchResult {
	ctx = context.WithoutCancel(ctx)
	res := BatchResult{Received: len(entries)}
	metrics.EventsReceived.Add(int64(len(entries)))

	for i, raw := range entries {
		r := in.ingestEntry(ctx, i, raw)
		if r.stored {
			res.Stored++
		} else {
			res.Skipped++
		}
		switch r.outcome {
		case Raised:
			res.AlertsRaised++
		case Suppressed:
			res.AlertsSuppressed++
		}
	}

	metrics.EventsStored.Add(int64(res.Stored))
	metrics.EventsSkipped.Add(int64(res.Skipped))

	in.log.Info("event batch processed",
		zap.Int("received", res.Received),
		zap.Int("stored", res.Stored),
		zap.Int("skipped", res.Skipped),
		zap.Int("alerts_raised", res.AlertsRaised),
		zap.Int("alerts_suppressed", res.AlertsSuppressed),
	)
	return res
}

func (in *Ingestor) ingestEntry(ctx context.Context, idx int, raw json.RawMessage) (res entryResult) {
	defer func() {
		if r := recover(); r != nil {
			in.log.Error("event entry panicked",
				zap.Int("entry", idx),
				zap.String("reason", SkipInternalError),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	now := in.now()

	rawEv, err := normalize.Decode(raw)
	if err != nil {
		in.skip(idx, "", SkipUndecodable, false, err)
		return res
	}

	cand, err := normalize.Event(rawEv, now)
	if err != nil {
		in.skip(idx, rawEv.ID, validationReason(err), false, err)
		return res
	}
	ev := cand.Event
	log := in.log.With(zap.Int("entry", idx), zap.String("event_id", ev.ID.String()))

	if cand.TimestampDefaulted {
		log.Debug("event timestamp missing or unparsable, using server time",
			zap.String("timestamp_evento", rawEv.Timestamp),
		)
	}

	vehicle := in.resolver.Vehicle(ctx, cand.VehicleRef)
	if !vehicle.Found {
		reason := SkipVehicleNotFound
		if vehicle.Transient() {
			reason = SkipVehicleLookupFailed
		}
		in.skip(idx, rawEv.ID, reason, vehicle.Transient(), vehicle.Err,
			zap.String("id_bus", cand.VehicleRef),
			zap.String("resolve", string(vehicle.Reason)),
		)
		return res
	}
	ev.VehicleID = vehicle.Value.ID

	driver := in.resolver.Driver(ctx, cand.DriverRef)
	if driver.Found {
		id := driver.Value.ID
		ev.DriverID = &id
	} else {
		softMiss(log, "driver", cand.DriverRef, driver)
	}

	session := in.resolver.Session(ctx, cand.SessionRef)
	if session.Found {
		ext := session.Value.ExternalID
		ev.SessionID = &ext
	} else {
		softMiss(log, "session", cand.SessionRef, session)
	}

	stored, inserted, err := in.events.UpsertEvent(ctx, &ev)
	if err != nil {
		in.skip(idx, rawEv.ID, SkipPersistFailed, !errors.Is(err, domain.ErrRejected), err)
		return res
	}
	res.stored = true
	log.Debug("event stored", zap.Bool("inserted", inserted))

	if stored.AlertTriggered {
		log.Debug("event already raised an alert, skipping rule evaluation")
		return res
	}

	alert := in.evaluate(log, stored, vehicle.Value, driver.Value)
	if alert == nil {
		return res
	}

	req := RaiseRequest{Event: stored, Candidate: alert, Vehicle: vehicle.Value}
	if session.Found {
		req.Session = session.Value
	}
	created, outcome, err := in.alerts.Raise(ctx, req)
	res.outcome = outcome
	if err != nil {
		log.Error("alert not raised", zap.String("alert_type", string(alert.Type)), zap.Error(err))
		return res
	}
	if outcome != Raised {
		return res
	}

	// The alert row and the event flag commit separately; a failure here
	// leaves the flag unset while the alert exists.
	if err := in.events.MarkAlertTriggered(ctx, stored.ID); err != nil {
		log.Error("failed to mark event as alert-triggered",
			zap.String("alert_id", created.ID.String()),
			zap.Error(err),
		)
	}
	return res
}

// evaluate contains a rule panic to the current entry.
func (in *Ingestor) evaluate(log *zap.Logger, ev *domain.Event, vehicle *domain.Vehicle, driver *domain.Driver) (c *rules.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("alert rule evaluation panicked", zap.Any("panic", r), zap.Stack("stack"))
			c = nil
		}
	}()
	return in.engine.Evaluate(ev, vehicle, driver)
}

func (in *Ingestor) skip(idx int, eventID, reason string, transient bool, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.Int("entry", idx),
		zap.String("event_id", eventID),
		zap.String("reason", reason),
		zap.Bool("transient", transient),
	)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	in.log.Warn("event entry skipped", fields...)
}

func softMiss[T any](log *zap.Logger, kind, ref string, r resolve.Result[T]) {
	switch {
	case r.Reason == resolve.ReasonEmpty:
	case r.Transient():
		log.Warn(fmt.Sprintf("%s lookup failed, link left empty", kind), zap.String("ref", ref), zap.Error(r.Err))
	default:
		log.Debug(fmt.Sprintf("%s not found, link left empty", kind), zap.String("ref", ref), zap.String("resolve", string(r.Reason)))
	}
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, normalize.ErrMissingID):
		return SkipMissingID
	case errors.Is(err, normalize.ErrMalformedID):
		return SkipMalformedID
	case errors.Is(err, normalize.ErrMissingType):
		return SkipMissingType
	}
	return SkipUndecodable
}

func (in *Ingestor) Event(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return in.events.GetEvent(ctx, id)
}

func (in *Ingestor) Events(ctx context.Context, f domain.EventFilter) ([]*domain.Event, error) {
	return in.events.ListEvents(ctx, f)
}
