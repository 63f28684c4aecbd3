package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/normalize"
	"fleet-monitor/dms/internal/resolve"
)

type SessionStore interface {
	UpsertSession(ctx context.Context, u domain.SessionUpdate) (*domain.Session, error)
	SessionByExternalID(ctx context.Context, externalID uuid.UUID) (*domain.Session, error)
	ActiveSessionForVehicle(ctx context.Context, vehicleID uuid.UUID) (*domain.Session, error)
	ListSessions(ctx context.Context, f domain.SessionFilter) ([]*domain.Session, error)
}

// SessionService collapses the start and end reports of a driving session
// into one row keyed by the device session id.
type SessionService struct {
	store    SessionStore
	resolver *resolve.Resolver
	log      *zap.Logger
}

func NewSessionService(store SessionStore, resolver *resolve.Resolver, log *zap.Logger) *SessionService {
	return &SessionService{store: store, resolver: resolver, log: log}
}

// Upsert returns domain.ErrInvalidSession for a bad payload and
// domain.ErrRejected when the driver or vehicle does not exist. Lookup
// failures are returned as-is.
func (s *SessionService) Upsert(ctx context.Context, raw normalize.RawSession) (*domain.Session, error) {
	ext, reason := resolve.ParseID(raw.ExternalID)
	if reason != resolve.ReasonNone {
		return nil, fmt.Errorf("id_sesion_conduccion_jetson %s: %w", reason, domain.ErrInvalidSession)
	}

	driver := s.resolver.Driver(ctx, raw.DriverID)
	if err := hardRef("driver", driver); err != nil {
		return nil, err
	}
	vehicle := s.resolver.Vehicle(ctx, raw.VehicleID)
	if err := hardRef("vehicle", vehicle); err != nil {
		return nil, err
	}

	u := domain.SessionUpdate{
		ExternalID: ext,
		DriverID:   driver.Value.ID,
		VehicleID:  vehicle.Value.ID,
		Status:     normalize.SessionStatus(raw),
	}

	var err error
	if u.StartedAt, err = optionalTimestamp("fecha_inicio_real", raw.StartedAt); err != nil {
		return nil, err
	}
	if u.EndedAt, err = optionalTimestamp("fecha_fin_real", raw.EndedAt); err != nil {
		return nil, err
	}
	if d := normalize.Float(raw.DurationSec); d != nil && *d >= 0 {
		u.DurationSec = d
	}

	if u.DurationSec == nil && u.EndedAt != nil {
		u.DurationSec = s.computeDuration(ctx, u)
	}

	sess, err := s.store.UpsertSession(ctx, u)
	if err != nil {
		return nil, err
	}
	s.log.Info("session upserted",
		zap.String("session_id", sess.ID.String()),
		zap.String("external_id", ext.String()),
		zap.String("status", sess.Status),
	)
	return sess, nil
}

// computeDuration derives end-start in seconds, reading the stored start time
// when the report carries only the end.
func (s *SessionService) computeDuration(ctx context.Context, u domain.SessionUpdate) *float64 {
	start := u.StartedAt
	if start == nil {
		existing, err := s.store.SessionByExternalID(ctx, u.ExternalID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.log.Warn("session lookup for duration failed", zap.Error(err))
			}
			return nil
		}
		start = &existing.StartedAt
	}
	if u.EndedAt.Before(*start) {
		return nil
	}
	d := u.EndedAt.Sub(*start).Seconds()
	return &d
}

func (s *SessionService) Get(ctx context.Context, externalID string) (*domain.Session, error) {
	id, reason := resolve.ParseID(externalID)
	if reason != resolve.ReasonNone {
		return nil, domain.ErrNotFound
	}
	return s.store.SessionByExternalID(ctx, id)
}

func (s *SessionService) ActiveForVehicle(ctx context.Context, vehicleID uuid.UUID) (*domain.Session, error) {
	return s.store.ActiveSessionForVehicle(ctx, vehicleID)
}

func (s *SessionService) List(ctx context.Context, f domain.SessionFilter) ([]*domain.Session, error) {
	return s.store.ListSessions(ctx, f)
}

func hardRef[T any](kind string, r resolve.Result[T]) error {
	if r.Found {
		return nil
	}
	if r.Transient() {
		return fmt.Errorf("%s lookup: %w", kind, r.Err)
	}
	return fmt.Errorf("%s %s: %w", kind, r.Reason, domain.ErrRejected)
}

func optionalTimestamp(field, raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, ok := normalize.Timestamp(raw)
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", field, raw, domain.ErrInvalidSession)
	}
	return &t, nil
}
