package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/cooldown"
	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/metrics"
	"fleet-monitor/dms/internal/notify"
	"fleet-monitor/dms/internal/resolve"
	"fleet-monitor/dms/internal/rules"
)

type AlertStore interface {
	cooldown.History
	CreateAlert(ctx context.Context, a *domain.Alert) (*domain.Alert, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*domain.Alert, error)
	UpdateAlert(ctx context.Context, a *domain.Alert) (*domain.Alert, error)
	ListAlerts(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error)
	ActiveAlerts(ctx context.Context, offset, limit int) ([]*domain.Alert, error)
}

type RaiseOutcome int

const (
	NotRaised RaiseOutcome = iota
	Raised
	Suppressed
)

type RaiseRequest struct {
	Event     *domain.Event
	Candidate *rules.Candidate
	Vehicle   *domain.Vehicle
	Session   *domain.Session
}

// AlertChanges are the management fields of one status update. Nil fields are
// left untouched.
type AlertChanges struct {
	Status     *string
	ActionType *string
	Comments   *string
}

func (c AlertChanges) empty() bool {
	return c.Status == nil && c.ActionType == nil && c.Comments == nil
}

type AlertService struct {
	store    AlertStore
	dedup    *cooldown.Deduplicator
	resolver *resolve.Resolver
	notifier notify.Notifier
	now      func() time.Time
	log      *zap.Logger
}

func NewAlertService(store AlertStore, dedup *cooldown.Deduplicator, resolver *resolve.Resolver, notifier notify.Notifier, log *zap.Logger) *AlertService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &AlertService{
		store:    store,
		dedup:    dedup,
		resolver: resolver,
		notifier: notifier,
		now:      time.Now,
		log:      log,
	}
}

// WithClock replaces the wall clock used for management timestamps.
func (s *AlertService) WithClock(now func() time.Time) *AlertService {
	s.now = now
	return s
}

// Raise applies the cooldown, persists the alert and hands it to the notifier.
// A cooldown history failure raises nothing.
func (s *AlertService) Raise(ctx context.Context, req RaiseRequest) (*domain.Alert, RaiseOutcome, error) {
	ev, cand := req.Event, req.Candidate
	log := s.log.With(
		zap.String("event_id", ev.ID.String()),
		zap.String("vehicle_id", ev.VehicleID.String()),
		zap.String("alert_type", string(cand.Type)),
	)

	suppress, err := s.dedup.ShouldSuppress(ctx, ev.VehicleID, cand.Type)
	if err != nil {
		return nil, NotRaised, err
	}
	if suppress {
		metrics.AlertsSuppressed.Add(1)
		log.Info("alert suppressed by cooldown")
		return nil, Suppressed, nil
	}

	eventID := ev.ID
	alert := &domain.Alert{
		EventID:     &eventID,
		DriverID:    domain.UnknownDriverID,
		VehicleID:   ev.VehicleID,
		RaisedAt:    ev.OccurredAt,
		Type:        cand.Type,
		Description: cand.Description,
		Criticality: cand.Criticality,
		Status:      domain.AlertStatusActive,
	}
	if ev.DriverID != nil {
		alert.DriverID = *ev.DriverID
	}
	if req.Session != nil {
		id := req.Session.ExternalID
		alert.SessionID = &id
	}

	created, err := s.store.CreateAlert(ctx, alert)
	s.dedup.Release(ctx, ev.VehicleID, cand.Type)
	if err != nil {
		return nil, NotRaised, fmt.Errorf("create alert: %w", err)
	}
	metrics.AlertsRaised.Add(1)
	log.Info("alert raised",
		zap.String("alert_id", created.ID.String()),
		zap.String("criticality", string(created.Criticality)),
	)

	msg := notify.Message{Alert: created}
	if req.Vehicle != nil {
		msg.CompanyID = req.Vehicle.CompanyID
		msg.Plate = req.Vehicle.Plate
	}
	s.notifier.Notify(ctx, msg)

	return created, Raised, nil
}

// UpdateStatus applies operator management to an alert. An unknown or
// malformed managing user is omitted rather than rejected.
func (s *AlertService) UpdateStatus(ctx context.Context, alertID uuid.UUID, changes AlertChanges, managingUserID string) (*domain.Alert, error) {
	a, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if changes.Status != nil {
		next := strings.TrimSpace(*changes.Status)
		if !domain.IsKnownAlertStatus(next) {
			return nil, fmt.Errorf("%q: %w", next, domain.ErrInvalidStatus)
		}
		if next != a.Status {
			if a.Terminal() {
				return nil, fmt.Errorf("%s to %s: %w", a.Status, next, domain.ErrInvalidTransition)
			}
			a.Status = next
		}
	}

	userRecorded := false
	if strings.TrimSpace(managingUserID) != "" {
		user := s.resolver.User(ctx, managingUserID)
		if user.Found {
			id := user.Value.ID
			a.ManagedBy = &id
			userRecorded = true
		} else {
			s.log.Warn("managing user not resolved, omitted from alert",
				zap.String("alert_id", alertID.String()),
				zap.String("user_ref", managingUserID),
				zap.String("resolve", string(user.Reason)),
				zap.Error(user.Err),
			)
		}
	}

	if changes.ActionType != nil {
		a.ActionType = changes.ActionType
	}
	if changes.Comments != nil {
		a.Comments = changes.Comments
	}
	if userRecorded || !changes.empty() {
		now := s.now()
		a.ManagedAt = &now
	}

	updated, err := s.store.UpdateAlert(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("update alert %s: %w", alertID, err)
	}
	s.log.Info("alert updated",
		zap.String("alert_id", alertID.String()),
		zap.String("status", updated.Status),
		zap.Bool("user_recorded", userRecorded),
	)
	return updated, nil
}

func (s *AlertService) Get(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

func (s *AlertService) List(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error) {
	return s.store.ListAlerts(ctx, f)
}

func (s *AlertService) Active(ctx context.Context, offset, limit int) ([]*domain.Alert, error) {
	return s.store.ActiveAlerts(ctx, offset, limit)
}
