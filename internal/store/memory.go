package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/dms/internal/domain"
)

// MemoryStore holds events, sessions, alerts and telemetry in process. It
// backs STORE_BACKEND=memory and the pipeline tests. Records are deep
// copied on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[uuid.UUID]domain.Event
	sessions  map[uuid.UUID]domain.Session // keyed by external id
	alerts    map[uuid.UUID]domain.Alert
	telemetry []domain.DeviceTelemetry
	states    map[string]domain.DeviceTelemetry
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   map[uuid.UUID]domain.Event{},
		sessions: map[uuid.UUID]domain.Session{},
		alerts:   map[uuid.UUID]domain.Alert{},
		states:   map[string]domain.DeviceTelemetry{},
		now:      time.Now,
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) UpsertEvent(_ context.Context, ev *domain.Event) (*domain.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.events[ev.ID]
	if exists {
		stored.Merge(ev)
	} else {
		stored = *ev
		stored.AlertTriggered = false
	}
	stored = cloneEvent(stored)
	m.events[ev.ID] = stored
	out := cloneEvent(stored)
	return &out, !exists, nil
}

func (m *MemoryStore) MarkAlertTriggered(_ context.Context, eventID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	ev.AlertTriggered = true
	m.events[eventID] = ev
	return nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneEvent(ev)
	return &out, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, f domain.EventFilter) ([]*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*domain.Event, 0, len(m.events))
	for _, ev := range m.events {
		if f.VehicleID != nil && ev.VehicleID != *f.VehicleID {
			continue
		}
		if f.DriverID != nil && (ev.DriverID == nil || *ev.DriverID != *f.DriverID) {
			continue
		}
		if f.SessionID != nil && (ev.SessionID == nil || *ev.SessionID != *f.SessionID) {
			continue
		}
		ev = cloneEvent(ev)
		all = append(all, &ev)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].OccurredAt.After(all[j].OccurredAt)
	})
	return page(all, f.Offset, f.Limit), nil
}

func (m *MemoryStore) UpsertSession(_ context.Context, u domain.SessionUpdate) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[u.ExternalID]
	if !exists {
		if u.StartedAt == nil {
			return nil, fmt.Errorf("upsert session %s: start time required: %w", u.ExternalID, domain.ErrInvalidSession)
		}
		s = domain.Session{
			ID:         uuid.New(),
			ExternalID: u.ExternalID,
			Status:     domain.SessionActive,
		}
	}
	s.DriverID = u.DriverID
	s.VehicleID = u.VehicleID
	if u.StartedAt != nil {
		s.StartedAt = *u.StartedAt
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		s.EndedAt = &t
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.DurationSec != nil {
		d := *u.DurationSec
		s.DurationSec = &d
	}
	s.UpdatedAt = m.now()

	m.sessions[u.ExternalID] = s
	out := cloneSession(s)
	return &out, nil
}

func (m *MemoryStore) SessionByExternalID(_ context.Context, externalID uuid.UUID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneSession(s)
	return &out, nil
}

func (m *MemoryStore) ActiveSessionForVehicle(ctx context.Context, vehicleID uuid.UUID) (*domain.Session, error) {
	list, _ := m.ListSessions(ctx, domain.SessionFilter{VehicleID: &vehicleID, ActiveOnly: true, Limit: 1})
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	return list[0], nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f domain.SessionFilter) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if f.VehicleID != nil && s.VehicleID != *f.VehicleID {
			continue
		}
		if f.DriverID != nil && s.DriverID != *f.DriverID {
			continue
		}
		if f.ActiveOnly && !s.Active() {
			continue
		}
		s = cloneSession(s)
		all = append(all, &s)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	return page(all, f.Offset, f.Limit), nil
}

func (m *MemoryStore) CreateAlert(_ context.Context, a *domain.Alert) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := cloneAlert(*a)
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	if created.Status == "" {
		created.Status = domain.AlertStatusActive
	}
	created.UpdatedAt = m.now()
	m.alerts[created.ID] = created
	out := cloneAlert(created)
	return &out, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id uuid.UUID) (*domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneAlert(a)
	return &out, nil
}

func (m *MemoryStore) LatestAlert(_ context.Context, vehicleID uuid.UUID, alertType domain.AlertType) (*domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *domain.Alert
	for _, a := range m.alerts {
		if a.VehicleID != vehicleID || a.Type != alertType {
			continue
		}
		if latest == nil || a.RaisedAt.After(latest.RaisedAt) {
			a = cloneAlert(a)
			latest = &a
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (m *MemoryStore) UpdateAlert(_ context.Context, a *domain.Alert) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.alerts[a.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	stored.Status = a.Status
	stored.ManagedBy = clonePtr(a.ManagedBy)
	stored.ManagedAt = clonePtr(a.ManagedAt)
	stored.ActionType = clonePtr(a.ActionType)
	stored.Comments = clonePtr(a.Comments)
	stored.UpdatedAt = m.now()
	m.alerts[a.ID] = stored
	out := cloneAlert(stored)
	return &out, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, f domain.AlertFilter) ([]*domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*domain.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.VehicleID != nil && a.VehicleID != *f.VehicleID {
			continue
		}
		if f.DriverID != nil && a.DriverID != *f.DriverID {
			continue
		}
		if f.SessionID != nil && (a.SessionID == nil || *a.SessionID != *f.SessionID) {
			continue
		}
		a = cloneAlert(a)
		all = append(all, &a)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].RaisedAt.After(all[j].RaisedAt)
	})
	return page(all, f.Offset, f.Limit), nil
}

func (m *MemoryStore) ActiveAlerts(ctx context.Context, offset, limit int) ([]*domain.Alert, error) {
	return m.ListAlerts(ctx, domain.AlertFilter{Status: domain.AlertStatusActive, Offset: offset, Limit: limit})
}

func (m *MemoryStore) BatchInsertTelemetry(_ context.Context, samples []*domain.DeviceTelemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range samples {
		m.telemetry = append(m.telemetry, *t)
	}
	return nil
}

// TelemetryCount reports how many samples were written.
func (m *MemoryStore) TelemetryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.telemetry)
}

// DeviceStateUpdate keeps the latest sample per device, newest timestamp wins.
func (m *MemoryStore) DeviceStateUpdate(_ context.Context, t *domain.DeviceTelemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.states[t.HardwareID]; ok && cur.Timestamp.After(t.Timestamp) {
		return nil
	}
	m.states[t.HardwareID] = *t
	return nil
}

func (m *MemoryStore) DeviceState(hardwareID string) (*domain.DeviceTelemetry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.states[hardwareID]
	return &t, ok
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneEvent(e domain.Event) domain.Event {
	e.LocalSeq = clonePtr(e.LocalSeq)
	e.DriverID = clonePtr(e.DriverID)
	e.SessionID = clonePtr(e.SessionID)
	e.Subtype = clonePtr(e.Subtype)
	e.DurationSec = clonePtr(e.DurationSec)
	e.Severity = clonePtr(e.Severity)
	e.Confidence = clonePtr(e.Confidence)
	e.Location = clonePtr(e.Location)
	e.SnapshotURL = clonePtr(e.SnapshotURL)
	e.ClipURL = clonePtr(e.ClipURL)
	e.SentAt = clonePtr(e.SentAt)
	if e.Metadata != nil {
		e.Metadata = append(json.RawMessage(nil), e.Metadata...)
	}
	return e
}

func cloneSession(s domain.Session) domain.Session {
	s.EndedAt = clonePtr(s.EndedAt)
	s.DurationSec = clonePtr(s.DurationSec)
	return s
}

func cloneAlert(a domain.Alert) domain.Alert {
	a.EventID = clonePtr(a.EventID)
	a.SessionID = clonePtr(a.SessionID)
	a.ManagedBy = clonePtr(a.ManagedBy)
	a.ManagedAt = clonePtr(a.ManagedAt)
	a.ActionType = clonePtr(a.ActionType)
	a.Comments = clonePtr(a.Comments)
	return a
}

func page[T any](all []T, offset, limit int) []T {
	limit = limitOrDefault(limit)
	if offset < 0 {
		offset = 0
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
