package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/dms/internal/domain"
)

func str(s string) *string { return &s }

func (f *fixture) seedAlert(t *testing.T) *domain.Alert {
	t.Helper()
	a, err := f.store.CreateAlert(context.Background(), &domain.Alert{
		DriverID:    domain.UnknownDriverID,
		VehicleID:   f.vehicle.ID,
		RaisedAt:    t0,
		Type:        domain.AlertSevereFatigue,
		Criticality: domain.CriticalityCritical,
		Status:      domain.AlertStatusActive,
	})
	require.NoError(t, err)
	return a
}

func TestUpdateStatus_UnknownAlert(t *testing.T) {
	f := newFixture(t)

	_, err := f.alerts.UpdateStatus(context.Background(), uuid.New(), AlertChanges{Status: str("Revisada")}, "")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateStatus_ReviewedByValidUser(t *testing.T) {
	f := newFixture(t)
	a := f.seedAlert(t)
	f.clock.set(t0.Add(10 * time.Minute))

	got, err := f.alerts.UpdateStatus(context.Background(), a.ID, AlertChanges{
		Status:     str(domain.AlertStatusReviewed),
		ActionType: str("Llamada al conductor"),
		Comments:   str("Conductor confirmó descanso"),
	}, f.user.ID.String())

	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusReviewed, got.Status)
	require.NotNil(t, got.ManagedBy)
	assert.Equal(t, f.user.ID, *got.ManagedBy)
	require.NotNil(t, got.ManagedAt)
	assert.Equal(t, t0.Add(10*time.Minute), *got.ManagedAt)
	assert.Equal(t, "Llamada al conductor", *got.ActionType)
	assert.Equal(t, "Conductor confirmó descanso", *got.Comments)
}

func TestUpdateStatus_InvalidUserOmitted(t *testing.T) {
	f := newFixture(t)
	a := f.seedAlert(t)

	for _, ref := range []string{uuid.NewString(), "not-a-uuid"} {
		got, err := f.alerts.UpdateStatus(context.Background(), a.ID, AlertChanges{Comments: str("revisado")}, ref)

		require.NoError(t, err)
		assert.Nil(t, got.ManagedBy)
		assert.NotNil(t, got.ManagedAt, "management fields still timestamp the change")
	}
	assert.Len(t, f.logs.FilterMessage("managing user not resolved, omitted from alert").All(), 2)
}

func TestUpdateStatus_NoChangesLeavesManagementEmpty(t *testing.T) {
	f := newFixture(t)
	a := f.seedAlert(t)

	got, err := f.alerts.UpdateStatus(context.Background(), a.ID, AlertChanges{}, "")

	require.NoError(t, err)
	assert.Nil(t, got.ManagedAt)
	assert.Equal(t, domain.AlertStatusActive, got.Status)
}

func TestUpdateStatus_UserAloneRecordsTimestamp(t *testing.T) {
	f := newFixture(t)
	a := f.seedAlert(t)

	got, err := f.alerts.UpdateStatus(context.Background(), a.ID, AlertChanges{}, f.user.ID.String())

	require.NoError(t, err)
	assert.NotNil(t, got.ManagedBy)
	assert.NotNil(t, got.ManagedAt)
}

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	a := f.seedAlert(t)

	_, err := f.alerts.UpdateStatus(context.Background(), a.ID, AlertChanges{Status: str("Cerrada")}, "")

	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestUpdateStatus_TerminalStates(t *testing.T) {
	f := newFixture(t)
	a := f.seedAlert(t)
	ctx := context.Background()

	_, err := f.alerts.UpdateStatus(ctx, a.ID, AlertChanges{Status: str(domain.AlertStatusDismissed)}, "")
	require.NoError(t, err)

	_, err = f.alerts.UpdateStatus(ctx, a.ID, AlertChanges{Status: str(domain.AlertStatusActive)}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.alerts.UpdateStatus(ctx, a.ID, AlertChanges{Status: str(domain.AlertStatusReviewed)}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := f.alerts.UpdateStatus(ctx, a.ID, AlertChanges{
		Status:   str(domain.AlertStatusDismissed),
		Comments: str("falso positivo"),
	}, "")
	require.NoError(t, err, "comments may be amended on a terminal alert")
	assert.Equal(t, "falso positivo", *got.Comments)
}

func TestAlertService_Queries(t *testing.T) {
	f := newFixture(t)
	a := f.seedAlert(t)
	f.seedAlert(t)
	ctx := context.Background()

	got, err := f.alerts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.alerts.UpdateStatus(ctx, a.ID, AlertChanges{Status: str(domain.AlertStatusReviewed)}, "")
	require.NoError(t, err)

	active, err := f.alerts.Active(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	reviewed, err := f.alerts.List(ctx, domain.AlertFilter{Status: domain.AlertStatusReviewed})
	require.NoError(t, err)
	assert.Len(t, reviewed, 1)
}
