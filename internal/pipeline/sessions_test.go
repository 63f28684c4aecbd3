package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/normalize"
)

func (f *fixture) rawSession(ext string) normalize.RawSession {
	return normalize.RawSession{
		ExternalID: ext,
		DriverID:   f.driver.ID.String(),
		VehicleID:  f.vehicle.ID.String(),
	}
}

func TestSessionUpsert_StartThenEndSameRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ext := uuid.NewString()

	start := f.rawSession(ext)
	start.StartedAt = "2025-03-10T06:00:00Z"
	start.Status = "Activa"
	created, err := f.sessions.Upsert(ctx, start)
	require.NoError(t, err)
	assert.True(t, created.Active())
	assert.Nil(t, created.EndedAt)

	end := f.rawSession(ext)
	end.EndedAt = "2025-03-10T08:30:00Z"
	end.Status = "Finalizada"
	ended, err := f.sessions.Upsert(ctx, end)
	require.NoError(t, err)

	assert.Equal(t, created.ID, ended.ID)
	assert.Equal(t, domain.SessionFinished, ended.Status)
	require.NotNil(t, ended.EndedAt)
	require.NotNil(t, ended.DurationSec)
	assert.Equal(t, 9000.0, *ended.DurationSec, "computed from the stored start")

	all, err := f.sessions.List(ctx, domain.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.sessions.ActiveForVehicle(ctx, f.vehicle.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionUpsert_ReportedDurationWins(t *testing.T) {
	f := newFixture(t)
	raw := f.rawSession(uuid.NewString())
	raw.StartedAt = "2025-03-10T06:00:00Z"
	raw.EndedAt = "2025-03-10T07:00:00Z"
	raw.DurationSec = json.RawMessage(`"3500"`)

	s, err := f.sessions.Upsert(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, 3500.0, *s.DurationSec)
}

func TestSessionUpsert_StatusDefaultsToActive(t *testing.T) {
	f := newFixture(t)
	raw := f.rawSession(uuid.NewString())
	raw.StartedAt = "2025-03-10T06:00:00"

	s, err := f.sessions.Upsert(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, s.Status)
}

func TestSessionUpsert_HardReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := f.rawSession(uuid.NewString())
	raw.StartedAt = "2025-03-10T06:00:00Z"
	raw.DriverID = uuid.NewString()
	_, err := f.sessions.Upsert(ctx, raw)
	assert.ErrorIs(t, err, domain.ErrRejected)

	raw = f.rawSession(uuid.NewString())
	raw.StartedAt = "2025-03-10T06:00:00Z"
	raw.VehicleID = "bus-7"
	_, err = f.sessions.Upsert(ctx, raw)
	assert.ErrorIs(t, err, domain.ErrRejected)

	all, err := f.sessions.List(ctx, domain.SessionFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSessionUpsert_InvalidPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sessions.Upsert(ctx, f.rawSession(""))
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	_, err = f.sessions.Upsert(ctx, f.rawSession("S1"))
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	noStart := f.rawSession(uuid.NewString())
	_, err = f.sessions.Upsert(ctx, noStart)
	assert.ErrorIs(t, err, domain.ErrInvalidSession, "start time required on create")

	badStart := f.rawSession(uuid.NewString())
	badStart.StartedAt = "mañana"
	_, err = f.sessions.Upsert(ctx, badStart)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestSessionGet(t *testing.T) {
	f := newFixture(t)
	ext := uuid.NewString()
	raw := f.rawSession(ext)
	raw.StartedAt = "2025-03-10T06:00:00Z"
	_, err := f.sessions.Upsert(context.Background(), raw)
	require.NoError(t, err)

	got, err := f.sessions.Get(context.Background(), ext)
	require.NoError(t, err)
	assert.Equal(t, ext, got.ExternalID.String())

	_, err = f.sessions.Get(context.Background(), "junk")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
