package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/dms/internal/domain"
)

type fakeVehicles struct {
	known map[uuid.UUID]*domain.Vehicle
	err   error
	calls int
}

func (f *fakeVehicles) Vehicle(_ context.Context, id uuid.UUID) (*domain.Vehicle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.known[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func newVehicleResolver(f *fakeVehicles) *Resolver {
	return New(f, nil, nil, nil)
}

func TestResolver_VehicleFound(t *testing.T) {
	id := uuid.New()
	f := &fakeVehicles{known: map[uuid.UUID]*domain.Vehicle{id: {ID: id, Plate: "ABC123"}}}

	res := newVehicleResolver(f).Vehicle(context.Background(), id.String())

	require.True(t, res.Found)
	assert.Equal(t, "ABC123", res.Value.Plate)
	assert.Equal(t, ReasonNone, res.Reason)
}

func TestResolver_MalformedIsTreatedAsMiss(t *testing.T) {
	f := &fakeVehicles{}

	res := newVehicleResolver(f).Vehicle(context.Background(), "B1")

	assert.False(t, res.Found)
	assert.Equal(t, ReasonMalformed, res.Reason)
	assert.Zero(t, f.calls, "malformed ids never reach the lookup")
}

func TestResolver_EmptyAndNilUUID(t *testing.T) {
	f := &fakeVehicles{}
	r := newVehicleResolver(f)

	for _, raw := range []string{"", "   ", uuid.Nil.String()} {
		res := r.Vehicle(context.Background(), raw)
		assert.False(t, res.Found, raw)
		assert.Equal(t, ReasonEmpty, res.Reason, raw)
	}
	assert.Zero(t, f.calls)
}

func TestResolver_NotFound(t *testing.T) {
	res := newVehicleResolver(&fakeVehicles{}).Vehicle(context.Background(), uuid.NewString())

	assert.False(t, res.Found)
	assert.Equal(t, ReasonNotFound, res.Reason)
	assert.False(t, res.Transient())
}

func TestResolver_LookupFailureIsTransient(t *testing.T) {
	boom := errors.New("connection refused")

	res := newVehicleResolver(&fakeVehicles{err: boom}).Vehicle(context.Background(), uuid.NewString())

	assert.False(t, res.Found)
	assert.Equal(t, ReasonLookupFailed, res.Reason)
	assert.ErrorIs(t, res.Err, boom)
	assert.True(t, res.Transient())
}
