package masterdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/dms/internal/domain"
)

func TestLoadSeedFile(t *testing.T) {
	bus := uuid.New()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"buses": [{"id": "`+bus.String()+`", "placa": "ABC-123", "numero_interno": "B-07"}],
		"jetson_nanos": [{"id_hardware_jetson": "JETSON-001", "id_bus": "`+bus.String()+`"}]
	}`), 0o600))

	dir, err := LoadSeedFile(path)
	require.NoError(t, err)

	v, err := dir.Vehicle(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", v.Plate)

	d, err := dir.Device(context.Background(), "JETSON-001")
	require.NoError(t, err)
	assert.Equal(t, bus, *d.VehicleID)

	_, err = dir.Driver(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"buses": [{"id": "bus-7"}]}`), 0o600))

	_, err := LoadSeedFile(path)
	assert.Error(t, err)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
