package masterdata

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"fleet-monitor/dms/internal/domain"
)

// MemoryDirectory serves master data from process memory when no master-data
// database is configured.
type MemoryDirectory struct {
	mu       sync.RWMutex
	vehicles map[uuid.UUID]domain.Vehicle
	drivers  map[uuid.UUID]domain.Driver
	users    map[uuid.UUID]domain.User
	devices  map[string]domain.Device
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		vehicles: map[uuid.UUID]domain.Vehicle{},
		drivers:  map[uuid.UUID]domain.Driver{},
		users:    map[uuid.UUID]domain.User{},
		devices:  map[string]domain.Device{},
	}
}

func (m *MemoryDirectory) AddVehicle(v domain.Vehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = v
}

func (m *MemoryDirectory) AddDriver(d domain.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
}

func (m *MemoryDirectory) AddUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryDirectory) AddDevice(d domain.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.HardwareID] = d
}

// RemoveVehicle simulates a vehicle deleted by the master-data service.
func (m *MemoryDirectory) RemoveVehicle(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vehicles, id)
}

func (m *MemoryDirectory) Vehicle(_ context.Context, id uuid.UUID) (*domain.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &v, nil
}

func (m *MemoryDirectory) Driver(_ context.Context, id uuid.UUID) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (m *MemoryDirectory) User(_ context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (m *MemoryDirectory) Device(_ context.Context, hardwareID string) (*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[hardwareID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}
