package masterdata

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"fleet-monitor/dms/internal/domain"
)

// Seed is the JSON layout of a master-data fixture file for the memory
// directory. Keys follow the master-data tables.
type Seed struct {
	Buses []struct {
		ID             uuid.UUID `json:"id"`
		CompanyID      uuid.UUID `json:"id_empresa"`
		Plate          string    `json:"placa"`
		InternalNumber string    `json:"numero_interno"`
	} `json:"buses"`
	Drivers []struct {
		ID         uuid.UUID `json:"id"`
		CompanyID  uuid.UUID `json:"id_empresa"`
		FullName   string    `json:"nombre_completo"`
		NationalID string    `json:"cedula"`
	} `json:"conductores"`
	Users []struct {
		ID       uuid.UUID `json:"id"`
		Username string    `json:"username"`
		Role     string    `json:"rol"`
	} `json:"usuarios"`
	Devices []struct {
		HardwareID string     `json:"id_hardware_jetson"`
		VehicleID  *uuid.UUID `json:"id_bus"`
	} `json:"jetson_nanos"`
}

// LoadSeedFile reads a fixture file into a new memory directory.
func LoadSeedFile(path string) (*MemoryDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master data seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse master data seed %s: %w", path, err)
	}
	return FromSeed(seed), nil
}

func FromSeed(seed Seed) *MemoryDirectory {
	dir := NewMemoryDirectory()
	for _, b := range seed.Buses {
		dir.AddVehicle(domain.Vehicle{ID: b.ID, CompanyID: b.CompanyID, Plate: b.Plate, InternalNumber: b.InternalNumber})
	}
	for _, d := range seed.Drivers {
		dir.AddDriver(domain.Driver{ID: d.ID, CompanyID: d.CompanyID, FullName: d.FullName, NationalID: d.NationalID})
	}
	for _, u := range seed.Users {
		dir.AddUser(domain.User{ID: u.ID, Username: u.Username, Role: u.Role})
	}
	for _, d := range seed.Devices {
		dir.AddDevice(domain.Device{HardwareID: d.HardwareID, VehicleID: d.VehicleID})
	}
	return dir
}
