// Package resolve maps raw identifiers posted by devices and operators onto
// existing entities. It never decides what a miss means: each call site
// chooses whether a miss rejects the record (hard reference) or nulls the link
// (soft reference).
package resolve

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"fleet-monitor/dms/internal/domain"
)

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonEmpty        Reason = "empty"
	ReasonMalformed    Reason = "malformed"
	ReasonNotFound     Reason = "not_found"
	ReasonLookupFailed Reason = "lookup_failed"
)

// Result is either Found with Value set, or a miss with a Reason.
// Err is only set for ReasonLookupFailed.
type Result[T any] struct {
	Value  T
	Found  bool
	Reason Reason
	Err    error
}

// Transient reports whether retrying the same input could succeed.
func (r Result[T]) Transient() bool {
	return r.Reason == ReasonLookupFailed
}

type VehicleLookup interface {
	Vehicle(ctx context.Context, id uuid.UUID) (*domain.Vehicle, error)
}

type DriverLookup interface {
	Driver(ctx context.Context, id uuid.UUID) (*domain.Driver, error)
}

type UserLookup interface {
	User(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type SessionLookup interface {
	SessionByExternalID(ctx context.Context, externalID uuid.UUID) (*domain.Session, error)
}

type Resolver struct {
	vehicles VehicleLookup
	drivers  DriverLookup
	users    UserLookup
	sessions SessionLookup
}

func New(vehicles VehicleLookup, drivers DriverLookup, users UserLookup, sessions SessionLookup) *Resolver {
	return &Resolver{
		vehicles: vehicles,
		drivers:  drivers,
		users:    users,
		sessions: sessions,
	}
}

// ParseID validates a raw identifier. The all-zero UUID is used by devices as
// "no value" and is reported as empty.
func ParseID(raw string) (uuid.UUID, Reason) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, ReasonEmpty
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ReasonMalformed
	}
	if id == uuid.Nil {
		return uuid.Nil, ReasonEmpty
	}
	return id, ReasonNone
}

func (r *Resolver) Vehicle(ctx context.Context, raw string) Result[*domain.Vehicle] {
	return lookup(ctx, raw, r.vehicles.Vehicle)
}

func (r *Resolver) Driver(ctx context.Context, raw string) Result[*domain.Driver] {
	return lookup(ctx, raw, r.drivers.Driver)
}

func (r *Resolver) User(ctx context.Context, raw string) Result[*domain.User] {
	return lookup(ctx, raw, r.users.User)
}

func (r *Resolver) Session(ctx context.Context, raw string) Result[*domain.Session] {
	return lookup(ctx, raw, r.sessions.SessionByExternalID)
}

func lookup[T any](ctx context.Context, raw string, fetch func(context.Context, uuid.UUID) (*T, error)) Result[*T] {
	id, reason := ParseID(raw)
	if reason != ReasonNone {
		return Result[*T]{Reason: reason}
	}

	v, err := fetch(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Result[*T]{Reason: ReasonNotFound}
	case err != nil:
		return Result[*T]{Reason: ReasonLookupFailed, Err: err}
	case v == nil:
		return Result[*T]{Reason: ReasonNotFound}
	}
	return Result[*T]{Value: v, Found: true}
}
