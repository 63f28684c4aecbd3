// Package cooldown suppresses repeat alerts of the same type for the same
// vehicle inside a configurable window.
//
// Suppression is decided only by the newest stored alert's timestamp. A
// short-lived key guards the check-then-create step so that two entries racing
// for the same (vehicle, type) pair cannot both raise; the caller releases it
// once the alert is persisted or abandoned. Without a claimer the check is
// read-then-write and the race remains.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
)

type History interface {
	// LatestAlert returns domain.ErrNotFound when the vehicle never raised that type.
	LatestAlert(ctx context.Context, vehicleID uuid.UUID, alertType domain.AlertType) (*domain.Alert, error)
}

type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Policy maps alert types to their cooldown window. Types not listed are never suppressed.
type Policy map[domain.AlertType]time.Duration

func DefaultPolicy() Policy {
	return Policy{domain.AlertUnidentifiedDriver: 5 * time.Minute}
}

func PolicyFromConfig(windows map[string]time.Duration) Policy {
	p := make(Policy, len(windows))
	for name, d := range windows {
		p[domain.AlertType(name)] = d
	}
	return p
}

// ClaimTTL bounds how long a claim outlives a caller that never releases it.
const ClaimTTL = 30 * time.Second

type Deduplicator struct {
	history History
	claimer Claimer
	policy  Policy
	now     func() time.Time
	log     *zap.Logger
}

// New builds a deduplicator. claimer may be nil.
func New(history History, claimer Claimer, policy Policy, log *zap.Logger) *Deduplicator {
	return &Deduplicator{
		history: history,
		claimer: claimer,
		policy:  policy,
		now:     time.Now,
		log:     log,
	}
}

// WithClock replaces the wall clock, for tests and replays.
func (d *Deduplicator) WithClock(now func() time.Time) *Deduplicator {
	d.now = now
	return d
}

func (d *Deduplicator) Window(alertType domain.AlertType) (time.Duration, bool) {
	w, ok := d.policy[alertType]
	return w, ok && w > 0
}

// WithinWindow reports whether the newest alert of alertType for the vehicle
// was raised no earlier than now-window.
func (d *Deduplicator) WithinWindow(ctx context.Context, vehicleID uuid.UUID, alertType domain.AlertType, window time.Duration) (bool, error) {
	last, err := d.history.LatestAlert(ctx, vehicleID, alertType)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cooldown history lookup: %w", err)
	}
	threshold := d.now().Add(-window)
	return !last.RaisedAt.Before(threshold), nil
}

// ShouldSuppress applies the configured window for alertType. When it returns
// false for a windowed type, the caller holds the claim and must call Release
// once the alert is persisted or abandoned.
func (d *Deduplicator) ShouldSuppress(ctx context.Context, vehicleID uuid.UUID, alertType domain.AlertType) (bool, error) {
	window, ok := d.Window(alertType)
	if !ok {
		return false, nil
	}

	held := false
	if d.claimer != nil {
		claimed, err := d.claimer.Claim(ctx, Key(vehicleID, alertType), min(window, ClaimTTL))
		switch {
		case err != nil:
			// Degrade to history-only rather than dropping the alert.
			d.log.Warn("cooldown claim failed, continuing without serialization",
				zap.String("vehicle_id", vehicleID.String()),
				zap.String("alert_type", string(alertType)),
				zap.Error(err),
			)
		case !claimed:
			// Another entry is creating this alert right now.
			return true, nil
		default:
			held = true
		}
	}

	recent, err := d.WithinWindow(ctx, vehicleID, alertType, window)
	if err != nil || recent {
		if held {
			d.Release(ctx, vehicleID, alertType)
		}
		return recent, err
	}
	return false, nil
}

// Release drops a claim taken by ShouldSuppress.
func (d *Deduplicator) Release(ctx context.Context, vehicleID uuid.UUID, alertType domain.AlertType) {
	if d.claimer == nil {
		return
	}
	if _, ok := d.Window(alertType); !ok {
		return
	}
	if err := d.claimer.Release(ctx, Key(vehicleID, alertType)); err != nil {
		d.log.Warn("cooldown release failed",
			zap.String("vehicle_id", vehicleID.String()),
			zap.String("alert_type", string(alertType)),
			zap.Error(err),
		)
	}
}

func Key(vehicleID uuid.UUID, alertType domain.AlertType) string {
	return fmt.Sprintf("cooldown:%s:%s", vehicleID, alertType)
}

// LocalClaimer serializes claims within one process. It backs the memory store
// and single-instance deployments without Redis.
type LocalClaimer struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewLocalClaimer(now func() time.Time) *LocalClaimer {
	if now == nil {
		now = time.Now
	}
	return &LocalClaimer{expires: make(map[string]time.Time), now: now}
}

func (c *LocalClaimer) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.expires[key] = now.Add(ttl)
	return true, nil
}

func (c *LocalClaimer) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expires, key)
	return nil
}
