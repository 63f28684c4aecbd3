// Package rules decides whether a stored event warrants an operational alert.
// Evaluation is pure: no storage access, no clock.
package rules

import (
	"fmt"
	"strconv"

	"fleet-monitor/dms/internal/domain"
)

// Thresholds are inclusive: a value equal to the threshold fires.
type Thresholds struct {
	DistractionSeconds float64
	FatigueScore       float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DistractionSeconds: 3.0,
		FatigueScore:       0.8,
	}
}

type Candidate struct {
	Type        domain.AlertType
	Criticality domain.Criticality
	Description string
}

type rule struct {
	alert       domain.AlertType
	criticality domain.Criticality
	match       func(ev *domain.Event, th Thresholds) bool
	describe    func(ev *domain.Event, v *domain.Vehicle, d *domain.Driver) string
}

// Rules partition on event type, so at most one can fire per event.
var defaultRules = map[domain.EventType]rule{
	domain.EventDistraction: {
		alert:       domain.AlertProlongedDistraction,
		criticality: domain.CriticalityCritical,
		match: func(ev *domain.Event, th Thresholds) bool {
			return ev.DurationSec != nil && *ev.DurationSec >= th.DistractionSeconds
		},
		describe: func(ev *domain.Event, _ *domain.Vehicle, d *domain.Driver) string {
			return fmt.Sprintf("%s se distrajo por %s segundos.", driverLabel(d), num(*ev.DurationSec))
		},
	},
	domain.EventFatigue: {
		alert:       domain.AlertSevereFatigue,
		criticality: domain.CriticalityCritical,
		match: func(ev *domain.Event, th Thresholds) bool {
			return ev.Confidence != nil && *ev.Confidence >= th.FatigueScore
		},
		describe: func(ev *domain.Event, _ *domain.Vehicle, _ *domain.Driver) string {
			return fmt.Sprintf("Alta probabilidad de fatiga (score: %s).", num(*ev.Confidence))
		},
	},
	domain.EventDrivingRegulation: {
		alert:       domain.AlertExcessDrivingHours,
		criticality: domain.CriticalityCritical,
		match: func(ev *domain.Event, _ Thresholds) bool {
			return ev.SubtypeIs(domain.SubtypeExcessDrivingHours)
		},
		describe: func(_ *domain.Event, _ *domain.Vehicle, d *domain.Driver) string {
			return fmt.Sprintf("%s ha excedido el límite de horas de conducción.", driverLabel(d))
		},
	},
	domain.EventIdentification: {
		alert:       domain.AlertUnidentifiedDriver,
		criticality: domain.CriticalityHigh,
		match: func(ev *domain.Event, _ Thresholds) bool {
			return ev.SubtypeIs(domain.SubtypeUnidentifiedDriver)
		},
		describe: func(ev *domain.Event, v *domain.Vehicle, _ *domain.Driver) string {
			return fmt.Sprintf("Alerta: Conductor no identificado en el bus '%s'.", vehicleLabel(ev, v))
		},
	},
}

type Engine struct {
	th    Thresholds
	rules map[domain.EventType]rule
}

func NewEngine(th Thresholds) *Engine {
	return &Engine{th: th, rules: defaultRules}
}

func (e *Engine) Thresholds() Thresholds {
	return e.th
}

// Evaluate returns the alert an event should raise, or nil. vehicle and driver
// are optional and only used for description text.
func (e *Engine) Evaluate(ev *domain.Event, vehicle *domain.Vehicle, driver *domain.Driver) *Candidate {
	r, ok := e.rules[ev.Type]
	if !ok || !r.match(ev, e.th) {
		return nil
	}
	return &Candidate{
		Type:        r.alert,
		Criticality: r.criticality,
		Description: r.describe(ev, vehicle, driver),
	}
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func driverLabel(d *domain.Driver) string {
	if d == nil || d.FullName == "" {
		return "El conductor"
	}
	return "El conductor " + d.FullName
}

func vehicleLabel(ev *domain.Event, v *domain.Vehicle) string {
	if v != nil && v.Plate != "" {
		return v.Plate
	}
	return ev.VehicleID.String()
}
