package coordinator

import (
	"context"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/triage"
)

// Telemetry event types published by the coordinator
const (
	EventCycle             = "coordinator.cycle"
	EventAlertRaised       = "coordinator.alert_raised"
	EventAlertCleared      = "coordinator.alert_cleared"
	EventDerivation        = "coordinator.derivation"
	EventEmergencyPending  = "emergency.pending"
	EventEmergencyActive   = "emergency.active"
	EventEmergencyResolved = "emergency.resolved"
)

// DerivationDecision records one coordinator decision to move a waiting,
// non-critical patient from a saturated hospital to a less loaded one.
type DerivationDecision struct {
	ID       types.ID         `json:"id"`
	Patient  types.ID         `json:"patient_id"`
	From     types.HospitalID `json:"hospital_from"`
	To       types.HospitalID `json:"hospital_to"`
	Level    triage.Level     `json:"triage_level"`
	Reason   string           `json:"reason"`
	At       time.Time        `json:"timestamp"`
	Executed bool             `json:"executed"`
}

// EmergencyType classifies the external shock
type EmergencyType string

const (
	EmergencyTrafficAccident EmergencyType = "traffic_accident"
	EmergencyViralOutbreak   EmergencyType = "viral_outbreak"
	EmergencyMassEvent       EmergencyType = "mass_event"
)

// Valid reports whether the type is known
func (t EmergencyType) Valid() bool {
	switch t {
	case EmergencyTrafficAccident, EmergencyViralOutbreak, EmergencyMassEvent:
		return true
	}
	return false
}

// EmergencyState is the lifecycle state of an emergency
type EmergencyState string

const (
	EmergencyPending  EmergencyState = "pending"
	EmergencyActive   EmergencyState = "active"
	EmergencyResolved EmergencyState = "resolved"
)

// Emergency is a time-bounded external shock. While active it raises the
// affected hospitals' arrival rate and may skew their triage distribution.
// Once resolved it stops influencing demand and is archived; resolved
// emergencies are never reused.
type Emergency struct {
	ID             types.ID             `json:"id"`
	Type           EmergencyType        `json:"type"`
	State          EmergencyState       `json:"state"`
	Hospitals      []types.HospitalID   `json:"affected_hospitals"`
	ExtraPatients  int                  `json:"extra_patients"`
	TriageOverride *triage.Distribution `json:"triage_override,omitempty"`
	StartsAt       time.Time            `json:"starts_at"`
	EndsAt         time.Time            `json:"ends_at"`
	ResolvedAt     *time.Time           `json:"resolved_at,omitempty"`
}

// Duration returns the emergency window length
func (e *Emergency) Duration() time.Duration {
	return e.EndsAt.Sub(e.StartsAt)
}

// emergencyProfile holds per-type defaults: how many extra patients the
// shock brings and how it skews the case mix.
type emergencyProfile struct {
	minExtra, maxExtra int
	duration           time.Duration
	override           triage.Distribution
}

var emergencyProfiles = map[EmergencyType]emergencyProfile{
	EmergencyTrafficAccident: {
		minExtra: 4, maxExtra: 15,
		duration: 2 * time.Hour,
		override: triage.Distribution{0.10, 0.35, 0.35, 0.15, 0.05},
	},
	EmergencyViralOutbreak: {
		minExtra: 15, maxExtra: 60,
		duration: 24 * time.Hour,
		override: triage.Distribution{0.005, 0.06, 0.25, 0.55, 0.135},
	},
	EmergencyMassEvent: {
		minExtra: 10, maxExtra: 40,
		duration: 4 * time.Hour,
		override: triage.Distribution{0.01, 0.12, 0.27, 0.48, 0.12},
	},
}

// AlertLevel is the severity of a saturation alert
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is a system-level saturation alert for one hospital
type Alert struct {
	Hospital   types.HospitalID `json:"hospital_id"`
	Level      AlertLevel       `json:"level"`
	Message    string           `json:"message"`
	Saturation float64          `json:"saturation"`
	Stale      bool             `json:"stale,omitempty"`
	At         time.Time        `json:"timestamp"`
}

// Commander executes derivation transfers on the coordinator's behalf. The
// coordinator never touches another hospital's queues directly; the engine
// routes the command through both hospitals' own event loops and rolls back
// if the target does not acknowledge within one cycle.
type Commander interface {
	Derive(ctx context.Context, from, to types.HospitalID, patient types.ID) error
}

// Archive persists resolved emergencies and executed decisions for audit.
// A nil archive is valid; history is then kept in memory only.
type Archive interface {
	SaveEmergency(ctx context.Context, e *Emergency) error
	SaveDecision(ctx context.Context, d DerivationDecision) error
}
