package hospital

import (
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/triage"
)

// Telemetry event types published by the hospital simulators
const (
	EventArrival            = "hospital.arrival"
	EventTriaged            = "hospital.triaged"
	EventAttentionStart     = "hospital.attention_start"
	EventAttentionEnd       = "hospital.attention_end"
	EventObservation        = "hospital.observation"
	EventDischarge          = "hospital.discharge"
	EventDerivationOut      = "hospital.derivation_out"
	EventDerivationIn       = "hospital.derivation_in"
	EventDerivationRollback = "hospital.derivation_rollback"
	EventSnapshot           = "hospital.snapshot"
	EventHalted             = "hospital.halted"
)

// WaitingPatient is the slice of patient state the coordinator needs to pick
// derivation candidates.
type WaitingPatient struct {
	ID        types.ID     `json:"id"`
	Level     triage.Level `json:"triage_level"`
	ArrivedAt time.Time    `json:"arrived_at"`
}

// Occupancy is an occupied/total pair
type Occupancy struct {
	Occupied int `json:"occupied"`
	Total    int `json:"total"`
}

// Snapshot is an immutable view of one hospital's state at a simulated
// instant. It is recomputed from live counters on every request and
// published as telemetry; nothing outside the simulator retains it as a
// source of truth.
type Snapshot struct {
	Hospital types.HospitalID `json:"hospital_id"`
	At       time.Time        `json:"at"`

	TriageWait    int `json:"triage_wait"`
	AttentionWait int `json:"attention_wait"`

	Boxes       Occupancy `json:"boxes"`
	Observation Occupancy `json:"observation"`

	// Saturation is occupied boxes over total boxes
	Saturation float64 `json:"saturation"`

	AvgWaitMinutes    float64 `json:"avg_wait_minutes"`
	AvgServiceMinutes float64 `json:"avg_service_minutes"`

	Arrivals       int64 `json:"arrivals"`
	Discharges     int64 `json:"discharges"`
	DerivationsIn  int64 `json:"derivations_in"`
	DerivationsOut int64 `json:"derivations_out"`

	// ActivePatients counts patients in non-terminal states; it always
	// equals Arrivals - Discharges - DerivationsOut + DerivationsIn
	ActivePatients int64 `json:"active_patients"`

	// Waiting lists WAITING_ATTENTION patients for derivation candidacy
	Waiting []WaitingPatient `json:"waiting,omitempty"`
}

// lifecycleEvent is the payload of patient lifecycle telemetry
type lifecycleEvent struct {
	Hospital types.HospitalID `json:"hospital_id"`
	Patient  types.ID         `json:"patient_id"`
	Level    triage.Level     `json:"triage_level,omitempty"`
	At       time.Time        `json:"timestamp"`
}
