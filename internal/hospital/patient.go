package hospital

import (
	"fmt"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/triage"
)

// PatientState is a state in the patient lifecycle state machine.
type PatientState string

const (
	StateArrived          PatientState = "ARRIVED"
	StateWaitingTriage    PatientState = "WAITING_TRIAGE"
	StateTriaged          PatientState = "TRIAGED"
	StateWaitingAttention PatientState = "WAITING_ATTENTION"
	StateInAttention      PatientState = "IN_ATTENTION"
	StateObservation      PatientState = "OBSERVATION"
	StateDischarged       PatientState = "DISCHARGED"
	StateDerived          PatientState = "DERIVED"
)

// validTransitions encodes the state machine. Transitions are driven only by
// scheduled events inside the owning simulator, except the coordinator's
// DERIVED move out of WAITING_ATTENTION.
var validTransitions = map[PatientState][]PatientState{
	StateArrived:          {StateWaitingTriage},
	StateWaitingTriage:    {StateTriaged},
	StateTriaged:          {StateWaitingAttention},
	StateWaitingAttention: {StateInAttention, StateDerived},
	StateInAttention:      {StateDischarged, StateObservation},
	StateObservation:      {StateDischarged},
	StateDerived:          {StateWaitingAttention},
}

// Patient is owned by exactly one Simulator at any time; ownership moves on
// derivation. The triage level is assigned once and never changes, even
// across a derivation.
type Patient struct {
	ID        types.ID          `json:"id"`
	Origin    types.HospitalID  `json:"origin"`
	Hospital  types.HospitalID  `json:"hospital"`
	Level     triage.Level      `json:"triage_level,omitempty"`
	State     PatientState      `json:"state"`
	DerivedTo *types.HospitalID `json:"derived_to,omitempty"`

	ArrivedAt      time.Time     `json:"arrived_at"`
	AttentionStart time.Time     `json:"attention_start,omitempty"`
	ServiceBudget  time.Duration `json:"service_budget,omitempty"`

	// seq orders patients within a triage level for strict FIFO, set by the
	// admitting simulator
	seq uint64
}

// transition moves the patient to a new state, enforcing the state machine
func (p *Patient) transition(to PatientState) error {
	for _, allowed := range validTransitions[p.State] {
		if allowed == to {
			p.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid patient transition %s -> %s (patient %s)", p.State, to, p.ID)
}

// Active reports whether the patient still occupies this hospital's books
func (p *Patient) Active() bool {
	return p.State != StateDischarged && p.State != StateDerived
}
