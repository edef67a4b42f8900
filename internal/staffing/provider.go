package staffing

import (
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
)

// Role is a clinical staff role relevant to urgent-care service times.
type Role string

const (
	RolePhysician Role = "physician"
	RoleNurse     Role = "nurse"
	RoleAuxiliary Role = "auxiliary"
)

// Shift identifies the roster shift covering a simulated time.
type Shift string

const (
	ShiftMorning   Shift = "morning"   // 08:00-15:00
	ShiftAfternoon Shift = "afternoon" // 15:00-22:00
	ShiftNight     Shift = "night"     // 22:00-08:00
)

// ShiftAt returns the shift covering the given time
func ShiftAt(t time.Time) Shift {
	h := t.Hour()
	switch {
	case h >= 8 && h < 15:
		return ShiftMorning
	case h >= 15 && h < 22:
		return ShiftAfternoon
	default:
		return ShiftNight
	}
}

// Counts holds the on-duty headcount per role
type Counts struct {
	Physicians  int `json:"physicians"`
	Nurses      int `json:"nurses"`
	Auxiliaries int `json:"auxiliaries"`
}

// Total returns the combined headcount
func (c Counts) Total() int {
	return c.Physicians + c.Nurses + c.Auxiliaries
}

// Provider supplies current on-duty counts. The simulator only ever reads
// aggregated counts, never the employee directory.
type Provider interface {
	// OnDuty returns the on-duty counts for a hospital at a simulated time
	OnDuty(h types.HospitalID, at time.Time) Counts
}
