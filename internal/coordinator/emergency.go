package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/coruna-salud/gemelo/internal/demand"
	"github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/metrics"
	"github.com/coruna-salud/gemelo/internal/shared/types"
)

// EmergencySpec is an operator request to inject an emergency.
type EmergencySpec struct {
	Type          EmergencyType      `json:"type"`
	Hospitals     []types.HospitalID `json:"hospitals"`
	ExtraPatients int                `json:"extra_patients,omitempty"`
	StartsAt      time.Time          `json:"starts_at,omitempty"`
	Duration      time.Duration      `json:"duration,omitempty"`
}

// TriggerEmergency creates a pending emergency from a spec. Zero fields fall
// back to the per-type profile; a zero start time means "next cycle".
func (c *Coordinator) TriggerEmergency(spec EmergencySpec) (*Emergency, error) {
	if !spec.Type.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("unknown emergency type %q", spec.Type))
	}
	if len(spec.Hospitals) == 0 {
		return nil, errors.BadRequest("emergency must affect at least one hospital")
	}
	for _, h := range spec.Hospitals {
		if !h.Valid() {
			return nil, errors.BadRequest(fmt.Sprintf("unknown hospital %q", h))
		}
	}

	profile := emergencyProfiles[spec.Type]

	c.mu.Lock()
	defer c.mu.Unlock()

	extra := spec.ExtraPatients
	if extra <= 0 {
		extra = profile.minExtra + c.rng.Intn(profile.maxExtra-profile.minExtra+1)
	}
	duration := spec.Duration
	if duration <= 0 {
		duration = profile.duration
	}
	startsAt := spec.StartsAt
	if startsAt.IsZero() {
		startsAt = c.now
	}
	override := profile.override

	e := &Emergency{
		ID:             types.NewID(),
		Type:           spec.Type,
		State:          EmergencyPending,
		Hospitals:      append([]types.HospitalID(nil), spec.Hospitals...),
		ExtraPatients:  extra,
		TriageOverride: &override,
		StartsAt:       startsAt,
		EndsAt:         startsAt.Add(duration),
	}
	c.emergencies = append(c.emergencies, e)

	c.publish(EventEmergencyPending, e)
	log.Printf("coordinator: emergency %s (%s) pending for %v, %d extra patients",
		e.ID, e.Type, e.Hospitals, e.ExtraPatients)
	return e, nil
}

// advanceEmergencies moves emergencies through their lifecycle at the
// simulated time now. Activation injects the arrival boost and triage
// override; resolution removes both and archives the emergency.
func (c *Coordinator) advanceEmergencies(ctx context.Context, now time.Time) {
	active := 0
	for _, e := range c.emergencies {
		switch e.State {
		case EmergencyPending:
			if !now.Before(e.StartsAt) {
				c.activateEmergency(e)
			}
		case EmergencyActive:
			if !now.Before(e.EndsAt) {
				c.resolveEmergency(ctx, e, now)
			}
		}
		if e.State == EmergencyActive {
			active++
		}
	}
	c.demand.RemoveExpiredBoosts(now)
	metrics.RecordActiveEmergencies(active)
}

func (c *Coordinator) activateEmergency(e *Emergency) {
	e.State = EmergencyActive

	// Spread the extra arrivals evenly over the window and the affected
	// hospitals
	hours := e.Duration().Hours()
	if hours <= 0 {
		hours = 1
	}
	perHospital := float64(e.ExtraPatients) / hours / float64(len(e.Hospitals))

	for _, h := range e.Hospitals {
		c.demand.AddBoost(h, demand.Boost{
			ExtraPerHour: perHospital,
			From:         e.StartsAt,
			Until:        e.EndsAt,
		})
		if e.TriageOverride != nil {
			c.classifier.SetOverride(h, *e.TriageOverride)
		}
	}

	c.publish(EventEmergencyActive, e)
	log.Printf("coordinator: emergency %s active until %s", e.ID, e.EndsAt.Format(time.RFC3339))
}

func (c *Coordinator) resolveEmergency(ctx context.Context, e *Emergency, now time.Time) {
	e.State = EmergencyResolved
	resolvedAt := now
	e.ResolvedAt = &resolvedAt

	for _, h := range e.Hospitals {
		if c.overrideStillNeeded(h, e) {
			continue
		}
		c.classifier.ClearOverride(h)
	}

	if c.archive != nil {
		if err := c.archive.SaveEmergency(ctx, e); err != nil {
			log.Printf("coordinator: failed to archive emergency %s: %v", e.ID, err)
		}
	}

	c.publish(EventEmergencyResolved, e)
	log.Printf("coordinator: emergency %s resolved", e.ID)
}

// overrideStillNeeded reports whether another active emergency keeps a
// triage override on the hospital
func (c *Coordinator) overrideStillNeeded(h types.HospitalID, resolving *Emergency) bool {
	for _, other := range c.emergencies {
		if other == resolving || other.State != EmergencyActive || other.TriageOverride == nil {
			continue
		}
		for _, oh := range other.Hospitals {
			if oh == h {
				return true
			}
		}
	}
	return false
}

// maybeInjectRandomEmergency rolls for a random emergency once per cycle
// when enabled
func (c *Coordinator) maybeInjectRandomEmergency(now time.Time) {
	if !c.cfg.RandomEmergencies {
		return
	}
	pPerCycle := c.cfg.RandomEmergencyRate * c.cfg.CycleEvery.Hours() / 24.0
	if c.rng.Float64() >= pPerCycle {
		return
	}

	kinds := []EmergencyType{EmergencyTrafficAccident, EmergencyViralOutbreak, EmergencyMassEvent}
	hospitals := types.AllHospitals()
	spec := EmergencySpec{
		Type:      kinds[c.rng.Intn(len(kinds))],
		Hospitals: []types.HospitalID{hospitals[c.rng.Intn(len(hospitals))]},
		StartsAt:  now,
	}

	// TriggerEmergency takes the mutex; we already hold it in Cycle
	c.mu.Unlock()
	_, err := c.TriggerEmergency(spec)
	c.mu.Lock()
	if err != nil {
		log.Printf("coordinator: random emergency injection failed: %v", err)
	}
}

// Emergencies returns a copy of all known emergencies, newest last
func (c *Coordinator) Emergencies() []Emergency {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Emergency, 0, len(c.emergencies))
	for _, e := range c.emergencies {
		out = append(out, *e)
	}
	return out
}
