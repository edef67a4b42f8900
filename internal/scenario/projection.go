package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/coruna-salud/gemelo/internal/coordinator"
	"github.com/coruna-salud/gemelo/internal/demand"
	"github.com/coruna-salud/gemelo/internal/hospital"
	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/staffing"
	"github.com/coruna-salud/gemelo/internal/triage"
)

// CapacityOverride adjusts one hospital's parameters for a projection.
// Zero fields keep the configured value.
type CapacityOverride struct {
	Boxes            int     `json:"boxes,omitempty"`
	ObservationBeds  int     `json:"observation_beds,omitempty"`
	BaseArrivalsHour float64 `json:"base_arrivals_hour,omitempty"`
}

// Spec describes a what-if projection. Projections run offline against a
// fresh world under the configured seed; they never touch the live twin.
type Spec struct {
	Horizon       time.Duration                           `json:"horizon"`
	WeatherFactor float64                                 `json:"weather_factor,omitempty"`
	HolidayFactor float64                                 `json:"holiday_factor,omitempty"`
	EventFactor   float64                                 `json:"event_factor,omitempty"`
	Overrides     map[types.HospitalID]CapacityOverride   `json:"overrides,omitempty"`
	Emergency     *coordinator.EmergencySpec              `json:"emergency,omitempty"`
}

// Result is the outcome of one projection
type Result struct {
	Horizon     time.Duration                            `json:"horizon"`
	SimStart    time.Time                                `json:"sim_start"`
	SimEnd      time.Time                                `json:"sim_end"`
	Snapshots   map[types.HospitalID]hospital.Snapshot   `json:"snapshots"`
	Derivations []coordinator.DerivationDecision         `json:"derivations"`
	Alerts      []coordinator.Alert                      `json:"alerts"`
	Emergencies []coordinator.Emergency                  `json:"emergencies"`
}

// Projector runs offline what-if projections against a copy of the live
// configuration
type Projector struct {
	cfg      *config.Config
	provider staffing.Provider
}

func NewProjector(cfg *config.Config, provider staffing.Provider) *Projector {
	return &Projector{cfg: cfg, provider: provider}
}

// localCommander executes derivations inside a projection world
type localCommander struct {
	hospitals map[types.HospitalID]*hospital.Simulator
}

func (c *localCommander) Derive(ctx context.Context, from, to types.HospitalID, patient types.ID) error {
	src, ok := c.hospitals[from]
	if !ok {
		return errors.DerivationRejected(fmt.Sprintf("unknown source hospital %q", from))
	}
	tgt, ok := c.hospitals[to]
	if !ok {
		return errors.DerivationRejected(fmt.Sprintf("unknown target hospital %q", to))
	}
	p, err := src.ReleaseForDerivation(patient, to)
	if err != nil {
		return err
	}
	if err := tgt.AdmitTransfer(p); err != nil {
		if rerr := src.Reinstate(p); rerr != nil {
			return errors.Wrap(rerr, "projection rollback failed")
		}
		return err
	}
	return nil
}

// Run executes the projection synchronously, stepping a private world in
// coordinator-cycle chunks over the horizon
func (p *Projector) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Horizon <= 0 {
		return nil, errors.Configf("projection horizon must be positive, got %v", spec.Horizon)
	}
	if spec.Horizon > 7*24*time.Hour {
		return nil, errors.Configf("projection horizon capped at 7 days, got %v", spec.Horizon)
	}

	baseRates := make(map[types.HospitalID]float64, len(p.cfg.Hospitals))
	hospCfgs := make(map[types.HospitalID]config.HospitalConfig, len(p.cfg.Hospitals))
	for h, hc := range p.cfg.Hospitals {
		if ov, ok := spec.Overrides[h]; ok {
			if ov.Boxes > 0 {
				hc.Boxes = ov.Boxes
			}
			if ov.ObservationBeds > 0 {
				hc.ObservationBeds = ov.ObservationBeds
			}
			if ov.BaseArrivalsHour > 0 {
				hc.BaseArrivalsHour = ov.BaseArrivalsHour
			}
		}
		hospCfgs[h] = hc
		baseRates[h] = hc.BaseArrivalsHour
	}

	dm := demand.NewModel(baseRates)
	weather, holiday, event := p.cfg.Simulation.WeatherFactor, p.cfg.Simulation.HolidayFactor, p.cfg.Simulation.EventFactor
	if spec.WeatherFactor > 0 {
		weather = spec.WeatherFactor
	}
	if spec.HolidayFactor > 0 {
		holiday = spec.HolidayFactor
	}
	if spec.EventFactor > 0 {
		event = spec.EventFactor
	}
	if err := dm.SetContext(weather, holiday, event); err != nil {
		return nil, err
	}

	classifier := triage.NewClassifier()
	hospitals := make(map[types.HospitalID]*hospital.Simulator, len(hospCfgs))
	for h, hc := range hospCfgs {
		s, err := hospital.NewSimulator(h, hc, p.cfg.Simulation, dm, classifier, p.provider, nil)
		if err != nil {
			return nil, err
		}
		hospitals[h] = s
	}

	cmd := &localCommander{hospitals: hospitals}
	coord := coordinator.New(p.cfg.Coordinator, p.cfg.Simulation.Seed, dm, classifier, cmd, nil, nil)

	start := p.cfg.Simulation.StartTime
	end := start.Add(spec.Horizon)

	if spec.Emergency != nil {
		e := *spec.Emergency
		if e.StartsAt.IsZero() {
			e.StartsAt = start
		}
		if _, err := coord.TriggerEmergency(e); err != nil {
			return nil, err
		}
	}

	for _, s := range hospitals {
		s.Bootstrap()
	}

	chunk := p.cfg.Coordinator.CycleEvery
	for t := start.Add(chunk); !t.After(end); t = t.Add(chunk) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for _, h := range types.AllHospitals() {
			s, ok := hospitals[h]
			if !ok || s.Halted() != nil {
				continue
			}
			if err := s.RunUntil(t); err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("projection halted at %s", h))
			}
		}
		snaps := make(map[types.HospitalID]hospital.Snapshot, len(hospitals))
		for h, s := range hospitals {
			snaps[h] = s.Snapshot()
		}
		coord.Cycle(ctx, t, snaps)
	}

	res := &Result{
		Horizon:     spec.Horizon,
		SimStart:    start,
		SimEnd:      end,
		Snapshots:   make(map[types.HospitalID]hospital.Snapshot, len(hospitals)),
		Derivations: coord.RecentDecisions(0),
		Alerts:      coord.Alerts(),
		Emergencies: coord.Emergencies(),
	}
	for h, s := range hospitals {
		res.Snapshots[h] = s.Snapshot()
	}
	return res, nil
}
