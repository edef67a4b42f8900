package sim

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coruna-salud/gemelo/internal/coordinator"
	"github.com/coruna-salud/gemelo/internal/demand"
	"github.com/coruna-salud/gemelo/internal/hospital"
	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/events"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/staffing"
	"github.com/coruna-salud/gemelo/internal/triage"
)

// Publisher is the telemetry sink shared by the engine's components
type Publisher interface {
	Publish(event events.Event)
}

// Engine owns the clock, the per-hospital simulators and the coordinator,
// and advances them together. All stepping happens on one goroutine under
// stepMu, so a coordinator cycle always observes hospitals at a single
// consistent simulated instant and derivations execute atomically between
// ticks.
type Engine struct {
	cfg       *config.Config
	provider  staffing.Provider
	publisher Publisher
	archive   coordinator.Archive

	// mu guards the component pointers below, which Reset replaces while
	// HTTP handlers read them through the accessors
	mu         sync.RWMutex
	clock      *Clock
	demand     *demand.Model
	classifier *triage.Classifier
	hospitals  map[types.HospitalID]*hospital.Simulator
	coord      *coordinator.Coordinator

	// stepMu serializes stepping with control operations (skip, reset)
	stepMu sync.Mutex

	nextSnapshot time.Time
	nextCycle    time.Time
	startedWall  time.Time

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewEngine builds the full simulation from configuration. The clock
// starts paused; call Start then Resume to begin advancing.
func NewEngine(cfg *config.Config, provider staffing.Provider, publisher Publisher, archive coordinator.Archive) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		provider:  provider,
		publisher: publisher,
		archive:   archive,
	}
	if err := e.build(); err != nil {
		return nil, err
	}
	return e, nil
}

// build constructs the simulation world from scratch. Reset calls it again
// to return to the initial state under the same seed.
func (e *Engine) build() error {
	clock, err := NewClock(e.cfg.Simulation.StartTime, e.cfg.Simulation.Speed)
	if err != nil {
		return err
	}

	baseRates := make(map[types.HospitalID]float64, len(e.cfg.Hospitals))
	for h, hc := range e.cfg.Hospitals {
		baseRates[h] = hc.BaseArrivalsHour
	}
	dm := demand.NewModel(baseRates)
	if err := dm.SetContext(e.cfg.Simulation.WeatherFactor, e.cfg.Simulation.HolidayFactor, e.cfg.Simulation.EventFactor); err != nil {
		return err
	}
	classifier := triage.NewClassifier()

	hospitals := make(map[types.HospitalID]*hospital.Simulator, len(e.cfg.Hospitals))
	for h, hc := range e.cfg.Hospitals {
		s, err := hospital.NewSimulator(h, hc, e.cfg.Simulation, dm, classifier, e.provider, e.publisher)
		if err != nil {
			return fmt.Errorf("failed to build simulator for %s: %w", h, err)
		}
		hospitals[h] = s
	}

	e.mu.Lock()
	e.clock = clock
	e.demand = dm
	e.classifier = classifier
	e.hospitals = hospitals
	e.coord = coordinator.New(e.cfg.Coordinator, e.cfg.Simulation.Seed, dm, classifier, e, e.archive, e.publisher)
	e.mu.Unlock()

	start := e.cfg.Simulation.StartTime
	e.nextSnapshot = start.Add(e.cfg.Simulation.SnapshotEvery)
	e.nextCycle = start.Add(e.cfg.Coordinator.CycleEvery)
	return nil
}

// Start launches the stepping loop. The clock stays paused until Resume.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return errors.Config("engine already started")
	}
	e.running = true
	e.startedWall = time.Now()
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	e.stepMu.Lock()
	for _, s := range e.hospitals {
		s.Bootstrap()
	}
	e.stepMu.Unlock()

	go e.run(ctx)
	log.Printf("engine: started, %d hospitals, seed %d, speed %.1fx",
		len(e.hospitals), e.cfg.Simulation.Seed, e.cfg.Simulation.Speed)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.Simulation.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.stepMu.Lock()
			e.stepTo(ctx, e.clock.Now())
			e.stepMu.Unlock()
		}
	}
}

// stepTo advances every hospital to now, then fires snapshots and
// coordinator cycles that came due. Caller holds stepMu.
func (e *Engine) stepTo(ctx context.Context, now time.Time) {
	for _, h := range types.AllHospitals() {
		s, ok := e.hospitals[h]
		if !ok {
			continue
		}
		if s.Halted() != nil {
			continue
		}
		if err := s.RunUntil(now); err != nil {
			log.Printf("engine: hospital %s halted: %v", h, err)
		}
	}

	for !now.Before(e.nextSnapshot) {
		for _, h := range types.AllHospitals() {
			if s, ok := e.hospitals[h]; ok {
				s.PublishSnapshot()
			}
		}
		e.nextSnapshot = e.nextSnapshot.Add(e.cfg.Simulation.SnapshotEvery)
	}

	for !now.Before(e.nextCycle) {
		snaps := make(map[types.HospitalID]hospital.Snapshot, len(e.hospitals))
		for h, s := range e.hospitals {
			if s.Halted() != nil {
				// A halted hospital stops reporting; the coordinator
				// flags it stale after the configured number of cycles
				continue
			}
			snaps[h] = s.Snapshot()
		}
		e.coord.Cycle(ctx, e.nextCycle, snaps)
		e.nextCycle = e.nextCycle.Add(e.cfg.Coordinator.CycleEvery)
	}
}

// Derive moves one waiting patient between hospitals. It is invoked by the
// coordinator from inside a cycle, on the stepping goroutine, so the
// release and admission are atomic with respect to both event loops. A
// failed admission reinstates the patient at the source.
func (e *Engine) Derive(ctx context.Context, from, to types.HospitalID, patient types.ID) error {
	src, ok := e.hospitals[from]
	if !ok {
		return errors.DerivationRejected(fmt.Sprintf("unknown source hospital %q", from))
	}
	tgt, ok := e.hospitals[to]
	if !ok {
		return errors.DerivationRejected(fmt.Sprintf("unknown target hospital %q", to))
	}

	p, err := src.ReleaseForDerivation(patient, to)
	if err != nil {
		return err
	}
	if err := tgt.AdmitTransfer(p); err != nil {
		if rerr := src.Reinstate(p); rerr != nil {
			return errors.Wrap(rerr, "derivation rollback failed")
		}
		return err
	}
	return nil
}

// Skip advances simulated time by d without waiting for wall time. The
// clock pauses while hospitals and coordinator step through the window in
// cycle-sized chunks, then resumes if it was running.
func (e *Engine) Skip(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return errors.Configf("skip duration must be positive, got %v", d)
	}

	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	wasRunning := !e.clock.Paused()
	e.clock.Pause()

	now := e.clock.Now()
	target := now.Add(d)
	chunk := e.cfg.Coordinator.CycleEvery

	for t := now.Add(chunk); t.Before(target); t = t.Add(chunk) {
		e.stepTo(ctx, t)
	}
	e.stepTo(ctx, target)
	e.clock.AdvanceTo(target)

	if wasRunning {
		e.clock.Resume()
	}
	log.Printf("engine: skipped %v to %s", d, target.Format(time.RFC3339))
	return nil
}

// Pause freezes the simulation clock
func (e *Engine) Pause() { e.Clock().Pause() }

// Resume unfreezes the simulation clock
func (e *Engine) Resume() { e.Clock().Resume() }

// SetSpeed changes the real-time multiplier
func (e *Engine) SetSpeed(speed float64) error { return e.Clock().SetSpeed(speed) }

// Clock exposes the simulation clock for read access
func (e *Engine) Clock() *Clock {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock
}

// Coordinator exposes the coordinator for alert and emergency queries
func (e *Engine) Coordinator() *coordinator.Coordinator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.coord
}

// Demand exposes the demand model for context updates
func (e *Engine) Demand() *demand.Model {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.demand
}

// Reset rebuilds the whole simulation to its initial state under the
// configured seed. The stepping loop keeps running against the new world.
func (e *Engine) Reset() error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	if err := e.build(); err != nil {
		return err
	}
	for _, s := range e.hospitals {
		s.Bootstrap()
	}
	log.Printf("engine: reset to %s, seed %d",
		e.cfg.Simulation.StartTime.Format(time.RFC3339), e.cfg.Simulation.Seed)
	return nil
}

// Snapshots returns the current state of every hospital
func (e *Engine) Snapshots() map[types.HospitalID]hospital.Snapshot {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	out := make(map[types.HospitalID]hospital.Snapshot, len(e.hospitals))
	for h, s := range e.hospitals {
		out[h] = s.Snapshot()
	}
	return out
}

// Totals aggregates run counters for the run summary archive
func (e *Engine) Totals() map[string]any {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	totals := make(map[string]any, len(e.hospitals))
	for h, s := range e.hospitals {
		snap := s.Snapshot()
		totals[string(h)] = map[string]any{
			"arrivals":        snap.Arrivals,
			"discharges":      snap.Discharges,
			"derivations_in":  snap.DerivationsIn,
			"derivations_out": snap.DerivationsOut,
			"active_patients": snap.ActivePatients,
		}
	}
	return totals
}

// StartedWall returns when the engine started, in wall time
func (e *Engine) StartedWall() time.Time { return e.startedWall }

// Stop halts the stepping loop and waits for it to exit
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stop)
	<-e.done
}
