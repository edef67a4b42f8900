package hospital

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/coruna-salud/gemelo/internal/demand"
	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/events"
	"github.com/coruna-salud/gemelo/internal/shared/metrics"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/staffing"
	"github.com/coruna-salud/gemelo/internal/triage"
)

// Publisher is the telemetry sink the simulator emits into. Emission never
// blocks the event loop.
type Publisher interface {
	Publish(event events.Event)
}

// Simulator runs the discrete-event loop for one hospital. Every patient
// and resource mutation happens sequentially inside RunUntil, which the
// owning goroutine alone may call; cross-hospital effects arrive as explicit
// commands (derivation release and transfer admission) between loop passes.
type Simulator struct {
	id         types.HospitalID
	cfg        config.HospitalConfig
	simCfg     config.SimulationConfig
	rng        *rand.Rand
	demand     *demand.Model
	classifier *triage.Classifier
	staffing   staffing.Provider
	publisher  Publisher

	pool    *ResourcePool
	queue   eventQueue
	waiting *waitQueue

	// triageWait holds patients between arrival and triage completion
	triageWait map[string]*Patient
	// inAttention holds patients currently occupying a box
	inAttention map[string]*Patient
	// observation holds patients in an observation bed
	observation map[string]*Patient
	// observationPending holds patients whose outcome was observation but no
	// bed was free; they hold no resource and take the next freed bed
	observationPending []*Patient

	now     time.Time
	seq     uint64
	patSeq  uint64
	started bool
	halted  error

	arrivals       int64
	discharges     int64
	derivationsIn  int64
	derivationsOut int64

	// exponentially weighted moving averages, minutes
	avgWait    float64
	avgService float64
}

const ewmaAlpha = 0.1

// NewSimulator creates a simulator for one hospital. The seed is derived
// from the global simulation seed and the hospital identity, so hospitals
// stay deterministic independently of goroutine interleaving.
func NewSimulator(
	id types.HospitalID,
	cfg config.HospitalConfig,
	simCfg config.SimulationConfig,
	dm *demand.Model,
	classifier *triage.Classifier,
	provider staffing.Provider,
	publisher Publisher,
) (*Simulator, error) {
	if !id.Valid() {
		return nil, errors.Configf("unknown hospital %q", id)
	}
	pool, err := NewResourcePool(cfg.Boxes, cfg.ObservationBeds)
	if err != nil {
		return nil, err
	}

	seed := simCfg.Seed
	for _, b := range []byte(id) {
		seed = seed*31 + int64(b)
	}

	return &Simulator{
		id:          id,
		cfg:         cfg,
		simCfg:      simCfg,
		rng:         rand.New(rand.NewSource(seed)),
		demand:      dm,
		classifier:  classifier,
		staffing:    provider,
		publisher:   publisher,
		pool:        pool,
		waiting:     newWaitQueue(),
		triageWait:  make(map[string]*Patient),
		inAttention: make(map[string]*Patient),
		observation: make(map[string]*Patient),
		now:         simCfg.StartTime,
	}, nil
}

// ID returns the hospital identity
func (s *Simulator) ID() types.HospitalID { return s.id }

// Now returns the simulator's current simulated time
func (s *Simulator) Now() time.Time { return s.now }

// Halted returns the fatal error that stopped the loop, if any
func (s *Simulator) Halted() error { return s.halted }

// Bootstrap schedules the first arrival. Idempotent.
func (s *Simulator) Bootstrap() {
	if s.started {
		return
	}
	s.started = true
	s.schedule(s.demand.NextArrival(s.rng, s.id, s.now), evArrival, nil)
}

// schedule pushes an event onto the queue
func (s *Simulator) schedule(at time.Time, kind eventKind, p *Patient) {
	s.seq++
	s.queue.push(&event{at: at, kind: kind, patient: p, seq: s.seq})
}

// RunUntil processes every event scheduled at or before t, in order. On a
// resource invariant violation the loop halts permanently and surfaces the
// diagnostic; any other outcome leaves the simulator consistent at time t.
func (s *Simulator) RunUntil(t time.Time) error {
	if s.halted != nil {
		return s.halted
	}
	for !s.queue.empty() && !s.queue.peek().at.After(t) {
		ev := s.queue.pop()
		if ev.at.After(s.now) {
			s.now = ev.at
		}
		if err := s.handle(ev); err != nil {
			s.halted = err
			s.publish(EventHalted, map[string]any{
				"error":    err.Error(),
				"snapshot": s.Snapshot(),
			})
			return err
		}
		metrics.RecordEventProcessed(s.id.String(), ev.kind.String())
	}
	if t.After(s.now) {
		s.now = t
	}
	if err := s.pool.Check(); err != nil {
		s.halted = err
		s.publish(EventHalted, map[string]any{
			"error":    err.Error(),
			"snapshot": s.Snapshot(),
		})
		return err
	}
	return nil
}

// handle dispatches one event
func (s *Simulator) handle(ev *event) error {
	switch ev.kind {
	case evArrival:
		return s.handleArrival(ev)
	case evTriageDone:
		return s.handleTriageDone(ev)
	case evAttentionStart:
		return s.handleAttentionStart(ev)
	case evAttentionEnd:
		return s.handleAttentionEnd(ev)
	case evObservationEnd:
		return s.handleObservationEnd(ev)
	case evDischarge:
		return s.handleDischarge(ev)
	}
	return fmt.Errorf("unknown event kind %d", ev.kind)
}

func (s *Simulator) handleArrival(ev *event) error {
	s.patSeq++
	p := &Patient{
		ID:        types.NewDeterministicID("patient", fmt.Sprintf("%s-%d", s.id, s.patSeq)),
		Origin:    s.id,
		Hospital:  s.id,
		State:     StateArrived,
		ArrivedAt: ev.at,
		seq:       s.patSeq,
	}
	if err := p.transition(StateWaitingTriage); err != nil {
		return err
	}
	s.triageWait[p.ID.String()] = p
	s.arrivals++
	metrics.RecordArrival(s.id.String())
	s.publishLifecycle(EventArrival, p)

	// Fixed draw order keeps runs reproducible: triage duration first, next
	// arrival second.
	s.schedule(ev.at.Add(s.classifier.TriageDuration(s.rng)), evTriageDone, p)
	s.schedule(s.demand.NextArrival(s.rng, s.id, ev.at), evArrival, nil)
	return nil
}

func (s *Simulator) handleTriageDone(ev *event) error {
	p := ev.patient
	if err := p.transition(StateTriaged); err != nil {
		return err
	}
	p.Level = s.classifier.Classify(s.rng, s.id)
	delete(s.triageWait, p.ID.String())

	if err := p.transition(StateWaitingAttention); err != nil {
		return err
	}
	s.waiting.add(p)
	metrics.RecordTriaged(s.id.String(), int(p.Level))
	s.publishLifecycle(EventTriaged, p)

	s.tryStartAttention()
	return nil
}

// tryStartAttention moves waiting patients into free boxes. The box is
// acquired here, atomically with dequeueing, so a patient scheduled to start
// can never find the box gone.
func (s *Simulator) tryStartAttention() {
	for s.pool.FreeBoxes() > 0 && s.waiting.Len() > 0 {
		p := s.waiting.next()
		if !s.pool.AcquireBox() {
			// Loop condition guarantees a free box; re-queue if not
			s.waiting.add(p)
			return
		}
		s.schedule(s.now, evAttentionStart, p)
	}
}

func (s *Simulator) handleAttentionStart(ev *event) error {
	p := ev.patient
	if err := p.transition(StateInAttention); err != nil {
		return err
	}
	p.AttentionStart = ev.at
	s.inAttention[p.ID.String()] = p

	waited := ev.at.Sub(p.ArrivedAt).Minutes()
	s.avgWait = ewma(s.avgWait, waited)

	p.ServiceBudget = s.serviceTime(p.Level, ev.at)
	s.schedule(ev.at.Add(p.ServiceBudget), evAttentionEnd, p)
	s.publishLifecycle(EventAttentionStart, p)
	return nil
}

// serviceTime samples the attention duration, scaled by current staffing:
// more on-duty staff than nominal shortens service, fewer stretches it, and
// the configured floor bounds the speed-up.
func (s *Simulator) serviceTime(level triage.Level, at time.Time) time.Duration {
	base := s.classifier.ServiceTime(s.rng, level)

	onDuty := s.staffing.OnDuty(s.id, at).Total()
	if onDuty <= 0 {
		onDuty = 1
	}
	scale := float64(s.cfg.NominalStaff) / float64(onDuty)
	if scale < s.simCfg.ServiceTimeFloor {
		scale = s.simCfg.ServiceTimeFloor
	}
	if scale > 2.0 {
		scale = 2.0
	}
	return time.Duration(float64(base) * scale)
}

func (s *Simulator) handleAttentionEnd(ev *event) error {
	p := ev.patient
	delete(s.inAttention, p.ID.String())
	if err := s.pool.ReleaseBox(); err != nil {
		return err
	}

	s.avgService = ewma(s.avgService, ev.at.Sub(p.AttentionStart).Minutes())
	s.publishLifecycle(EventAttentionEnd, p)

	if s.classifier.NeedsObservation(s.rng, p.Level) {
		if err := p.transition(StateObservation); err != nil {
			return err
		}
		if s.pool.AcquireObservation() {
			s.observation[p.ID.String()] = p
			s.schedule(ev.at.Add(s.classifier.ObservationDuration(s.rng)), evObservationEnd, p)
		} else {
			// No bed free: the patient waits unresourced and takes the next
			// freed bed in order
			s.observationPending = append(s.observationPending, p)
		}
		s.publishLifecycle(EventObservation, p)
	} else {
		s.schedule(ev.at, evDischarge, p)
	}

	// The freed box goes to the head of the wait queue
	s.tryStartAttention()
	return nil
}

func (s *Simulator) handleObservationEnd(ev *event) error {
	p := ev.patient
	delete(s.observation, p.ID.String())
	if err := s.pool.ReleaseObservation(); err != nil {
		return err
	}
	if err := s.dischargePatient(p); err != nil {
		return err
	}

	// Hand the freed bed to the longest-pending observation patient
	if len(s.observationPending) > 0 && s.pool.AcquireObservation() {
		next := s.observationPending[0]
		s.observationPending = s.observationPending[1:]
		s.observation[next.ID.String()] = next
		s.schedule(ev.at.Add(s.classifier.ObservationDuration(s.rng)), evObservationEnd, next)
	}
	return nil
}

func (s *Simulator) handleDischarge(ev *event) error {
	return s.dischargePatient(ev.patient)
}

// dischargePatient finalizes a discharge
func (s *Simulator) dischargePatient(p *Patient) error {
	if err := p.transition(StateDischarged); err != nil {
		return err
	}
	s.discharges++
	metrics.RecordDischarge(s.id.String())
	s.publishLifecycle(EventDischarge, p)
	return nil
}

// ReleaseForDerivation extracts a waiting patient for transfer to another
// hospital. Only WAITING_ATTENTION patients with level >= 2 are eligible;
// level 1 patients are never derived. The caller (coordinator, via the
// engine) owns re-admission at the target; on any error the patient is
// untouched.
func (s *Simulator) ReleaseForDerivation(patientID types.ID, to types.HospitalID) (*Patient, error) {
	if s.halted != nil {
		return nil, s.halted
	}
	entry, ok := s.waiting.byID[patientID.String()]
	if !ok {
		return nil, errors.DerivationRejected(fmt.Sprintf("patient %s is not waiting for attention", patientID))
	}
	p := entry.patient
	if p.Level == triage.LevelImmediate {
		return nil, errors.DerivationRejected("level 1 patients are never derived")
	}
	if p.State != StateWaitingAttention {
		return nil, errors.DerivationRejected(fmt.Sprintf("patient %s in state %s", patientID, p.State))
	}

	s.waiting.remove(patientID.String())
	if err := p.transition(StateDerived); err != nil {
		// Unreachable given the checks above; restore the queue if it ever fires
		s.waiting.add(p)
		return nil, err
	}
	p.DerivedTo = &to
	s.derivationsOut++
	metrics.RecordDerivation(s.id.String(), to.String())
	s.publishLifecycle(EventDerivationOut, p)
	return p, nil
}

// Reinstate puts a released patient back into the waiting queue after a
// failed transfer. The carried arrival time restores their original
// position within their level.
func (s *Simulator) Reinstate(p *Patient) error {
	if p.State != StateDerived {
		return errors.DerivationRejected(fmt.Sprintf("patient %s in state %s cannot be reinstated", p.ID, p.State))
	}
	if err := p.transition(StateWaitingAttention); err != nil {
		return err
	}
	p.DerivedTo = nil
	s.derivationsOut--
	s.waiting.add(p)
	s.publishLifecycle(EventDerivationRollback, p)
	s.tryStartAttention()
	return nil
}

// AdmitTransfer takes ownership of a derived patient. The triage level
// carries over; no re-triage happens. The carried arrival time keeps the
// patient's seniority within their level at the new hospital.
func (s *Simulator) AdmitTransfer(p *Patient) error {
	if s.halted != nil {
		return s.halted
	}
	if p.State != StateDerived {
		return errors.DerivationRejected(fmt.Sprintf("patient %s in state %s cannot be admitted", p.ID, p.State))
	}
	p.Hospital = s.id
	s.patSeq++
	p.seq = s.patSeq
	if err := p.transition(StateWaitingAttention); err != nil {
		return err
	}
	s.waiting.add(p)
	s.derivationsIn++
	s.publishLifecycle(EventDerivationIn, p)
	s.tryStartAttention()
	return nil
}

// Snapshot recomputes the hospital state view from live counters
func (s *Simulator) Snapshot() Snapshot {
	waiting := make([]WaitingPatient, 0, s.waiting.Len())
	for _, p := range s.waiting.patients() {
		waiting = append(waiting, WaitingPatient{ID: p.ID, Level: p.Level, ArrivedAt: p.ArrivedAt})
	}

	snap := Snapshot{
		Hospital:      s.id,
		At:            s.now,
		TriageWait:    len(s.triageWait),
		AttentionWait: s.waiting.Len(),
		Boxes: Occupancy{
			Occupied: s.pool.BoxesOccupied(),
			Total:    s.pool.BoxesTotal(),
		},
		Observation: Occupancy{
			Occupied: s.pool.ObservationOccupied(),
			Total:    s.pool.ObservationTotal(),
		},
		Saturation:        s.pool.Saturation(),
		AvgWaitMinutes:    s.avgWait,
		AvgServiceMinutes: s.avgService,
		Arrivals:          s.arrivals,
		Discharges:        s.discharges,
		DerivationsIn:     s.derivationsIn,
		DerivationsOut:    s.derivationsOut,
		ActivePatients:    s.arrivals - s.discharges - s.derivationsOut + s.derivationsIn,
		Waiting:           waiting,
	}

	metrics.RecordSaturation(s.id.String(), snap.Saturation)
	metrics.RecordQueueLengths(s.id.String(), snap.TriageWait, snap.AttentionWait)
	return snap
}

// PublishSnapshot emits the periodic telemetry snapshot
func (s *Simulator) PublishSnapshot() {
	s.publish(EventSnapshot, s.Snapshot())
}

func (s *Simulator) publishLifecycle(eventType string, p *Patient) {
	s.publish(eventType, lifecycleEvent{
		Hospital: s.id,
		Patient:  p.ID,
		Level:    p.Level,
		At:       s.now,
	})
}

func (s *Simulator) publish(eventType string, data any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.NewEvent(eventType, s.id.String(), s.now, data))
}

func ewma(current, sample float64) float64 {
	if current == 0 {
		return sample
	}
	return current*(1-ewmaAlpha) + sample*ewmaAlpha
}
