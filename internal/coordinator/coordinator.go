package coordinator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coruna-salud/gemelo/internal/demand"
	"github.com/coruna-salud/gemelo/internal/hospital"
	"github.com/coruna-salud/gemelo/internal/shared/config"
	apperrors "github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/events"
	"github.com/coruna-salud/gemelo/internal/shared/metrics"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/triage"
)

// Publisher is the telemetry sink the coordinator emits events to
type Publisher interface {
	Publish(event events.Event)
}

// overrideSetter is the slice of the triage classifier the coordinator needs
type overrideSetter interface {
	SetOverride(h types.HospitalID, d triage.Distribution)
	ClearOverride(h types.HospitalID)
}

// Coordinator watches hospital snapshots each cycle and acts on them:
// it raises and clears saturation alerts, advances emergencies through
// their lifecycle, and orders patient derivations between hospitals.
type Coordinator struct {
	cfg        config.CoordinatorConfig
	demand     *demand.Model
	classifier overrideSetter
	commander  Commander
	archive    Archive
	publisher  Publisher
	rng        *rand.Rand

	mu          sync.Mutex
	now         time.Time
	cycle       int
	lastSeen    map[types.HospitalID]int
	lastSnap    map[types.HospitalID]hospital.Snapshot
	alerts      *alertTracker
	emergencies []*Emergency
	decisions   []DerivationDecision
}

func New(cfg config.CoordinatorConfig, seed int64, dm *demand.Model, cls overrideSetter, cmd Commander, archive Archive, pub Publisher) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		demand:     dm,
		classifier: cls,
		commander:  cmd,
		archive:    archive,
		publisher:  pub,
		rng:        rand.New(rand.NewSource(seed ^ 0x636f6f7264)),
		lastSeen:   make(map[types.HospitalID]int),
		lastSnap:   make(map[types.HospitalID]hospital.Snapshot),
		alerts:     newAlertTracker(cfg),
	}
}

// cycleReport is the payload published after every coordination cycle
type cycleReport struct {
	Cycle       int                          `json:"cycle"`
	At          time.Time                    `json:"at"`
	Saturations map[types.HospitalID]float64 `json:"saturations"`
	Stale       []types.HospitalID           `json:"stale,omitempty"`
	Derivations []DerivationDecision         `json:"derivations,omitempty"`
	Alerts      []Alert                      `json:"alerts,omitempty"`
}

// Cycle runs one coordination pass over the latest hospital snapshots.
// Hospitals missing from snaps keep their previous snapshot; a hospital
// not heard from for more than StaleCycles cycles is flagged stale and
// excluded from derivation decisions.
func (c *Coordinator) Cycle(ctx context.Context, now time.Time, snaps map[types.HospitalID]hospital.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
	c.cycle++

	for h, snap := range snaps {
		c.lastSnap[h] = snap
		c.lastSeen[h] = c.cycle
	}

	stale := c.staleHospitals()
	for _, h := range stale {
		missed := c.cycle - c.lastSeen[h]
		log.Printf("coordinator: %v", apperrors.Stale(string(h), missed))
	}

	c.advanceEmergencies(ctx, now)
	c.maybeInjectRandomEmergency(now)

	staleSet := make(map[types.HospitalID]bool, len(stale))
	for _, h := range stale {
		staleSet[h] = true
	}

	var transitions []transition
	for _, h := range types.AllHospitals() {
		snap, ok := c.lastSnap[h]
		if !ok {
			continue
		}
		transitions = append(transitions, c.alerts.evaluate(h, snap.Saturation, staleSet[h], now)...)
	}
	for _, tr := range transitions {
		if tr.cleared {
			c.publish(EventAlertCleared, tr.alert)
		} else {
			c.publish(EventAlertRaised, tr.alert)
		}
	}

	decided := c.decideDerivations(ctx, staleSet)

	report := cycleReport{
		Cycle:       c.cycle,
		At:          now,
		Saturations: make(map[types.HospitalID]float64, len(c.lastSnap)),
		Stale:       stale,
		Derivations: decided,
		Alerts:      c.alerts.activeAlerts(),
	}
	for h, snap := range c.lastSnap {
		report.Saturations[h] = snap.Saturation
	}
	c.publish(EventCycle, report)
}

func (c *Coordinator) staleHospitals() []types.HospitalID {
	var stale []types.HospitalID
	for _, h := range types.AllHospitals() {
		seen, ok := c.lastSeen[h]
		if !ok {
			continue
		}
		if c.cycle-seen > c.cfg.StaleCycles {
			stale = append(stale, h)
		}
	}
	return stale
}

// hospitalLoad pairs a hospital with its latest snapshot for ranking
type hospitalLoad struct {
	id   types.HospitalID
	snap hospital.Snapshot
}

// decideDerivations picks overloaded source hospitals and moves their
// oldest eligible waiting patients to under-loaded targets. A patient is
// eligible when triaged at level 2 or below in urgency (never level 1)
// and still waiting for attention. At most MaxDerivationsPerCycle
// patients move per cycle across all hospitals.
func (c *Coordinator) decideDerivations(ctx context.Context, stale map[types.HospitalID]bool) []DerivationDecision {
	var sources, targets []hospitalLoad
	for _, h := range types.AllHospitals() {
		snap, ok := c.lastSnap[h]
		if !ok || stale[h] {
			continue
		}
		l := hospitalLoad{id: h, snap: snap}
		if snap.Saturation > c.cfg.SaturationThreshold {
			sources = append(sources, l)
		} else {
			targets = append(targets, l)
		}
	}
	if len(sources) == 0 || len(targets) == 0 {
		return nil
	}

	// Most saturated sources act first; least saturated targets fill first
	sort.Slice(sources, func(i, j int) bool { return sources[i].snap.Saturation > sources[j].snap.Saturation })
	sort.Slice(targets, func(i, j int) bool { return targets[i].snap.Saturation < targets[j].snap.Saturation })

	budget := c.cfg.MaxDerivationsPerCycle
	var decided []DerivationDecision

	for _, src := range sources {
		if budget == 0 {
			break
		}

		for _, cand := range derivableWaiting(src.snap) {
			if budget == 0 {
				break
			}

			tgt, ok := c.pickTarget(src, targets)
			if !ok {
				break
			}

			decision := DerivationDecision{
				ID:      types.NewID(),
				Patient: cand.ID,
				From:    src.id,
				To:      tgt.id,
				Level:   cand.Level,
				Reason: fmt.Sprintf("saturation %.2f at %s exceeds %.2f, %s at %.2f",
					src.snap.Saturation, src.id, c.cfg.SaturationThreshold, tgt.id, tgt.snap.Saturation),
				At: c.now,
			}

			if err := c.commander.Derive(ctx, src.id, tgt.id, cand.ID); err != nil {
				log.Printf("coordinator: derivation of %s from %s to %s rejected: %v",
					cand.ID, src.id, tgt.id, err)
				metrics.RecordDerivationRejected(rejectionReason(err))
				continue
			}

			decision.Executed = true
			budget--
			decided = append(decided, decision)
			c.decisions = append(c.decisions, decision)
			metrics.RecordDerivation(string(src.id), string(tgt.id))
			c.publish(EventDerivation, decision)

			if c.archive != nil {
				if err := c.archive.SaveDecision(ctx, decision); err != nil {
					log.Printf("coordinator: failed to archive decision %s: %v", decision.ID, err)
				}
			}
		}
	}
	return decided
}

// pickTarget returns the least saturated hospital that is both under the
// saturation threshold and at least SaturationDelta below the source
func (c *Coordinator) pickTarget(src hospitalLoad, targets []hospitalLoad) (hospitalLoad, bool) {
	for _, tgt := range targets {
		if tgt.snap.Saturation >= c.cfg.SaturationThreshold {
			continue
		}
		if src.snap.Saturation-tgt.snap.Saturation <= c.cfg.SaturationDelta {
			continue
		}
		return tgt, true
	}
	return hospitalLoad{}, false
}

// derivableWaiting filters a snapshot's waiting list down to patients the
// coordinator may move, oldest arrival first. Level 1 patients are never
// derived.
func derivableWaiting(snap hospital.Snapshot) []hospital.WaitingPatient {
	var out []hospital.WaitingPatient
	for _, w := range snap.Waiting {
		if w.Level < 2 {
			continue
		}
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ArrivedAt.Before(out[j].ArrivedAt) })
	return out
}

func rejectionReason(err error) string {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "internal"
}

// Alerts returns the currently active alerts
func (c *Coordinator) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts.activeAlerts()
}

// RecentDecisions returns the last n derivation decisions, newest last
func (c *Coordinator) RecentDecisions(n int) []DerivationDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.decisions) {
		n = len(c.decisions)
	}
	out := make([]DerivationDecision, n)
	copy(out, c.decisions[len(c.decisions)-n:])
	return out
}

func (c *Coordinator) publish(eventType string, data any) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(events.NewEvent(eventType, "coordinator", c.now, data))
}
