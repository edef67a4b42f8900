package internal

import (
	"context"
	"testing"
	"time"

	"github.com/coruna-salud/gemelo/internal/coordinator"
	"github.com/coruna-salud/gemelo/internal/scenario"
	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/shared/events"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/sim"
	"github.com/coruna-salud/gemelo/internal/staffing"
)

func integrationConfig(seed int64) *config.Config {
	return &config.Config{
		Simulation: config.SimulationConfig{
			Seed:             seed,
			StartTime:        time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
			Speed:            60,
			TickInterval:     10 * time.Millisecond,
			SnapshotEvery:    5 * time.Minute,
			ServiceTimeFloor: 0.5,
			WeatherFactor:    1.0,
			HolidayFactor:    1.0,
			EventFactor:      1.0,
		},
		Coordinator: config.CoordinatorConfig{
			CycleEvery:             10 * time.Minute,
			SaturationThreshold:    0.80,
			SaturationDelta:        0.10,
			MaxDerivationsPerCycle: 3,
			WarningThreshold:       0.75,
			CriticalThreshold:      0.90,
			AlertHysteresis:        0.05,
			StaleCycles:            2,
		},
		Hospitals: map[types.HospitalID]config.HospitalConfig{
			types.HospitalCHUAC:     {Boxes: 24, ObservationBeds: 16, BaseArrivalsHour: 14.0, NominalStaff: 18},
			types.HospitalModelo:    {Boxes: 10, ObservationBeds: 6, BaseArrivalsHour: 5.0, NominalStaff: 8},
			types.HospitalSanRafael: {Boxes: 8, ObservationBeds: 4, BaseArrivalsHour: 3.5, NominalStaff: 6},
		},
	}
}

func integrationProvider(cfg *config.Config) staffing.Provider {
	nominal := make(map[types.HospitalID]int, len(cfg.Hospitals))
	for h, hc := range cfg.Hospitals {
		nominal[h] = hc.NominalStaff
	}
	return staffing.NewStaticProvider(staffing.DefaultRoster(nominal))
}

// TestFullTwinWorkflow runs the complete system for a simulated week:
// engine, coordinator, telemetry bus and an injected emergency.
func TestFullTwinWorkflow(t *testing.T) {
	ctx := context.Background()
	cfg := integrationConfig(42)

	bus := events.NewRecordingBus()
	publisher := events.NewAsyncPublisher(bus, 65536)
	publisher.Start(ctx)
	defer publisher.Stop()

	engine, err := sim.NewEngine(cfg, integrationProvider(cfg), publisher, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	// Viral outbreak across two hospitals on day two
	outbreakStart := cfg.Simulation.StartTime.Add(24 * time.Hour)
	if _, err := engine.Coordinator().TriggerEmergency(coordinator.EmergencySpec{
		Type:          coordinator.EmergencyViralOutbreak,
		Hospitals:     []types.HospitalID{types.HospitalModelo, types.HospitalSanRafael},
		ExtraPatients: 80,
		StartsAt:      outbreakStart,
		Duration:      24 * time.Hour,
	}); err != nil {
		t.Fatalf("TriggerEmergency failed: %v", err)
	}

	if err := engine.Skip(ctx, 7*24*time.Hour); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}

	snaps := engine.Snapshots()
	var totalArrivals, totalDischarges, totalActive int64
	var derivationsIn, derivationsOut int64
	for h, snap := range snaps {
		if snap.Arrivals == 0 {
			t.Errorf("Expected arrivals at %s over a simulated week", h)
		}
		if snap.Boxes.Occupied > snap.Boxes.Total || snap.Observation.Occupied > snap.Observation.Total {
			t.Errorf("Capacity exceeded at %s: %+v", h, snap)
		}
		totalArrivals += snap.Arrivals
		totalDischarges += snap.Discharges
		totalActive += snap.ActivePatients
		derivationsIn += snap.DerivationsIn
		derivationsOut += snap.DerivationsOut
	}

	// Every derived patient left one hospital and entered another, so the
	// system-wide totals balance
	if derivationsIn != derivationsOut {
		t.Errorf("Derivation balance broken: %d out vs %d in", derivationsOut, derivationsIn)
	}
	if totalArrivals != totalDischarges+totalActive {
		t.Errorf("System wide conservation broken: arrivals=%d discharges=%d active=%d",
			totalArrivals, totalDischarges, totalActive)
	}

	// Resuscitation patients stay where they arrived, no matter how
	// saturated the source got
	for _, d := range engine.Coordinator().RecentDecisions(0) {
		if d.Level < 2 {
			t.Errorf("Level %d patient %s derived from %s to %s", d.Level, d.Patient, d.From, d.To)
		}
	}

	// The outbreak must have resolved
	emergencies := engine.Coordinator().Emergencies()
	if len(emergencies) != 1 {
		t.Fatalf("Expected 1 emergency, got %d", len(emergencies))
	}
	if emergencies[0].State != coordinator.EmergencyResolved {
		t.Errorf("Expected resolved emergency after its window, got %s", emergencies[0].State)
	}
}

// TestDeterministicReplay checks end-to-end reproducibility of the full
// system under a fixed seed.
func TestDeterministicReplay(t *testing.T) {
	ctx := context.Background()

	run := func() map[types.HospitalID][2]int64 {
		cfg := integrationConfig(99)
		engine, err := sim.NewEngine(cfg, integrationProvider(cfg), nil, nil)
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		if err := engine.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer engine.Stop()
		if err := engine.Skip(ctx, 72*time.Hour); err != nil {
			t.Fatalf("Skip failed: %v", err)
		}
		out := make(map[types.HospitalID][2]int64)
		for h, snap := range engine.Snapshots() {
			out[h] = [2]int64{snap.Arrivals, snap.Discharges}
		}
		return out
	}

	first := run()
	second := run()
	for h, counters := range first {
		if second[h] != counters {
			t.Errorf("Replay diverged at %s: %v vs %v", h, counters, second[h])
		}
	}
}

// TestScenarioProjectionIsolated verifies a what-if projection runs without
// touching the live engine.
func TestScenarioProjectionIsolated(t *testing.T) {
	ctx := context.Background()
	cfg := integrationConfig(5)

	engine, err := sim.NewEngine(cfg, integrationProvider(cfg), nil, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	before := engine.Snapshots()

	projector := scenario.NewProjector(cfg, integrationProvider(cfg))
	result, err := projector.Run(ctx, scenario.Spec{
		Horizon: 24 * time.Hour,
		Overrides: map[types.HospitalID]scenario.CapacityOverride{
			types.HospitalModelo: {Boxes: 20},
		},
	})
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}
	if result.Snapshots[types.HospitalModelo].Boxes.Total != 20 {
		t.Errorf("Expected override applied in projection, got %d boxes",
			result.Snapshots[types.HospitalModelo].Boxes.Total)
	}
	if result.Snapshots[types.HospitalCHUAC].Arrivals == 0 {
		t.Error("Expected projection to simulate arrivals")
	}

	after := engine.Snapshots()
	for h := range before {
		if before[h].Arrivals != after[h].Arrivals {
			t.Errorf("Expected live twin untouched by projection at %s", h)
		}
	}
}

// TestEmergencyRaisesProjectedLoad checks that an injected emergency raises
// demand in an otherwise identical projection.
func TestEmergencyRaisesProjectedLoad(t *testing.T) {
	ctx := context.Background()
	cfg := integrationConfig(17)
	projector := scenario.NewProjector(cfg, integrationProvider(cfg))

	baseline, err := projector.Run(ctx, scenario.Spec{Horizon: 24 * time.Hour})
	if err != nil {
		t.Fatalf("baseline projection failed: %v", err)
	}
	accident, err := projector.Run(ctx, scenario.Spec{
		Horizon: 24 * time.Hour,
		Emergency: &coordinator.EmergencySpec{
			Type:          coordinator.EmergencyTrafficAccident,
			Hospitals:     []types.HospitalID{types.HospitalCHUAC},
			ExtraPatients: 40,
			Duration:      12 * time.Hour,
		},
	})
	if err != nil {
		t.Fatalf("accident projection failed: %v", err)
	}

	if accident.Snapshots[types.HospitalCHUAC].Arrivals <= baseline.Snapshots[types.HospitalCHUAC].Arrivals {
		t.Errorf("Expected accident to raise CHUAC arrivals, got %d vs %d",
			accident.Snapshots[types.HospitalCHUAC].Arrivals,
			baseline.Snapshots[types.HospitalCHUAC].Arrivals)
	}
}
