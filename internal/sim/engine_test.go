package sim

import (
	"context"
	"testing"
	"time"

	"github.com/coruna-salud/gemelo/internal/coordinator"
	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/shared/events"
	"github.com/coruna-salud/gemelo/internal/shared/types"
	"github.com/coruna-salud/gemelo/internal/staffing"
)

func testConfig(seed int64) *config.Config {
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

func testProvider(cfg *config.Config) staffing.Provider {
	nominal := make(map[types.HospitalID]int, len(cfg.Hospitals))
	for h, hc := range cfg.Hospitals {
		nominal[h] = hc.NominalStaff
	}
	return staffing.NewStaticProvider(staffing.DefaultRoster(nominal))
}

func newTestEngine(t *testing.T, seed int64, bus events.EventBus) *Engine {
	t.Helper()
	cfg := testConfig(seed)
	var pub Publisher
	if bus != nil {
		async := events.NewAsyncPublisher(bus, 4096)
		async.Start(context.Background())
		t.Cleanup(async.Stop)
		pub = async
	}
	e, err := NewEngine(cfg, testProvider(cfg), pub, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestEngineSkipAdvancesAllHospitals(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 42, nil)

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	if err := e.Skip(ctx, 24*time.Hour); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}

	want := testConfig(42).Simulation.StartTime.Add(24 * time.Hour)
	if got := e.Clock().Now(); got.Before(want) {
		t.Errorf("Expected clock at %v after skip, got %v", want, got)
	}

	snaps := e.Snapshots()
	if len(snaps) != 3 {
		t.Fatalf("Expected 3 hospital snapshots, got %d", len(snaps))
	}
	for h, snap := range snaps {
		if snap.Arrivals == 0 {
			t.Errorf("Expected arrivals at %s after a simulated day", h)
		}
		if snap.Arrivals != snap.Discharges+snap.ActivePatients+snap.DerivationsOut-snap.DerivationsIn {
			t.Errorf("Patient accounting broken at %s: %+v", h, snap)
		}
	}
}

func TestEngineSkipRejectsNonPositive(t *testing.T) {
	e := newTestEngine(t, 1, nil)
	if err := e.Skip(context.Background(), 0); err == nil {
		t.Error("Expected zero skip to be rejected")
	}
	if err := e.Skip(context.Background(), -time.Hour); err == nil {
		t.Error("Expected negative skip to be rejected")
	}
}

func TestEngineDeterministicAcrossRuns(t *testing.T) {
	ctx := context.Background()

	run := func() map[types.HospitalID]int64 {
		e := newTestEngine(t, 7, nil)
		if err := e.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer e.Stop()
		if err := e.Skip(ctx, 48*time.Hour); err != nil {
			t.Fatalf("Skip failed: %v", err)
		}
		out := make(map[types.HospitalID]int64)
		for h, snap := range e.Snapshots() {
			out[h] = snap.Arrivals
		}
		return out
	}

	first := run()
	second := run()
	for h, n := range first {
		if second[h] != n {
			t.Errorf("Expected identical arrivals at %s under same seed, got %d and %d", h, n, second[h])
		}
	}
}

func TestEngineReset(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 11, nil)

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	if err := e.Skip(ctx, 12*time.Hour); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	before := e.Snapshots()[types.HospitalCHUAC].Arrivals
	if before == 0 {
		t.Fatal("Expected arrivals before reset")
	}

	if err := e.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	after := e.Snapshots()[types.HospitalCHUAC]
	if after.Arrivals != 0 {
		t.Errorf("Expected fresh counters after reset, got %d arrivals", after.Arrivals)
	}
	start := testConfig(11).Simulation.StartTime
	if !e.Clock().Now().Equal(start) {
		t.Errorf("Expected clock back at %v, got %v", start, e.Clock().Now())
	}

	// The reset world replays identically
	if err := e.Skip(ctx, 12*time.Hour); err != nil {
		t.Fatalf("Skip after reset failed: %v", err)
	}
	if got := e.Snapshots()[types.HospitalCHUAC].Arrivals; got != before {
		t.Errorf("Expected replay to match original run, got %d vs %d", got, before)
	}
}

// TestEngineResetConcurrentWithReads exercises an operator reset while the
// read endpoints keep polling the engine, the way the HTTP API does. Run
// with -race: the accessors must hand out the component pointers safely
// while Reset swaps them.
func TestEngineResetConcurrentWithReads(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 5, nil)

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()
	e.Resume()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			e.Clock().Now()
			e.Coordinator().Alerts()
			e.Demand().Context()
			e.Snapshots()
		}
	}()

	for i := 0; i < 50; i++ {
		if err := e.Reset(); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
	}
	close(stop)
	<-done

	if got := e.Snapshots()[types.HospitalCHUAC].Arrivals; got != 0 {
		t.Errorf("Expected fresh counters after final reset, got %d arrivals", got)
	}
}

func TestEngineEmergencyRaisesArrivals(t *testing.T) {
	ctx := context.Background()

	run := func(withEmergency bool) int64 {
		e := newTestEngine(t, 3, nil)
		if err := e.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer e.Stop()

		if withEmergency {
			_, err := e.Coordinator().TriggerEmergency(coordinator.EmergencySpec{
				Type:          coordinator.EmergencyMassEvent,
				Hospitals:     []types.HospitalID{types.HospitalSanRafael},
				ExtraPatients: 60,
				StartsAt:      testConfig(3).Simulation.StartTime,
				Duration:      6 * time.Hour,
			})
			if err != nil {
				t.Fatalf("TriggerEmergency failed: %v", err)
			}
		}

		if err := e.Skip(ctx, 8*time.Hour); err != nil {
			t.Fatalf("Skip failed: %v", err)
		}
		return e.Snapshots()[types.HospitalSanRafael].Arrivals
	}

	base := run(false)
	boosted := run(true)
	if boosted <= base {
		t.Errorf("Expected emergency to raise arrivals, got %d vs baseline %d", boosted, base)
	}
}
