package demand

import (
	"math/rand"
	"testing"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
)

func testModel() *Model {
	return NewModel(map[types.HospitalID]float64{
		types.HospitalCHUAC:     14.0,
		types.HospitalModelo:    5.0,
		types.HospitalSanRafael: 3.5,
	})
}

func TestRateFollowsHourShape(t *testing.T) {
	m := testModel()

	// A Monday in simulated time
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	night := m.Rate(types.HospitalCHUAC, day.Add(4*time.Hour))
	morning := m.Rate(types.HospitalCHUAC, day.Add(11*time.Hour))
	if night >= morning {
		t.Errorf("Expected 4am rate (%f) below 11am rate (%f)", night, morning)
	}
}

// TestShapeTablesNormalized pins the base-rate contract: configured rates
// are weekly averages, so both shape tables must average to 1.0.
func TestShapeTablesNormalized(t *testing.T) {
	var hours float64
	for _, v := range hourShape {
		hours += v
	}
	if mean := hours / 24; mean < 0.999 || mean > 1.001 {
		t.Errorf("Expected hour shape daily mean 1.0, got %f", mean)
	}

	var days float64
	for _, v := range weekdayShape {
		days += v
	}
	if mean := days / 7; mean < 0.999 || mean > 1.001 {
		t.Errorf("Expected weekday shape weekly mean 1.0, got %f", mean)
	}
}

func TestRateUnknownHospital(t *testing.T) {
	m := testModel()
	if got := m.Rate(types.HospitalID("NOWHERE"), time.Now()); got != 0 {
		t.Errorf("Expected zero rate for unknown hospital, got %f", got)
	}
}

func TestSetContextRejectsNegative(t *testing.T) {
	m := testModel()

	if err := m.SetContext(-1, 1, 1); err == nil {
		t.Error("Expected error for negative weather factor")
	}
	if err := m.SetContext(1, -0.5, 1); err == nil {
		t.Error("Expected error for negative holiday factor")
	}
	if err := m.SetContext(1.2, 1.0, 0.9); err != nil {
		t.Errorf("Expected valid context to be accepted, got %v", err)
	}

	w, h, e := m.Context()
	if w != 1.2 || h != 1.0 || e != 0.9 {
		t.Errorf("Expected context (1.2, 1.0, 0.9), got (%f, %f, %f)", w, h, e)
	}
}

func TestContextScalesRate(t *testing.T) {
	m := testModel()
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	base := m.Rate(types.HospitalModelo, at)
	if err := m.SetContext(2.0, 1.0, 1.0); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}
	doubled := m.Rate(types.HospitalModelo, at)

	if doubled < base*1.99 || doubled > base*2.01 {
		t.Errorf("Expected rate to double with weather factor 2, got %f vs %f", doubled, base)
	}
}

func TestBoostWindow(t *testing.T) {
	m := testModel()
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	base := m.Rate(types.HospitalCHUAC, at)
	m.AddBoost(types.HospitalCHUAC, Boost{
		ExtraPerHour: 10,
		From:         at.Add(-time.Hour),
		Until:        at.Add(time.Hour),
	})

	boosted := m.Rate(types.HospitalCHUAC, at)
	if boosted < base+9.99 {
		t.Errorf("Expected boost of 10/h inside window, got %f vs %f", boosted, base)
	}

	outside := m.Rate(types.HospitalCHUAC, at.Add(2*time.Hour))
	if outside >= base+10 {
		t.Errorf("Expected no boost outside window, got %f", outside)
	}

	// Boost applies to the affected hospital only
	other := m.Rate(types.HospitalModelo, at)
	if other > 10 {
		t.Errorf("Expected boost scoped to one hospital, Modelo rate %f", other)
	}
}

func TestRemoveExpiredBoosts(t *testing.T) {
	m := testModel()
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	m.AddBoost(types.HospitalCHUAC, Boost{ExtraPerHour: 10, From: at.Add(-2 * time.Hour), Until: at.Add(-time.Hour)})
	m.AddBoost(types.HospitalCHUAC, Boost{ExtraPerHour: 5, From: at.Add(-time.Hour), Until: at.Add(time.Hour)})
	m.RemoveExpiredBoosts(at)

	rate := m.Rate(types.HospitalCHUAC, at)
	base := testModel().Rate(types.HospitalCHUAC, at)
	if rate < base+4.99 || rate > base+5.01 {
		t.Errorf("Expected only the live boost (5/h) to survive, got %f vs base %f", rate, base)
	}
}

func TestNextArrivalDeterministic(t *testing.T) {
	m := testModel()
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	rngA := rand.New(rand.NewSource(99))
	rngB := rand.New(rand.NewSource(99))

	ta, tb := at, at
	for i := 0; i < 500; i++ {
		ta = m.NextArrival(rngA, types.HospitalCHUAC, ta)
		tb = m.NextArrival(rngB, types.HospitalCHUAC, tb)
		if !ta.Equal(tb) {
			t.Fatalf("Expected identical arrival %d under same seed, got %v and %v", i, ta, tb)
		}
		if !ta.After(at) {
			t.Fatalf("Expected arrivals to move forward, got %v from %v", ta, at)
		}
	}
}

func TestNextArrivalZeroRate(t *testing.T) {
	m := NewModel(map[types.HospitalID]float64{})
	rng := rand.New(rand.NewSource(1))
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	next := m.NextArrival(rng, types.HospitalCHUAC, at)
	if next.Sub(at) < time.Hour {
		t.Errorf("Expected zero-rate model to defer at least an hour, got %v", next.Sub(at))
	}
}
