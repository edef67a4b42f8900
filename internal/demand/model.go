package demand

import (
	"math/rand"
	"sync"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/errors"
	"github.com/coruna-salud/gemelo/internal/shared/types"
)

// hourShape is the relative arrival intensity per hour of day, normalized so
// the daily mean is 1.0. Quiet nights, a morning peak and a secondary
// evening peak, the usual urgent-care profile.
var hourShape = [24]float64{
	0.47, 0.37, 0.31, 0.29, 0.29, 0.37,
	0.57, 0.89, 1.25, 1.52, 1.62, 1.57,
	1.41, 1.31, 1.20, 1.15, 1.20, 1.36,
	1.52, 1.46, 1.31, 1.10, 0.84, 0.62,
}

// weekdayShape is the relative intensity per day of week (Sunday = 0),
// normalized so the weekly mean is 1.0. Mondays run hot; weekends slightly
// above midweek.
var weekdayShape = [7]float64{1.06, 1.15, 0.96, 0.92, 0.92, 0.97, 1.02}

// Boost is a time-bounded additive arrival-rate injection, used by active
// emergencies. Outside [From, Until) it contributes nothing.
type Boost struct {
	ExtraPerHour float64
	From         time.Time
	Until        time.Time
}

// Model computes the instantaneous arrival rate per hospital. Base pattern
// and capacity scaling are immutable after construction; context factors and
// emergency boosts change at runtime under the lock. Sampling uses the
// caller's RNG so each hospital loop stays deterministic on its own seed.
type Model struct {
	mu sync.RWMutex

	baseRate map[types.HospitalID]float64

	weather float64
	holiday float64
	event   float64

	boosts map[types.HospitalID][]Boost
}

// NewModel creates a demand model with the given per-hospital base rates
// (expected arrivals per hour averaged over the week).
func NewModel(baseRate map[types.HospitalID]float64) *Model {
	rates := make(map[types.HospitalID]float64, len(baseRate))
	for h, r := range baseRate {
		rates[h] = r
	}
	return &Model{
		baseRate: rates,
		weather:  1.0,
		holiday:  1.0,
		event:    1.0,
		boosts:   make(map[types.HospitalID][]Boost),
	}
}

// SetContext updates the external context factors. Each must be >= 0;
// providers that go silent should simply stop calling and leave the last
// value in place.
func (m *Model) SetContext(weather, holiday, event float64) error {
	if weather < 0 || holiday < 0 || event < 0 {
		return errors.Configf("context factors must be >= 0, got weather=%g holiday=%g event=%g",
			weather, holiday, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weather = weather
	m.holiday = holiday
	m.event = event
	return nil
}

// Context returns the current context factors
func (m *Model) Context() (weather, holiday, event float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weather, m.holiday, m.event
}

// AddBoost injects a time-bounded extra arrival rate for a hospital.
// Used by the coordinator when an emergency activates.
func (m *Model) AddBoost(h types.HospitalID, b Boost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boosts[h] = append(m.boosts[h], b)
}

// RemoveExpiredBoosts drops boosts whose window has passed
func (m *Model) RemoveExpiredBoosts(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, bs := range m.boosts {
		kept := bs[:0]
		for _, b := range bs {
			if b.Until.After(now) {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(m.boosts, h)
		} else {
			m.boosts[h] = kept
		}
	}
}

// Rate returns the instantaneous arrival rate (patients/hour) for a hospital
// at simulated time t.
func (m *Model) Rate(h types.HospitalID, t time.Time) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	base := m.baseRate[h]
	rate := base * hourShape[t.Hour()] * weekdayShape[int(t.Weekday())]
	rate *= m.weather * m.holiday * m.event

	for _, b := range m.boosts[h] {
		if !t.Before(b.From) && t.Before(b.Until) {
			rate += b.ExtraPerHour
		}
	}

	return rate
}

// NextArrival samples the next arrival time after t for hospital h using
// exponential inter-arrival times (Poisson process). A zero rate pushes the
// next check an hour out rather than stalling the arrival stream forever.
func (m *Model) NextArrival(rng *rand.Rand, h types.HospitalID, t time.Time) time.Time {
	rate := m.Rate(h, t)
	if rate <= 0 {
		return t.Add(time.Hour)
	}
	gap := rng.ExpFloat64() / rate // hours
	d := time.Duration(gap * float64(time.Hour))
	if d < time.Second {
		d = time.Second
	}
	return t.Add(d)
}
