package triage

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
)

// Level is a Manchester triage level: 1 (immediate) to 5 (non urgent).
type Level int

const (
	LevelImmediate  Level = 1
	LevelVeryUrgent Level = 2
	LevelUrgent     Level = 3
	LevelStandard   Level = 4
	LevelNonUrgent  Level = 5
)

// Valid reports whether the level is within the Manchester scale
func (l Level) Valid() bool {
	return l >= LevelImmediate && l <= LevelNonUrgent
}

func (l Level) String() string {
	return fmt.Sprintf("%d", int(l))
}

// Distribution holds the probability of each triage level, index 0 = level 1.
type Distribution [5]float64

// PopulationDistribution is the observed urgent-care case mix.
var PopulationDistribution = Distribution{0.001, 0.083, 0.179, 0.627, 0.110}

// Normalize scales the distribution to sum to 1
func (d Distribution) Normalize() Distribution {
	var sum float64
	for _, p := range d {
		sum += p
	}
	if sum <= 0 {
		return PopulationDistribution
	}
	for i := range d {
		d[i] /= sum
	}
	return d
}

// maxWaits bounds acceptable wait per level (Manchester targets).
var maxWaits = [5]time.Duration{
	0,
	10 * time.Minute,
	60 * time.Minute,
	120 * time.Minute,
	240 * time.Minute,
}

// meanServiceTimes is the nominal box time per level. Sicker patients hold
// the box longer.
var meanServiceTimes = [5]time.Duration{
	75 * time.Minute,
	50 * time.Minute,
	35 * time.Minute,
	20 * time.Minute,
	12 * time.Minute,
}

// observationProbs is the probability a patient moves to observation after
// attention instead of being discharged, per level.
var observationProbs = [5]float64{0.60, 0.35, 0.15, 0.05, 0.01}

// Classifier assigns Manchester levels and associated timing distributions.
// Sampling is deterministic given the caller's seeded RNG; an active
// emergency may override the level distribution per hospital.
type Classifier struct {
	mu        sync.RWMutex
	base      Distribution
	overrides map[types.HospitalID]Distribution

	// TriageMeanDuration is the mean triage assessment duration
	TriageMeanDuration time.Duration
}

// NewClassifier creates a classifier over the population distribution
func NewClassifier() *Classifier {
	return &Classifier{
		base:               PopulationDistribution.Normalize(),
		overrides:          make(map[types.HospitalID]Distribution),
		TriageMeanDuration: 4 * time.Minute,
	}
}

// SetOverride installs an emergency triage-distribution override for a
// hospital. Cleared when the emergency resolves.
func (c *Classifier) SetOverride(h types.HospitalID, d Distribution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[h] = d.Normalize()
}

// ClearOverride removes a hospital's override
func (c *Classifier) ClearOverride(h types.HospitalID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, h)
}

// Classify samples a triage level for a patient arriving at hospital h
func (c *Classifier) Classify(rng *rand.Rand, h types.HospitalID) Level {
	c.mu.RLock()
	dist, ok := c.overrides[h]
	if !ok {
		dist = c.base
	}
	c.mu.RUnlock()

	r := rng.Float64()
	cum := 0.0
	for i, p := range dist {
		cum += p
		if r <= cum {
			return Level(i + 1)
		}
	}
	return LevelNonUrgent
}

// TriageDuration samples the triage assessment duration
func (c *Classifier) TriageDuration(rng *rand.Rand) time.Duration {
	// Exponential around the mean, clamped to a sane band
	d := time.Duration(rng.ExpFloat64() * float64(c.TriageMeanDuration))
	if d < time.Minute {
		d = time.Minute
	}
	if d > 15*time.Minute {
		d = 15 * time.Minute
	}
	return d
}

// ServiceTime samples the attention duration for a level
func (c *Classifier) ServiceTime(rng *rand.Rand, level Level) time.Duration {
	mean := meanServiceTimes[level-1]
	d := time.Duration(rng.ExpFloat64() * float64(mean))
	if d < 5*time.Minute {
		d = 5 * time.Minute
	}
	if d > 4*mean {
		d = 4 * mean
	}
	return d
}

// ObservationDuration samples the observation stay length
func (c *Classifier) ObservationDuration(rng *rand.Rand) time.Duration {
	d := time.Duration(rng.ExpFloat64() * float64(4*time.Hour))
	if d < 30*time.Minute {
		d = 30 * time.Minute
	}
	if d > 12*time.Hour {
		d = 12 * time.Hour
	}
	return d
}

// NeedsObservation samples the post-attention outcome for a level
func (c *Classifier) NeedsObservation(rng *rand.Rand, level Level) bool {
	return rng.Float64() < observationProbs[level-1]
}

// MaxWait returns the maximum acceptable wait for a level
func MaxWait(level Level) time.Duration {
	return maxWaits[level-1]
}
