package triage

import (
	"math/rand"
	"testing"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
)

func TestLevelValid(t *testing.T) {
	tests := []struct {
		level    Level
		expected bool
	}{
		{LevelImmediate, true},
		{LevelVeryUrgent, true},
		{LevelUrgent, true},
		{LevelStandard, true},
		{LevelNonUrgent, true},
		{Level(0), false},
		{Level(6), false},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if tt.level.Valid() != tt.expected {
				t.Errorf("Expected Valid()=%v for level %d", tt.expected, tt.level)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier()

	rngA := rand.New(rand.NewSource(42))
	rngB := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		a := c.Classify(rngA, types.HospitalCHUAC)
		b := c.Classify(rngB, types.HospitalCHUAC)
		if a != b {
			t.Fatalf("Expected identical draw %d under same seed, got %d and %d", i, a, b)
		}
	}
}

func TestClassifyMatchesPopulationDistribution(t *testing.T) {
	c := NewClassifier()
	rng := rand.New(rand.NewSource(7))

	const n = 100000
	counts := make(map[Level]int)
	for i := 0; i < n; i++ {
		counts[c.Classify(rng, types.HospitalModelo)]++
	}

	for i, want := range PopulationDistribution {
		level := Level(i + 1)
		got := float64(counts[level]) / n
		if got < want-0.01 || got > want+0.01 {
			t.Errorf("Expected level %d share near %.3f, got %.3f", level, want, got)
		}
	}
}

func TestClassifyOverride(t *testing.T) {
	c := NewClassifier()
	rng := rand.New(rand.NewSource(3))

	// Everything becomes level 1 under a degenerate override
	c.SetOverride(types.HospitalCHUAC, Distribution{1, 0, 0, 0, 0})
	for i := 0; i < 100; i++ {
		if got := c.Classify(rng, types.HospitalCHUAC); got != LevelImmediate {
			t.Fatalf("Expected level 1 under override, got %d", got)
		}
	}

	// Other hospitals keep the population distribution
	sawOther := false
	for i := 0; i < 1000; i++ {
		if c.Classify(rng, types.HospitalSanRafael) != LevelImmediate {
			sawOther = true
			break
		}
	}
	if !sawOther {
		t.Error("Expected override to be scoped to one hospital")
	}

	c.ClearOverride(types.HospitalCHUAC)
	sawOther = false
	for i := 0; i < 1000; i++ {
		if c.Classify(rng, types.HospitalCHUAC) != LevelImmediate {
			sawOther = true
			break
		}
	}
	if !sawOther {
		t.Error("Expected population distribution after ClearOverride")
	}
}

func TestServiceTimeBounds(t *testing.T) {
	c := NewClassifier()
	rng := rand.New(rand.NewSource(11))

	for level := LevelImmediate; level <= LevelNonUrgent; level++ {
		mean := meanServiceTimes[level-1]
		for i := 0; i < 1000; i++ {
			d := c.ServiceTime(rng, level)
			if d < 5*time.Minute {
				t.Fatalf("Expected service time >= 5m for level %d, got %v", level, d)
			}
			if d > 4*mean {
				t.Fatalf("Expected service time <= %v for level %d, got %v", 4*mean, level, d)
			}
		}
	}
}

func TestTriageDurationBounds(t *testing.T) {
	c := NewClassifier()
	rng := rand.New(rand.NewSource(13))

	for i := 0; i < 1000; i++ {
		d := c.TriageDuration(rng)
		if d < time.Minute || d > 15*time.Minute {
			t.Fatalf("Expected triage duration in [1m, 15m], got %v", d)
		}
	}
}

func TestMaxWait(t *testing.T) {
	tests := []struct {
		level    Level
		expected time.Duration
	}{
		{LevelImmediate, 0},
		{LevelVeryUrgent, 10 * time.Minute},
		{LevelUrgent, 60 * time.Minute},
		{LevelStandard, 120 * time.Minute},
		{LevelNonUrgent, 240 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := MaxWait(tt.level); got != tt.expected {
				t.Errorf("Expected max wait %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDistributionNormalize(t *testing.T) {
	d := Distribution{2, 2, 2, 2, 2}.Normalize()
	sum := 0.0
	for _, v := range d {
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("Expected normalized weights to sum to 1, got %f", sum)
	}
	if d[0] != 0.2 {
		t.Errorf("Expected uniform share 0.2, got %f", d[0])
	}
}
