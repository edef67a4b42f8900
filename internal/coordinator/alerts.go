package coordinator

import (
	"fmt"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/coruna-salud/gemelo/internal/shared/metrics"
	"github.com/coruna-salud/gemelo/internal/shared/types"
)

// alertTracker maintains per-hospital alert state with hysteresis: an alert
// raises when saturation crosses its threshold and clears only when it drops
// below threshold minus the hysteresis margin, so a hospital hovering at the
// boundary does not flap.
type alertTracker struct {
	cfg    config.CoordinatorConfig
	levels map[types.HospitalID]AlertLevel
	active map[types.HospitalID]Alert
}

func newAlertTracker(cfg config.CoordinatorConfig) *alertTracker {
	return &alertTracker{
		cfg:    cfg,
		levels: make(map[types.HospitalID]AlertLevel),
		active: make(map[types.HospitalID]Alert),
	}
}

// evaluate updates one hospital's alert state and returns the transitions
// (raised or cleared alerts) this evaluation produced.
func (t *alertTracker) evaluate(h types.HospitalID, saturation float64, stale bool, now time.Time) []transition {
	var out []transition
	current := t.levels[h]

	target := t.targetLevel(current, saturation)
	if target == current {
		// Keep the stored alert fresh for API readers
		if current != "" {
			a := t.active[h]
			a.Saturation = saturation
			a.Stale = stale
			a.At = now
			t.active[h] = a
		}
		return nil
	}

	if current != "" {
		out = append(out, transition{alert: t.active[h], cleared: true})
		metrics.RecordAlertTransition(h.String(), string(current), "cleared")
		delete(t.active, h)
	}
	if target != "" {
		alert := Alert{
			Hospital:   h,
			Level:      target,
			Message:    fmt.Sprintf("%s saturation at %.0f%%", h, saturation*100),
			Saturation: saturation,
			Stale:      stale,
			At:         now,
		}
		t.active[h] = alert
		out = append(out, transition{alert: alert})
		metrics.RecordAlertTransition(h.String(), string(target), "raised")
	}

	t.levels[h] = target
	return out
}

// targetLevel applies the thresholds with hysteresis
func (t *alertTracker) targetLevel(current AlertLevel, saturation float64) AlertLevel {
	warn := t.cfg.WarningThreshold
	crit := t.cfg.CriticalThreshold
	hyst := t.cfg.AlertHysteresis

	switch current {
	case AlertCritical:
		if saturation >= crit-hyst {
			return AlertCritical
		}
		if saturation >= warn {
			return AlertWarning
		}
		if saturation >= warn-hyst {
			// Dropping out of critical but inside the warning band
			return AlertWarning
		}
		return ""
	case AlertWarning:
		if saturation >= crit {
			return AlertCritical
		}
		if saturation >= warn-hyst {
			return AlertWarning
		}
		return ""
	default:
		if saturation >= crit {
			return AlertCritical
		}
		if saturation >= warn {
			return AlertWarning
		}
		return ""
	}
}

// transition is one raised or cleared alert
type transition struct {
	alert   Alert
	cleared bool
}

// activeAlerts returns a copy of the currently active alerts
func (t *alertTracker) activeAlerts() []Alert {
	out := make([]Alert, 0, len(t.active))
	for _, h := range types.AllHospitals() {
		if a, ok := t.active[h]; ok {
			out = append(out, a)
		}
	}
	return out
}
