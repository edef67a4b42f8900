package staffing

import (
	"sync"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/types"
)

// StaticProvider serves on-duty counts from an in-memory roster table.
// It backs tests and offline runs, and doubles as the cache the HR adapter
// refreshes from the external system.
type StaticProvider struct {
	mu     sync.RWMutex
	roster map[types.HospitalID]map[Shift]Counts
}

// NewStaticProvider creates a provider with the given roster table
func NewStaticProvider(roster map[types.HospitalID]map[Shift]Counts) *StaticProvider {
	if roster == nil {
		roster = make(map[types.HospitalID]map[Shift]Counts)
	}
	return &StaticProvider{roster: roster}
}

// DefaultRoster returns a plausible three-shift roster scaled to each
// hospital's nominal staffing level.
func DefaultRoster(nominal map[types.HospitalID]int) map[types.HospitalID]map[Shift]Counts {
	roster := make(map[types.HospitalID]map[Shift]Counts, len(nominal))
	for h, n := range nominal {
		physicians := n / 3
		if physicians < 1 {
			physicians = 1
		}
		nurses := n - physicians - n/6
		if nurses < 1 {
			nurses = 1
		}
		aux := n - physicians - nurses
		if aux < 1 {
			aux = 1
		}
		full := Counts{Physicians: physicians, Nurses: nurses, Auxiliaries: aux}
		night := Counts{
			Physicians:  max(1, physicians/2),
			Nurses:      max(1, nurses/2),
			Auxiliaries: max(1, aux/2),
		}
		roster[h] = map[Shift]Counts{
			ShiftMorning:   full,
			ShiftAfternoon: full,
			ShiftNight:     night,
		}
	}
	return roster
}

// OnDuty returns the on-duty counts for a hospital at a simulated time
func (p *StaticProvider) OnDuty(h types.HospitalID, at time.Time) Counts {
	p.mu.RLock()
	defer p.mu.RUnlock()

	shifts, ok := p.roster[h]
	if !ok {
		return Counts{}
	}
	return shifts[ShiftAt(at)]
}

// Update replaces the counts for one hospital/shift. Used by the HR adapter
// when a fresh poll lands.
func (p *StaticProvider) Update(h types.HospitalID, shift Shift, counts Counts) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.roster[h] == nil {
		p.roster[h] = make(map[Shift]Counts)
	}
	p.roster[h][shift] = counts
}

var _ Provider = (*StaticProvider)(nil)
