package hospital

import (
	"fmt"

	"github.com/coruna-salud/gemelo/internal/shared/errors"
)

// ResourcePool tracks box and observation-bed occupancy for one hospital.
// All mutation happens inside the owning simulator's event loop, which makes
// the accounting lock-free by construction. A counter escaping its bounds is
// a bug, not an operating condition: the pool reports it as a fatal
// invariant violation instead of clamping.
type ResourcePool struct {
	boxesTotal          int
	boxesOccupied       int
	observationTotal    int
	observationOccupied int
}

// NewResourcePool creates a pool with the given capacities
func NewResourcePool(boxes, observationBeds int) (*ResourcePool, error) {
	if boxes <= 0 {
		return nil, errors.Configf("box capacity must be positive, got %d", boxes)
	}
	if observationBeds <= 0 {
		return nil, errors.Configf("observation capacity must be positive, got %d", observationBeds)
	}
	return &ResourcePool{boxesTotal: boxes, observationTotal: observationBeds}, nil
}

// AcquireBox takes a box if one is free
func (rp *ResourcePool) AcquireBox() bool {
	if rp.boxesOccupied >= rp.boxesTotal {
		return false
	}
	rp.boxesOccupied++
	return true
}

// ReleaseBox frees a box. Releasing an unoccupied box is an invariant
// violation.
func (rp *ResourcePool) ReleaseBox() error {
	if rp.boxesOccupied <= 0 {
		return errors.Invariant("box release with zero occupancy", rp.diagnostic())
	}
	rp.boxesOccupied--
	return nil
}

// AcquireObservation takes an observation bed if one is free
func (rp *ResourcePool) AcquireObservation() bool {
	if rp.observationOccupied >= rp.observationTotal {
		return false
	}
	rp.observationOccupied++
	return true
}

// ReleaseObservation frees an observation bed
func (rp *ResourcePool) ReleaseObservation() error {
	if rp.observationOccupied <= 0 {
		return errors.Invariant("observation release with zero occupancy", rp.diagnostic())
	}
	rp.observationOccupied--
	return nil
}

// Check validates the occupancy invariants, surfacing a diagnostic snapshot
// on violation.
func (rp *ResourcePool) Check() error {
	if rp.boxesOccupied < 0 || rp.boxesOccupied > rp.boxesTotal ||
		rp.observationOccupied < 0 || rp.observationOccupied > rp.observationTotal {
		return errors.Invariant("resource occupancy out of bounds", rp.diagnostic())
	}
	return nil
}

// BoxesOccupied returns the number of occupied boxes
func (rp *ResourcePool) BoxesOccupied() int { return rp.boxesOccupied }

// BoxesTotal returns the box capacity
func (rp *ResourcePool) BoxesTotal() int { return rp.boxesTotal }

// ObservationOccupied returns the number of occupied observation beds
func (rp *ResourcePool) ObservationOccupied() int { return rp.observationOccupied }

// ObservationTotal returns the observation capacity
func (rp *ResourcePool) ObservationTotal() int { return rp.observationTotal }

// FreeBoxes returns the number of free boxes
func (rp *ResourcePool) FreeBoxes() int { return rp.boxesTotal - rp.boxesOccupied }

// Saturation is occupied boxes over total boxes, the primary load signal.
// Always computed from the live counters, never cached.
func (rp *ResourcePool) Saturation() float64 {
	return float64(rp.boxesOccupied) / float64(rp.boxesTotal)
}

func (rp *ResourcePool) diagnostic() map[string]string {
	return map[string]string{
		"boxes_occupied":       fmt.Sprintf("%d", rp.boxesOccupied),
		"boxes_total":          fmt.Sprintf("%d", rp.boxesTotal),
		"observation_occupied": fmt.Sprintf("%d", rp.observationOccupied),
		"observation_total":    fmt.Sprintf("%d", rp.observationTotal),
	}
}
