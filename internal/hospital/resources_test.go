package hospital

import (
	"errors"
	"testing"

	apperrors "github.com/coruna-salud/gemelo/internal/shared/errors"
)

func TestNewResourcePoolValidation(t *testing.T) {
	tests := []struct {
		name    string
		boxes   int
		beds    int
		wantErr bool
	}{
		{"valid", 10, 6, false},
		{"zero boxes", 0, 6, true},
		{"negative boxes", -1, 6, true},
		{"zero beds", 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResourcePool(tt.boxes, tt.beds)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, apperrors.ErrConfig) {
				t.Errorf("Expected config error class, got %v", err)
			}
		})
	}
}

func TestAcquireBoxBounds(t *testing.T) {
	pool, err := NewResourcePool(2, 1)
	if err != nil {
		t.Fatalf("NewResourcePool failed: %v", err)
	}

	if !pool.AcquireBox() || !pool.AcquireBox() {
		t.Fatal("Expected two acquisitions to succeed")
	}
	if pool.AcquireBox() {
		t.Error("Expected acquisition beyond capacity to fail")
	}
	if pool.BoxesOccupied() != 2 {
		t.Errorf("Expected 2 occupied after failed acquire, got %d", pool.BoxesOccupied())
	}
	if pool.FreeBoxes() != 0 {
		t.Errorf("Expected 0 free boxes, got %d", pool.FreeBoxes())
	}
}

func TestReleaseBoxAtZeroIsInvariantViolation(t *testing.T) {
	pool, _ := NewResourcePool(2, 1)

	err := pool.ReleaseBox()
	if err == nil {
		t.Fatal("Expected release at zero occupancy to fail")
	}
	if !errors.Is(err, apperrors.ErrResourceInvariant) {
		t.Errorf("Expected resource invariant class, got %v", err)
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatal("Expected an AppError with diagnostics")
	}
	if appErr.Details["boxes_occupied"] != "0" {
		t.Errorf("Expected diagnostic boxes_occupied=0, got %q", appErr.Details["boxes_occupied"])
	}
}

func TestObservationBounds(t *testing.T) {
	pool, _ := NewResourcePool(2, 1)

	if !pool.AcquireObservation() {
		t.Fatal("Expected first observation bed acquisition to succeed")
	}
	if pool.AcquireObservation() {
		t.Error("Expected acquisition beyond observation capacity to fail")
	}
	if err := pool.ReleaseObservation(); err != nil {
		t.Errorf("Expected release of occupied bed to succeed, got %v", err)
	}
	if err := pool.ReleaseObservation(); err == nil {
		t.Error("Expected release at zero occupancy to fail")
	}
}

func TestSaturation(t *testing.T) {
	pool, _ := NewResourcePool(4, 1)

	if got := pool.Saturation(); got != 0 {
		t.Errorf("Expected saturation 0, got %f", got)
	}
	pool.AcquireBox()
	pool.AcquireBox()
	pool.AcquireBox()
	if got := pool.Saturation(); got != 0.75 {
		t.Errorf("Expected saturation 0.75, got %f", got)
	}
}

func TestCheck(t *testing.T) {
	pool, _ := NewResourcePool(2, 1)
	if err := pool.Check(); err != nil {
		t.Errorf("Expected consistent pool to pass Check, got %v", err)
	}

	pool.boxesOccupied = 3
	if err := pool.Check(); err == nil {
		t.Error("Expected Check to catch occupancy above capacity")
	}
}
