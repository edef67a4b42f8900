package types

import "fmt"

// HospitalID identifies one of the three cooperating urgent-care hospitals.
// The set is closed: every component that fans out over hospitals iterates
// AllHospitals() instead of carrying free-form strings around.
type HospitalID string

const (
	HospitalCHUAC     HospitalID = "CHUAC"
	HospitalModelo    HospitalID = "MODELO"
	HospitalSanRafael HospitalID = "SAN_RAFAEL"
)

// AllHospitals returns the closed hospital set in a stable order.
func AllHospitals() []HospitalID {
	return []HospitalID{HospitalCHUAC, HospitalModelo, HospitalSanRafael}
}

// ParseHospitalID parses a string into a HospitalID
func ParseHospitalID(s string) (HospitalID, error) {
	h := HospitalID(s)
	if !h.Valid() {
		return "", fmt.Errorf("unknown hospital: %q", s)
	}
	return h, nil
}

// Valid reports whether the ID belongs to the closed set
func (h HospitalID) Valid() bool {
	switch h {
	case HospitalCHUAC, HospitalModelo, HospitalSanRafael:
		return true
	}
	return false
}

// String returns the string representation
func (h HospitalID) String() string {
	return string(h)
}

// DisplayName returns the full hospital name
func (h HospitalID) DisplayName() string {
	switch h {
	case HospitalCHUAC:
		return "Complexo Hospitalario Universitario A Coruña"
	case HospitalModelo:
		return "Hospital HM Modelo"
	case HospitalSanRafael:
		return "Hospital San Rafael"
	}
	return string(h)
}
