package identity

import "errors"

// Kind is the caller's role inside the referral network.
type Kind string

const (
	KindDoctor        Kind = "DOCTOR"
	KindHospitalAdmin Kind = "HOSPITAL_ADMIN"
	KindUnrecognized  Kind = "UNRECOGNIZED"
)

// ErrUnrecognized is returned when an authenticated user is neither a doctor
// nor a hospital admin.
var ErrUnrecognized = errors.New("user role not registered")

// Identity is the resolved caller. Which fields are set depends on Kind: a
// doctor carries DoctorID and, when actively affiliated, the hospital fields;
// a hospital admin carries the hospital fields only.
type Identity struct {
	Kind            Kind   `json:"type"`
	AuthUserID      string `json:"auth_user_id"`
	DoctorID        string `json:"doctor_id,omitempty"`
	HospitalID      string `json:"hospital_id,omitempty"`
	HospitalRefCode string `json:"hospital_ref_code,omitempty"`
	Country         string `json:"country,omitempty"`
}

// Unrecognized returns the identity of a user with no registered role.
func Unrecognized(authUserID string) Identity {
	return Identity{Kind: KindUnrecognized, AuthUserID: authUserID}
}

func (i Identity) Is(kinds ...Kind) bool {
	for _, k := range kinds {
		if i.Kind == k {
			return true
		}
	}
	return false
}

// HasHospital reports whether the identity is bound to a hospital.
func (i Identity) HasHospital() bool {
	return i.HospitalRefCode != ""
}
