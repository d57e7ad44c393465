package hospital

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", ErrInvalidStatus
}

var (
	ErrNotFoundOrAlreadyProcessed = errors.New("request not found or already processed")
	ErrAllocationExhausted        = errors.New("failed to generate unique hospital reference code")
	// ErrDuplicateRefCode is returned by HospitalRepository.Insert when the
	// reference code is already taken. The allocator retries on it.
	ErrDuplicateRefCode = errors.New("hospital reference code already exists")

	ErrValidation                = errors.New("validation failed")
	ErrInvalidStatus             = errors.New("invalid request status")
	ErrCertificateRequired       = errors.New("registration certificate is required")
	ErrPendingEmail              = errors.New("a pending request with this email already exists")
	ErrAlreadyRegistered         = errors.New("this hospital is already registered")
	ErrPendingRegistrationNumber = errors.New("a pending request with this registration number already exists")
	ErrPhoneRegistered           = errors.New("this hospital phone number is already registered")
	ErrConsentRequired           = errors.New("consent is mandatory")

	ErrHospitalNotFound = errors.New("hospital not found")
	ErrAccountExists    = errors.New("settlement account already exists for this hospital")
	ErrAccountNotFound  = errors.New("settlement account not found")
	ErrAccountVerified  = errors.New("verified account cannot be modified, contact admin")
	ErrNoFieldsToUpdate = errors.New("no fields provided to update")
)

// Request is a hospital registration awaiting review. It changes state
// exactly once, from pending to approved or rejected.
type Request struct {
	ID                         uuid.UUID     `json:"id"`
	HospitalName               string        `json:"hospital_name"`
	HospitalType               string        `json:"hospital_type"`
	OwnershipType              string        `json:"ownership_type"`
	Country                    string        `json:"country"`
	State                      string        `json:"state"`
	City                       string        `json:"city"`
	PostalCode                 *string       `json:"postal_code,omitempty"`
	Address                    string        `json:"address"`
	OfficialEmail              string        `json:"official_email"`
	OfficialPhone              string        `json:"official_phone"`
	Website                    *string       `json:"website,omitempty"`
	RegistrationNumber         string        `json:"registration_number"`
	AdminName                  string        `json:"admin_name"`
	AdminContact               string        `json:"admin_contact"`
	ConsentGiven               bool          `json:"consent_given"`
	RequestStatus              RequestStatus `json:"request_status"`
	RegistrationCertificateURL *string       `json:"registration_certificate_url,omitempty"`
	ReviewedBy                 *string       `json:"reviewed_by,omitempty"`
	ReviewedAt                 *time.Time    `json:"reviewed_at,omitempty"`
	CreatedAt                  time.Time     `json:"created_at"`
}

func (r *Request) validate() error {
	required := []struct{ field, value string }{
		{"hospital_name", r.HospitalName},
		{"country", r.Country},
		{"city", r.City},
		{"address", r.Address},
		{"official_email", r.OfficialEmail},
		{"official_phone", r.OfficialPhone},
		{"registration_number", r.RegistrationNumber},
		{"admin_name", r.AdminName},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, f.field)
		}
	}
	if !strings.Contains(r.OfficialEmail, "@") {
		return fmt.Errorf("%w: official_email is invalid", ErrValidation)
	}
	return nil
}

// Hospital is a verified hospital. It only comes into existence by approving
// a Request, whose identity fields it copies.
type Hospital struct {
	ID                         uuid.UUID `json:"id"`
	HospitalRefCode            string    `json:"hospital_ref_code"`
	HospitalName               string    `json:"hospital_name"`
	HospitalType               string    `json:"hospital_type"`
	OwnershipType              string    `json:"ownership_type"`
	Country                    string    `json:"country"`
	State                      string    `json:"state"`
	City                       string    `json:"city"`
	PostalCode                 *string   `json:"postal_code,omitempty"`
	Address                    string    `json:"address"`
	OfficialEmail              string    `json:"official_email"`
	OfficialPhone              string    `json:"official_phone"`
	Website                    *string   `json:"website,omitempty"`
	RegistrationNumber         string    `json:"registration_number"`
	RegistrationCertificateURL *string   `json:"registration_certificate_url,omitempty"`
	AdminName                  string    `json:"admin_name"`
	AdminContact               string    `json:"admin_contact"`
	AuthUserID                 *string   `json:"auth_user_id,omitempty"`
	VerifiedBy                 string    `json:"verified_by"`
	VerifiedAt                 time.Time `json:"verified_at"`
	CreatedAt                  time.Time `json:"created_at"`
}

func newHospitalFromRequest(req *Request, reviewerID, refCode string, at time.Time) *Hospital {
	return &Hospital{
		ID:                         uuid.New(),
		HospitalRefCode:            refCode,
		HospitalName:               req.HospitalName,
		HospitalType:               req.HospitalType,
		OwnershipType:              req.OwnershipType,
		Country:                    req.Country,
		State:                      req.State,
		City:                       req.City,
		PostalCode:                 req.PostalCode,
		Address:                    req.Address,
		OfficialEmail:              req.OfficialEmail,
		OfficialPhone:              req.OfficialPhone,
		Website:                    req.Website,
		RegistrationNumber:         req.RegistrationNumber,
		RegistrationCertificateURL: req.RegistrationCertificateURL,
		AdminName:                  req.AdminName,
		AdminContact:               req.AdminContact,
		VerifiedBy:                 reviewerID,
		VerifiedAt:                 at,
		CreatedAt:                  at,
	}
}

// ReferenceCode builds {COUNTRY}-{CITY3}-{NAME3}-{SEQ2}. City and name keep
// letters only and are cut to three uppercase characters; seq is zero-padded
// to two digits and grows past 99 unpadded.
func ReferenceCode(country, city, name string, seq int) string {
	return fmt.Sprintf("%s-%s-%s-%02d",
		strings.ToUpper(strings.TrimSpace(country)), letterPrefix(city, 3), letterPrefix(name, 3), seq)
}

func letterPrefix(s string, n int) string {
	var b strings.Builder
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() == n {
			break
		}
	}
	return b.String()
}

// PendingView is a pending request with a short-lived link to its
// certificate. CertificateViewURL is nil when no link could be signed.
type PendingView struct {
	ID                         uuid.UUID `json:"id"`
	HospitalName               string    `json:"hospital_name"`
	RegistrationCertificateURL *string   `json:"registration_certificate_url"`
	CertificateViewURL         *string   `json:"certificate_view_url"`
	CreatedAt                  time.Time `json:"created_at"`
}

const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
)

// SettlementAccount is the bank account a hospital is paid into.
type SettlementAccount struct {
	ID                 uuid.UUID `json:"id"`
	HospitalID         uuid.UUID `json:"hospital_id"`
	AccountHolderName  string    `json:"account_holder_name"`
	BankName           string    `json:"bank_name"`
	AccountNumber      string    `json:"account_number"`
	Currency           string    `json:"currency"`
	Country            string    `json:"country"`
	IFSCCode           *string   `json:"ifsc_code,omitempty"`
	SwiftCode          *string   `json:"swift_code,omitempty"`
	IBAN               *string   `json:"iban,omitempty"`
	VerificationStatus string    `json:"verification_status"`
	IsPrimary          bool      `json:"is_primary"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (a *SettlementAccount) validate() error {
	if a.AccountHolderName == "" || a.BankName == "" || a.AccountNumber == "" || a.Currency == "" || a.Country == "" {
		return fmt.Errorf("%w: required bank account details are missing", ErrValidation)
	}
	return nil
}

// AccountPatch holds the fields of a partial settlement account update; nil
// means unchanged.
type AccountPatch struct {
	AccountHolderName *string `json:"account_holder_name"`
	BankName          *string `json:"bank_name"`
	AccountNumber     *string `json:"account_number"`
	Currency          *string `json:"currency"`
	Country           *string `json:"country"`
	IFSCCode          *string `json:"ifsc_code"`
	SwiftCode         *string `json:"swift_code"`
	IBAN              *string `json:"iban"`
}

func (p AccountPatch) IsEmpty() bool {
	return p.AccountHolderName == nil && p.BankName == nil && p.AccountNumber == nil &&
		p.Currency == nil && p.Country == nil && p.IFSCCode == nil && p.SwiftCode == nil && p.IBAN == nil
}

// Apply copies the set fields onto a.
func (p AccountPatch) Apply(a *SettlementAccount) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&a.AccountHolderName, p.AccountHolderName)
	set(&a.BankName, p.BankName)
	set(&a.AccountNumber, p.AccountNumber)
	set(&a.Currency, p.Currency)
	set(&a.Country, p.Country)
	if p.IFSCCode != nil {
		a.IFSCCode = p.IFSCCode
	}
	if p.SwiftCode != nil {
		a.SwiftCode = p.SwiftCode
	}
	if p.IBAN != nil {
		a.IBAN = p.IBAN
	}
}
