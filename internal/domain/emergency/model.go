package emergency

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a referral.
type Status string

const (
	StatusWaitingForHospital Status = "WAITING_FOR_HOSPITAL"
	StatusAccepted           Status = "ACCEPTED"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
)

// OpenStatuses are the states a destination hospital still has to act on.
var OpenStatuses = []Status{StatusWaitingForHospital, StatusAccepted, StatusInProgress}

// MaxReceived caps the received-cases view.
const MaxReceived = 50

var (
	ErrCaseNotFound    = errors.New("emergency case not found")
	ErrConsentRequired = errors.New("emergency override consent is mandatory")
	ErrSameCountry     = errors.New("source and destination country must be different")
	ErrNoHospital      = errors.New("caller is not bound to a hospital")
	ErrValidation      = errors.New("validation failed")
)

// Case is a cross-border emergency referral from a source hospital to a
// destination hospital in another country.
type Case struct {
	ID                          uuid.UUID       `json:"emergency_id"`
	Status                      Status          `json:"status"`
	SourceHospitalRefCode       string          `json:"source_hospital_ref_code"`
	SourceCountry               string          `json:"source_country"`
	DestinationHospitalRefCode  string          `json:"destination_hospital_ref_code"`
	DestinationCountry          string          `json:"destination_country"`
	PatientAge                  *int            `json:"patient_age"`
	PatientGender               *string         `json:"patient_gender,omitempty"`
	PatientNationality          *string         `json:"patient_nationality,omitempty"`
	PrimaryDiagnosisCode        *string         `json:"primary_diagnosis_code,omitempty"`
	DiagnosisCodeSystem         *string         `json:"diagnosis_code_system,omitempty"`
	LifeThreatening             bool            `json:"life_threatening"`
	UrgencyLevel                *string         `json:"urgency_level,omitempty"`
	TreatmentComplexity         *string         `json:"treatment_complexity,omitempty"`
	ConsciousnessStatus         *string         `json:"consciousness_status,omitempty"`
	AirwayStatus                *string         `json:"airway_status,omitempty"`
	BreathingStatus             *string         `json:"breathing_status,omitempty"`
	CirculationStatus           *string         `json:"circulation_status,omitempty"`
	PrimaryProcedureCode        *string         `json:"primary_procedure_code,omitempty"`
	ProcedureCodeSystem         *string         `json:"procedure_code_system,omitempty"`
	RequiredSpecialty           *string         `json:"required_specialty,omitempty"`
	EstimatedTreatmentCost      decimal.Decimal `json:"estimated_treatment_cost"`
	Currency                    string          `json:"currency"`
	AutomationJustificationCode *string         `json:"automation_justification_code,omitempty"`
	EmergencyOverrideConsent    bool            `json:"emergency_override_consent"`
	ConsentReason               *string         `json:"consent_reason,omitempty"`
	CreatedBy                   *string         `json:"created_by,omitempty"`
	CreatedAt                   time.Time       `json:"created_at"`
}

// normalize upper-cases country and currency codes.
func (c *Case) normalize() {
	c.SourceCountry = strings.ToUpper(strings.TrimSpace(c.SourceCountry))
	c.DestinationCountry = strings.ToUpper(strings.TrimSpace(c.DestinationCountry))
	c.DestinationHospitalRefCode = strings.TrimSpace(c.DestinationHospitalRefCode)
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
}

func (c *Case) validate() error {
	if !c.EmergencyOverrideConsent {
		return ErrConsentRequired
	}
	if c.SourceCountry == "" || c.DestinationCountry == "" {
		return fmt.Errorf("%w: source_country and destination_country are required", ErrValidation)
	}
	if c.SourceCountry == c.DestinationCountry {
		return ErrSameCountry
	}
	switch {
	case c.DestinationHospitalRefCode == "":
		return fmt.Errorf("%w: destination_hospital_ref_code is required", ErrValidation)
	case c.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrValidation)
	case !c.EstimatedTreatmentCost.IsPositive():
		return fmt.Errorf("%w: estimated_treatment_cost must be positive", ErrValidation)
	case c.PatientAge == nil:
		return fmt.Errorf("%w: patient_age is required", ErrValidation)
	case *c.PatientAge < 0 || *c.PatientAge > 150:
		return fmt.Errorf("%w: patient_age out of range", ErrValidation)
	}
	return nil
}

// involves reports whether refCode is the source or destination hospital.
func (c *Case) involves(refCode string) bool {
	return c.SourceHospitalRefCode == refCode || c.DestinationHospitalRefCode == refCode
}
