package settlement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medref/medref/internal/domain/emergency"
)

const (
	PoolActive   = "ACTIVE"
	PoolInactive = "INACTIVE"

	PaymentReleased = "RELEASED"
	AMLCleared      = "CLEARED"
)

var (
	// ErrCaseNotFound is the emergency package's sentinel so either name
	// matches with errors.Is.
	ErrCaseNotFound      = emergency.ErrCaseNotFound
	ErrPoolUnavailable   = errors.New("destination country pool not available")
	ErrInsufficientFunds = errors.New("insufficient country pool balance")
	ErrAlreadySettled    = errors.New("emergency case already settled")
	ErrRecordNotFound    = errors.New("settlement record not found")
	ErrInvalidPool       = errors.New("invalid pool")
)

var hundred = decimal.NewFromInt(100)

// FX is the fixed demo conversion: every source amount is divided by Rate
// into the settlement currency and MarginRate of the result is kept.
type FX struct {
	Rate       decimal.Decimal
	MarginRate decimal.Decimal
	Currency   string
}

// Convert returns the pre-margin amount, the margin and the destination
// amount rounded to cents.
func (f FX) Convert(amount decimal.Decimal) (converted, margin, dest decimal.Decimal) {
	converted = amount.Div(f.Rate)
	margin = converted.Mul(f.MarginRate)
	dest = converted.Sub(margin).Round(2)
	return converted, margin, dest
}

// MarginPercent is MarginRate expressed in percent, e.g. 0.5 for 0.005.
func (f FX) MarginPercent() decimal.Decimal {
	return f.MarginRate.Mul(hundred)
}

// Quote previews a settlement without moving money.
type Quote struct {
	EmergencyID       uuid.UUID       `json:"emergency_id"`
	SenderHospital    string          `json:"sender_hospital"`
	ReceiverHospital  string          `json:"receiver_hospital"`
	DestinationPool   string          `json:"destination_pool"`
	SendingAmount     decimal.Decimal `json:"sending_amount"`
	SendingCurrency   string          `json:"sending_currency"`
	ReceivingAmount   decimal.Decimal `json:"receiving_amount"`
	ReceivingCurrency string          `json:"receiving_currency"`
	FXRate            decimal.Decimal `json:"fx_rate"`
	FXMarginPercent   decimal.Decimal `json:"fx_margin_percent"`
	Margin            decimal.Decimal `json:"margin"`
}

// Pool is a prefunded balance for one (country, currency) pair.
type Pool struct {
	ID              uuid.UUID       `json:"pool_id"`
	CountryCode     string          `json:"country_code"`
	CurrencyCode    string          `json:"currency_code"`
	TotalBalance    decimal.Decimal `json:"total_balance"`
	ReservedBalance decimal.Decimal `json:"reserved_balance"`
	Status          string          `json:"pool_status"`
	LastUpdatedAt   time.Time       `json:"last_updated_at"`
}

func (p *Pool) Available() decimal.Decimal {
	return p.TotalBalance.Sub(p.ReservedBalance)
}

// Record is the append-only audit row of one settlement.
type Record struct {
	ID                      uuid.UUID       `json:"payment_id"`
	EmergencyID             uuid.UUID       `json:"emergency_id"`
	PoolID                  uuid.UUID       `json:"pool_id"`
	SenderHospitalRefCode   string          `json:"sender_hospital_ref_code"`
	ReceiverHospitalRefCode string          `json:"receiver_hospital_ref_code"`
	SendingAmount           decimal.Decimal `json:"sending_amount"`
	SendingCurrency         string          `json:"sending_currency"`
	ReceivingAmount         decimal.Decimal `json:"receiving_amount"`
	ReceivingCurrency       string          `json:"receiving_currency"`
	FXRate                  decimal.Decimal `json:"fx_rate"`
	FXMarginPercent         decimal.Decimal `json:"fx_margin_percent"`
	PaymentStatus           string          `json:"payment_status"`
	AMLStatus               string          `json:"aml_status"`
	IsDemo                  bool            `json:"is_demo"`
	CreatedAt               time.Time       `json:"created_at"`
}
