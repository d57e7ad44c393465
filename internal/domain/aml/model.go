// Package aml builds the anti-money-laundering dashboard: per-hospital
// activity profiles over all emergency cases and the alerts raised by a
// fixed set of rules.
package aml

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RuleNewHospitalHighActivity = "NEW_HOSPITAL_HIGH_ACTIVITY"
	RuleHighAverageCost         = "HIGH_AVERAGE_COST"
	RuleHighReceivingVolume     = "HIGH_RECEIVING_VOLUME"
	RuleLifeThreateningOveruse  = "LIFE_THREATENING_OVERUSE"
)

// Thresholds. A rule fires when the measure is strictly greater (or, for
// age, strictly less).
const (
	newHospitalMaxAgeMonths   = 6
	newHospitalMaxSent        = 5
	maxReceived               = 20
	maxLifeThreateningPerHosp = 10
)

var maxAverageCost = decimal.NewFromInt(1_000_000)

// HospitalMeta is the hospital data the rules need.
type HospitalMeta struct {
	RefCode    string     `json:"hospital_ref_code"`
	Name       string     `json:"hospital_name"`
	Country    string     `json:"country"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AgeMonths counts whole 30-day months since the hospital was created.
func (h HospitalMeta) AgeMonths(now time.Time) int {
	return int(now.Sub(h.CreatedAt).Hours() / 24 / 30)
}

// Profile aggregates one hospital's cases. Amounts are summed as recorded,
// regardless of currency.
type Profile struct {
	SentCount           int             `json:"sentCount"`
	ReceivedCount       int             `json:"receivedCount"`
	TotalSentAmount     decimal.Decimal `json:"totalSentAmount"`
	TotalReceivedAmount decimal.Decimal `json:"totalReceivedAmount"`
}

// AverageSent is TotalSentAmount over SentCount, or zero with nothing sent.
func (p *Profile) AverageSent() decimal.Decimal {
	if p.SentCount == 0 {
		return decimal.Zero
	}
	return p.TotalSentAmount.Div(decimal.NewFromInt(int64(p.SentCount)))
}

type Alert struct {
	HospitalRefCode string `json:"hospital_ref_code"`
	Rule            string `json:"rule"`
	Message         string `json:"message"`
	Count           int    `json:"count,omitempty"`
}

type Dashboard struct {
	GeneratedAt         time.Time           `json:"generatedAt"`
	TotalEmergencyCases int                 `json:"totalEmergencyCases"`
	HospitalProfiles    map[string]*Profile `json:"hospitalProfiles"`
	Alerts              []Alert             `json:"amlAlerts"`
}
