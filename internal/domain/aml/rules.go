package aml

import (
	"sort"
	"time"

	"github.com/medref/medref/internal/domain/emergency"
)

func BuildProfiles(cases []*emergency.Case) map[string]*Profile {
	profiles := make(map[string]*Profile)
	get := func(ref string) *Profile {
		p, ok := profiles[ref]
		if !ok {
			p = &Profile{}
			profiles[ref] = p
		}
		return p
	}
	for _, c := range cases {
		sender := get(c.SourceHospitalRefCode)
		sender.SentCount++
		sender.TotalSentAmount = sender.TotalSentAmount.Add(c.EstimatedTreatmentCost)

		receiver := get(c.DestinationHospitalRefCode)
		receiver.ReceivedCount++
		receiver.TotalReceivedAmount = receiver.TotalReceivedAmount.Add(c.EstimatedTreatmentCost)
	}
	return profiles
}

// ApplyRules evaluates the profile rules. Profiles of hospitals missing from
// hospitals are skipped.
func ApplyRules(profiles map[string]*Profile, hospitals map[string]HospitalMeta, now time.Time) []Alert {
	var alerts []Alert
	for _, ref := range sortedKeys(profiles) {
		p := profiles[ref]
		h, ok := hospitals[ref]
		if !ok {
			continue
		}
		if h.AgeMonths(now) < newHospitalMaxAgeMonths && p.SentCount > newHospitalMaxSent {
			alerts = append(alerts, Alert{
				HospitalRefCode: ref,
				Rule:            RuleNewHospitalHighActivity,
				Message:         "New hospital sending unusually high number of emergency cases",
			})
		}
		if p.AverageSent().GreaterThan(maxAverageCost) {
			alerts = append(alerts, Alert{
				HospitalRefCode: ref,
				Rule:            RuleHighAverageCost,
				Message:         "Average emergency treatment cost unusually high",
			})
		}
		if p.ReceivedCount > maxReceived {
			alerts = append(alerts, Alert{
				HospitalRefCode: ref,
				Rule:            RuleHighReceivingVolume,
				Message:         "Hospital receiving unusually high number of emergency cases",
			})
		}
	}
	return alerts
}

// DetectLifeThreateningOveruse flags source hospitals that marked more than
// ten cases life-threatening.
func DetectLifeThreateningOveruse(cases []*emergency.Case) []Alert {
	counts := make(map[string]int)
	for _, c := range cases {
		if c.LifeThreatening {
			counts[c.SourceHospitalRefCode]++
		}
	}
	var alerts []Alert
	for _, ref := range sortedKeys(counts) {
		if n := counts[ref]; n > maxLifeThreateningPerHosp {
			alerts = append(alerts, Alert{
				HospitalRefCode: ref,
				Rule:            RuleLifeThreateningOveruse,
				Message:         "Excessive use of life-threatening flag",
				Count:           n,
			})
		}
	}
	return alerts
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
