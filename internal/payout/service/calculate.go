package service

import (
	"github.com/smallbiznis/drawline/internal/config"
)

type breakdown struct {
	gross         int64
	commissionBps int64
	commission    int64
	providerFees  int64
	net           int64
}

// calculate splits gross into commission, provider fees and the organizer
// net. Commission rounds half up; net never goes below zero.
func calculate(policy config.PolicyConfig, gross, providerFees int64) breakdown {
	if gross < 0 {
		gross = 0
	}
	bps := policy.CommissionBasisPoints(gross)
	commission := (gross*bps + 5000) / 10000
	net := gross - commission - providerFees
	if net < 0 {
		net = 0
	}
	return breakdown{
		gross:         gross,
		commissionBps: bps,
		commission:    commission,
		providerFees:  providerFees,
		net:           net,
	}
}
