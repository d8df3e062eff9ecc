package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dinary/feecore/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// Calculate computes the commission for a resolved structure and amount,
// both in minor units. Percentage math runs in decimal arithmetic and is
// rounded half-up to the nearest minor unit once, at the end, never at
// intermediate steps. The result is clamped into the structure's optional
// bounds and is never negative.
//
// An unrecognized structure kind yields 0 and ErrUnknownStructure; a
// misconfigured rule must not block a live transaction, so callers log the
// anomaly and charge nothing.
func Calculate(s domain.CommissionStructure, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: amount must be non-negative, got %d", domain.ErrInvalidAmount, amount)
	}

	var commission int64
	switch s.Kind {
	case domain.StructureFixed:
		commission = s.Value

	case domain.StructurePercentage:
		commission = percentageOf(amount, s.Rate)

	case domain.StructureTiered:
		commission = tieredFee(s.Tiers, amount)

	case domain.StructureHybrid:
		commission = s.FixedPart + percentageOf(amount, s.PercentagePart)

	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownStructure, s.Kind)
	}

	commission = clamp(commission, s.MinAmount, s.MaxAmount)
	if commission < 0 {
		commission = 0
	}
	return commission, nil
}

// percentageOf returns amount * rate / 100 rounded half-up to minor units.
func percentageOf(amount int64, rate float64) int64 {
	fee := decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(rate)).
		Div(oneHundred)
	// decimal.Round is half away from zero, which is half-up for the
	// non-negative values reaching this point.
	return fee.Round(0).IntPart()
}

// tieredFee applies flat-tier semantics: the whole amount is charged at
// the single tier containing it, never cumulatively across lower tiers.
// An amount above every bounded tier routes to the highest tier; an amount
// below every tier yields no fee.
func tieredFee(tiers []domain.CommissionTier, amount int64) int64 {
	tier, ok := locateTier(tiers, amount)
	if !ok {
		return 0
	}

	switch tier.RateKind {
	case domain.TierRateFixed:
		return int64(tier.Rate)
	case domain.TierRatePercentage:
		return percentageOf(amount, tier.Rate)
	}
	return 0
}

func locateTier(tiers []domain.CommissionTier, amount int64) (domain.CommissionTier, bool) {
	if len(tiers) == 0 {
		return domain.CommissionTier{}, false
	}

	for _, tier := range tiers {
		if tier.Contains(amount) {
			return tier, true
		}
	}

	// Tiers are sorted ascending, so the last one is the highest band.
	last := tiers[len(tiers)-1]
	if last.MaxAmount != nil && amount > *last.MaxAmount {
		return last, true
	}
	return domain.CommissionTier{}, false
}

func clamp(v int64, min, max *int64) int64 {
	if min != nil && v < *min {
		v = *min
	}
	if max != nil && v > *max {
		v = *max
	}
	return v
}
