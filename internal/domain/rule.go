package domain

import (
	"fmt"
	"time"
)

// Audience is the population a commission rule applies to.
type Audience string

const (
	AudienceUser     Audience = "USER"
	AudienceMerchant Audience = "MERCHANT"
)

// ValidAudience reports whether a is a known audience value.
func ValidAudience(a Audience) bool {
	return a == AudienceUser || a == AudienceMerchant
}

// StructureKind discriminates the commission structure variants.
type StructureKind string

const (
	StructureFixed      StructureKind = "fixed"
	StructurePercentage StructureKind = "percentage"
	StructureTiered     StructureKind = "tiered"
	StructureHybrid     StructureKind = "hybrid"
)

// CommissionRule defines how a fee is charged for a given action.
type CommissionRule struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Action string `json:"action"` // e.g. "merchant_withdrawal", "send_money"

	// Audience the rule targets.
	Audience Audience `json:"audience"`

	Structure CommissionStructure `json:"structure"`

	IsActive bool `json:"isActive"`

	// Priority orders candidate rules; lower wins. Ties resolve to the
	// most recently created rule.
	Priority int `json:"priority"`

	// Optional inclusive bounds on the transaction amount (minor units).
	// A rule is only eligible when the amount falls inside them.
	MinAmount *int64 `json:"minAmount,omitempty"`
	MaxAmount *int64 `json:"maxAmount,omitempty"`

	// Condition is an optional CEL expression evaluated against the
	// quote context (amount, action, audience). Empty means no condition.
	Condition string `json:"condition,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CommissionStructure is a tagged variant describing how the fee is computed.
// Exactly one of the variant field groups is meaningful for a given Kind.
type CommissionStructure struct {
	Kind StructureKind `json:"type"`

	// Fixed: flat fee in minor units.
	Value int64 `json:"value,omitempty"`

	// Percentage: rate applied to the amount (1.5 means 1.5%).
	Rate float64 `json:"rate,omitempty"`

	// Tiered: non-overlapping bands sorted ascending by MinAmount.
	Tiers []CommissionTier `json:"tiers,omitempty"`

	// Hybrid: fixed part plus percentage part, summed.
	FixedPart      int64   `json:"fixedPart,omitempty"`
	PercentagePart float64 `json:"percentagePart,omitempty"`

	// Optional clamp on the computed fee (minor units), applied after
	// the variant computation. Clamp, not eligibility.
	MinAmount *int64 `json:"minAmount,omitempty"`
	MaxAmount *int64 `json:"maxAmount,omitempty"`
}

// TierRateKind says how a tier's rate is interpreted within its band.
type TierRateKind string

const (
	TierRateFixed      TierRateKind = "fixed"
	TierRatePercentage TierRateKind = "percentage"
)

// CommissionTier is one band of a tiered structure.
// MaxAmount nil means unbounded above.
type CommissionTier struct {
	MinAmount int64        `json:"minAmount"`
	MaxAmount *int64       `json:"maxAmount,omitempty"`
	Rate      float64      `json:"rate"`
	RateKind  TierRateKind `json:"rateKind"`
}

// Contains reports whether amount falls inside the tier's inclusive range.
func (t CommissionTier) Contains(amount int64) bool {
	if amount < t.MinAmount {
		return false
	}
	return t.MaxAmount == nil || amount <= *t.MaxAmount
}

// Validate checks structural well-formedness. Tiered structures must have
// at least one tier, sorted ascending and non-overlapping.
func (s CommissionStructure) Validate() error {
	switch s.Kind {
	case StructureFixed:
		if s.Value < 0 {
			return fmt.Errorf("%w: fixed value must be non-negative", ErrInvalidInput)
		}
	case StructurePercentage:
		if s.Rate < 0 {
			return fmt.Errorf("%w: percentage rate must be non-negative", ErrInvalidInput)
		}
	case StructureTiered:
		if len(s.Tiers) == 0 {
			return fmt.Errorf("%w: tiered structure requires at least one tier", ErrInvalidInput)
		}
		for i, tier := range s.Tiers {
			if tier.RateKind != TierRateFixed && tier.RateKind != TierRatePercentage {
				return fmt.Errorf("%w: tier %d has unknown rate kind %q", ErrInvalidInput, i, tier.RateKind)
			}
			if tier.Rate < 0 {
				return fmt.Errorf("%w: tier %d rate must be non-negative", ErrInvalidInput, i)
			}
			if tier.MaxAmount != nil && *tier.MaxAmount < tier.MinAmount {
				return fmt.Errorf("%w: tier %d range is inverted", ErrInvalidInput, i)
			}
			if i > 0 {
				prev := s.Tiers[i-1]
				if prev.MaxAmount == nil {
					return fmt.Errorf("%w: tier %d follows an unbounded tier", ErrInvalidInput, i)
				}
				if tier.MinAmount <= *prev.MaxAmount {
					return fmt.Errorf("%w: tier %d overlaps tier %d", ErrInvalidInput, i, i-1)
				}
			}
		}
	case StructureHybrid:
		if s.FixedPart < 0 || s.PercentagePart < 0 {
			return fmt.Errorf("%w: hybrid parts must be non-negative", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown structure kind %q", ErrInvalidInput, s.Kind)
	}

	if s.MinAmount != nil && s.MaxAmount != nil && *s.MaxAmount < *s.MinAmount {
		return fmt.Errorf("%w: structure clamp range is inverted", ErrInvalidInput)
	}
	return nil
}

// Eligible reports whether amount falls inside the rule's optional
// [MinAmount, MaxAmount] bounds. Both ends are inclusive; an absent bound
// is unbounded on that side (MinAmount defaults to 0).
func (r *CommissionRule) Eligible(amount int64) bool {
	min := int64(0)
	if r.MinAmount != nil {
		min = *r.MinAmount
	}
	if amount < min {
		return false
	}
	return r.MaxAmount == nil || amount <= *r.MaxAmount
}
