package domain

import "time"

// RequiredAction is the event that triggers a referral reward.
type RequiredAction string

const (
	ActionFirstTransaction RequiredAction = "FIRST_TRANSACTION"
	ActionFirstRecharge    RequiredAction = "FIRST_RECHARGE"
	ActionFirstSale        RequiredAction = "FIRST_SALE"
	ActionAccountCreated   RequiredAction = "ACCOUNT_CREATED"
)

// ValidRequiredAction reports whether a is a known trigger action.
func ValidRequiredAction(a RequiredAction) bool {
	switch a {
	case ActionFirstTransaction, ActionFirstRecharge, ActionFirstSale, ActionAccountCreated:
		return true
	}
	return false
}

// ReferralRule rewards a referrer/referee pair when the referee performs
// the required action for the first time. Matched with the same
// pick-one-active-highest-priority pattern as commission rules, keyed by
// the audience pair.
type ReferralRule struct {
	ID             string         `json:"id"`
	ReferrerType   Audience       `json:"referrerType"`
	RefereeType    Audience       `json:"refereeType"`
	RequiredAction RequiredAction `json:"requiredAction"`

	// Rewards in minor units, both non-negative.
	ReferrerReward int64 `json:"referrerReward"`
	RefereeReward  int64 `json:"refereeReward"`

	IsActive    bool   `json:"isActive"`
	Priority    int    `json:"priority"`
	Description string `json:"description,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Referral links a referee account back to the referrer that invited it.
type Referral struct {
	ID               string    `json:"id"`
	ReferrerID       string    `json:"referrerId"`
	RefereeID        string    `json:"refereeId"`
	ReferrerAudience Audience  `json:"referrerAudience"`
	RefereeAudience  Audience  `json:"refereeAudience"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ReferralAward records a granted reward. At most one award exists per
// (referee, required action) pair.
type ReferralAward struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"ruleId"`
	ReferrerID     string         `json:"referrerId"`
	RefereeID      string         `json:"refereeId"`
	RequiredAction RequiredAction `json:"requiredAction"`
	ReferrerReward int64          `json:"referrerReward"`
	RefereeReward  int64          `json:"refereeReward"`
	CreatedAt      time.Time      `json:"createdAt"`
}
