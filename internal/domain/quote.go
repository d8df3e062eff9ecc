package domain

// Quote is the result of matching and pricing one action.
// Total = Amount + Commission, all in minor units.
type Quote struct {
	Action   string   `json:"action"`
	Audience Audience `json:"audience"`
	Amount   int64    `json:"amount"`

	Commission int64 `json:"commission"`
	Total      int64 `json:"total"`

	// RuleID and RuleName identify the matched rule; empty when NoMatch.
	RuleID   string `json:"ruleId,omitempty"`
	RuleName string `json:"ruleName,omitempty"`

	// NoMatch is set when no active rule applies. Not an error: the
	// action proceeds with zero commission.
	NoMatch bool `json:"noMatch,omitempty"`

	// Warning carries a recoverable anomaly (e.g. an unrecognized
	// structure kind that fell back to zero commission).
	Warning string `json:"warning,omitempty"`
}
