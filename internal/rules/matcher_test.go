package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/dinary/feecore/internal/domain"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher()
	if err != nil {
		t.Fatalf("failed to create matcher: %v", err)
	}
	return m
}

func activeRule(id, action string, audience domain.Audience, priority int, created time.Time) *domain.CommissionRule {
	return &domain.CommissionRule{
		ID:       id,
		Name:     id,
		Action:   action,
		Audience: audience,
		Structure: domain.CommissionStructure{
			Kind: domain.StructurePercentage,
			Rate: 1,
		},
		IsActive:  true,
		Priority:  priority,
		CreatedAt: created,
	}
}

func TestMatchBasics(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	rule := activeRule("r1", "merchant_withdrawal", domain.AudienceMerchant, 0, now)
	candidates := []*domain.CommissionRule{rule}

	t.Run("matches action and audience", func(t *testing.T) {
		got, err := m.Match("merchant_withdrawal", 10000, domain.AudienceMerchant, candidates)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if got == nil || got.ID != "r1" {
			t.Errorf("expected r1, got %+v", got)
		}
	})

	t.Run("wrong action yields no rule", func(t *testing.T) {
		got, err := m.Match("transfer", 10000, domain.AudienceMerchant, candidates)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected no rule, got %s", got.ID)
		}
	})

	t.Run("wrong audience yields no rule", func(t *testing.T) {
		got, err := m.Match("merchant_withdrawal", 10000, domain.AudienceUser, candidates)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected no rule, got %s", got.ID)
		}
	})

	t.Run("inactive rules are skipped", func(t *testing.T) {
		inactive := activeRule("r2", "merchant_withdrawal", domain.AudienceMerchant, 0, now)
		inactive.IsActive = false

		got, err := m.Match("merchant_withdrawal", 10000, domain.AudienceMerchant, []*domain.CommissionRule{inactive})
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected no rule, got %s", got.ID)
		}
	})
}

func TestMatchAmountBounds(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	rule := activeRule("bounded", "merchant_withdrawal", domain.AudienceMerchant, 0, now)
	rule.MinAmount = i64(500)
	rule.MaxAmount = i64(200000)
	candidates := []*domain.CommissionRule{rule}

	tests := []struct {
		name    string
		amount  int64
		matches bool
	}{
		{"below min", 499, false},
		{"exactly min is inclusive", 500, true},
		{"inside range", 10000, true},
		{"exactly max is inclusive", 200000, true},
		{"above max", 200001, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match("merchant_withdrawal", tt.amount, domain.AudienceMerchant, candidates)
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if (got != nil) != tt.matches {
				t.Errorf("amount %d: matched=%v, want %v", tt.amount, got != nil, tt.matches)
			}
		})
	}
}

func TestMatchInvalidAmount(t *testing.T) {
	m := newTestMatcher(t)

	_, err := m.Match("send_money", -100, domain.AudienceUser, nil)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}

	_, err = m.Match("", 100, domain.AudienceUser, nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty action, got %v", err)
	}
}

func TestMatchPriorityOrdering(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	low := activeRule("low-priority", "send_money", domain.AudienceUser, 10, now)
	high := activeRule("high-priority", "send_money", domain.AudienceUser, 1, now.Add(-time.Hour))

	got, err := m.Match("send_money", 1000, domain.AudienceUser, []*domain.CommissionRule{low, high})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if got.ID != "high-priority" {
		t.Errorf("expected lowest numeric priority to win, got %s", got.ID)
	}
}

func TestMatchTieBreakMostRecent(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	older := activeRule("older", "send_money", domain.AudienceUser, 5, now.Add(-24*time.Hour))
	newer := activeRule("newer", "send_money", domain.AudienceUser, 5, now)

	// Order of candidates must not matter.
	for _, candidates := range [][]*domain.CommissionRule{
		{older, newer},
		{newer, older},
	} {
		got, err := m.Match("send_money", 1000, domain.AudienceUser, candidates)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if got.ID != "newer" {
			t.Errorf("expected most recently created rule on priority tie, got %s", got.ID)
		}
	}
}

func TestMatchDeterminism(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	candidates := []*domain.CommissionRule{
		activeRule("a", "send_money", domain.AudienceUser, 3, now),
		activeRule("b", "send_money", domain.AudienceUser, 1, now),
		activeRule("c", "send_money", domain.AudienceUser, 2, now),
	}

	first, err := m.Match("send_money", 1000, domain.AudienceUser, candidates)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := m.Match("send_money", 1000, domain.AudienceUser, candidates)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if got.ID != first.ID {
			t.Fatalf("non-deterministic match: %s then %s", first.ID, got.ID)
		}
	}
}

func TestMatchCondition(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	conditional := activeRule("large-only", "send_money", domain.AudienceUser, 0, now)
	conditional.Condition = "amount >= 5000"
	candidates := []*domain.CommissionRule{conditional}

	got, err := m.Match("send_money", 10000, domain.AudienceUser, candidates)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if got == nil || got.ID != "large-only" {
		t.Errorf("expected condition to pass for 10000, got %+v", got)
	}

	got, err = m.Match("send_money", 100, domain.AudienceUser, candidates)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected condition to reject 100, got %s", got.ID)
	}
}

func TestMatchBrokenConditionSkipsRule(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	broken := activeRule("broken", "send_money", domain.AudienceUser, 0, now)
	broken.Condition = "this is not CEL !!!"
	fallback := activeRule("fallback", "send_money", domain.AudienceUser, 1, now)

	got, err := m.Match("send_money", 1000, domain.AudienceUser, []*domain.CommissionRule{broken, fallback})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if got == nil || got.ID != "fallback" {
		t.Errorf("expected broken condition to skip its rule, got %+v", got)
	}
}

func TestValidateCondition(t *testing.T) {
	m := newTestMatcher(t)

	if err := m.ValidateCondition(""); err != nil {
		t.Errorf("empty condition must validate: %v", err)
	}
	if err := m.ValidateCondition(`audience == "MERCHANT" && amount > 100`); err != nil {
		t.Errorf("valid condition rejected: %v", err)
	}
	if err := m.ValidateCondition("amount +"); err == nil {
		t.Error("expected error for malformed condition")
	}
	if err := m.ValidateCondition("amount + 1"); err == nil {
		t.Error("expected error for non-bool condition")
	}
}

func TestMatchReferral(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	rule := &domain.ReferralRule{
		ID:             "ref-1",
		ReferrerType:   domain.AudienceUser,
		RefereeType:    domain.AudienceUser,
		RequiredAction: domain.ActionFirstTransaction,
		ReferrerReward: 500,
		RefereeReward:  250,
		IsActive:       true,
		CreatedAt:      now,
	}
	merchantRule := &domain.ReferralRule{
		ID:             "ref-2",
		ReferrerType:   domain.AudienceUser,
		RefereeType:    domain.AudienceMerchant,
		RequiredAction: domain.ActionFirstSale,
		ReferrerReward: 1000,
		RefereeReward:  0,
		IsActive:       true,
		CreatedAt:      now,
	}
	candidates := []*domain.ReferralRule{rule, merchantRule}

	got := m.MatchReferral(domain.AudienceUser, domain.AudienceUser, domain.ActionFirstTransaction, candidates)
	if got == nil || got.ID != "ref-1" {
		t.Errorf("expected ref-1, got %+v", got)
	}

	got = m.MatchReferral(domain.AudienceUser, domain.AudienceMerchant, domain.ActionFirstSale, candidates)
	if got == nil || got.ID != "ref-2" {
		t.Errorf("expected ref-2, got %+v", got)
	}

	got = m.MatchReferral(domain.AudienceMerchant, domain.AudienceUser, domain.ActionFirstTransaction, candidates)
	if got != nil {
		t.Errorf("expected no referral rule, got %s", got.ID)
	}
}

func TestMatchReferralTieBreak(t *testing.T) {
	m := newTestMatcher(t)
	now := time.Now()

	older := &domain.ReferralRule{
		ID: "older", ReferrerType: domain.AudienceUser, RefereeType: domain.AudienceUser,
		RequiredAction: domain.ActionAccountCreated, IsActive: true, Priority: 1,
		CreatedAt: now.Add(-time.Hour),
	}
	newer := &domain.ReferralRule{
		ID: "newer", ReferrerType: domain.AudienceUser, RefereeType: domain.AudienceUser,
		RequiredAction: domain.ActionAccountCreated, IsActive: true, Priority: 1,
		CreatedAt: now,
	}

	got := m.MatchReferral(domain.AudienceUser, domain.AudienceUser, domain.ActionAccountCreated, []*domain.ReferralRule{older, newer})
	if got == nil || got.ID != "newer" {
		t.Errorf("expected newest rule on tie, got %+v", got)
	}
}
