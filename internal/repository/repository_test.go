package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/dinary/feecore/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "feecore-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func i64(v int64) *int64 { return &v }

func TestCommissionRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.CommissionRule{
		ID:       "rule-001",
		Name:     "standard payment fee",
		Action:   "payment",
		Audience: domain.AudienceUser,
		Structure: domain.CommissionStructure{
			Kind: domain.StructurePercentage,
			Rate: 1.5,
		},
		IsActive:  true,
		Priority:  10,
		MinAmount: i64(500),
		MaxAmount: i64(200000),
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveCommissionRule(ctx, rule); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		got, err := repo.GetCommissionRule(ctx, "rule-001")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}

		if got.Name != rule.Name || got.Action != rule.Action {
			t.Errorf("unexpected rule: %+v", got)
		}
		if got.Structure.Kind != domain.StructurePercentage || got.Structure.Rate != 1.5 {
			t.Errorf("structure not round-tripped: %+v", got.Structure)
		}
		if got.MinAmount == nil || *got.MinAmount != 500 {
			t.Errorf("min amount not round-tripped: %v", got.MinAmount)
		}
		if got.MaxAmount == nil || *got.MaxAmount != 200000 {
			t.Errorf("max amount not round-tripped: %v", got.MaxAmount)
		}
	})

	t.Run("Update", func(t *testing.T) {
		updated := *rule
		updated.Name = "renamed fee"
		updated.Structure = domain.CommissionStructure{Kind: domain.StructureFixed, Value: 75}

		if err := repo.SaveCommissionRule(ctx, &updated); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		got, err := repo.GetCommissionRule(ctx, "rule-001")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Name != "renamed fee" || got.Structure.Kind != domain.StructureFixed {
			t.Errorf("update not applied: %+v", got)
		}
	})

	t.Run("ListByAudience", func(t *testing.T) {
		merchant := &domain.CommissionRule{
			ID:        "rule-002",
			Name:      "merchant withdrawal fee",
			Action:    "merchant_withdrawal",
			Audience:  domain.AudienceMerchant,
			Structure: domain.CommissionStructure{Kind: domain.StructureFixed, Value: 100},
			IsActive:  true,
		}
		if err := repo.SaveCommissionRule(ctx, merchant); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		users, err := repo.ListCommissionRules(ctx, domain.AudienceUser)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(users) != 1 || users[0].ID != "rule-001" {
			t.Errorf("expected only user rules, got %+v", users)
		}

		merchants, err := repo.ListCommissionRules(ctx, domain.AudienceMerchant)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(merchants) != 1 || merchants[0].ID != "rule-002" {
			t.Errorf("expected only merchant rules, got %+v", merchants)
		}
	})

	t.Run("Deactivate", func(t *testing.T) {
		if err := repo.DeactivateCommissionRule(ctx, "rule-002"); err != nil {
			t.Fatalf("deactivate failed: %v", err)
		}

		merchants, err := repo.ListCommissionRules(ctx, domain.AudienceMerchant)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(merchants) != 0 {
			t.Errorf("expected deactivated rule excluded from active list, got %+v", merchants)
		}

		// Still visible in the admin listing.
		all, err := repo.ListAllCommissionRules(ctx)
		if err != nil {
			t.Fatalf("list all failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 rules in admin listing, got %d", len(all))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetCommissionRule(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.DeactivateCommissionRule(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		bad := &domain.CommissionRule{
			ID:        "rule-bad",
			Audience:  "PARTNER",
			Structure: domain.CommissionStructure{Kind: domain.StructureFixed},
		}
		if err := repo.SaveCommissionRule(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for unknown audience, got %v", err)
		}

		noID := &domain.CommissionRule{Audience: domain.AudienceUser}
		if err := repo.SaveCommissionRule(ctx, noID); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for missing id, got %v", err)
		}
	})
}

func TestListCommissionRulesOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, spec := range []struct {
		id       string
		priority int
		created  time.Time
	}{
		{"rule-c", 20, base},
		{"rule-a", 10, base.Add(-time.Hour)},
		{"rule-b", 10, base.Add(time.Hour)},
	} {
		rule := &domain.CommissionRule{
			ID:        spec.id,
			Name:      fmt.Sprintf("rule %d", i),
			Action:    "payment",
			Audience:  domain.AudienceUser,
			Structure: domain.CommissionStructure{Kind: domain.StructureFixed, Value: 10},
			IsActive:  true,
			Priority:  spec.priority,
			CreatedAt: spec.created,
		}
		if err := repo.SaveCommissionRule(ctx, rule); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	rules, err := repo.ListCommissionRules(ctx, domain.AudienceUser)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	// Priority ascending, then most recently created first.
	want := []string{"rule-b", "rule-a", "rule-c"}
	if len(rules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(rules))
	}
	for i, id := range want {
		if rules[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, rules[i].ID)
		}
	}
}

func TestReferralRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.ReferralRule{
		ID:             "ref-001",
		ReferrerType:   domain.AudienceUser,
		RefereeType:    domain.AudienceUser,
		RequiredAction: domain.ActionFirstTransaction,
		ReferrerReward: 500,
		RefereeReward:  250,
		IsActive:       true,
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveReferralRule(ctx, rule); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		got, err := repo.GetReferralRule(ctx, "ref-001")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.ReferrerReward != 500 || got.RefereeReward != 250 {
			t.Errorf("rewards not round-tripped: %+v", got)
		}
		if got.RequiredAction != domain.ActionFirstTransaction {
			t.Errorf("unexpected action: %s", got.RequiredAction)
		}
	})

	t.Run("ListByPair", func(t *testing.T) {
		rules, err := repo.ListReferralRules(ctx, domain.AudienceUser, domain.AudienceUser)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rules))
		}

		rules, err = repo.ListReferralRules(ctx, domain.AudienceMerchant, domain.AudienceUser)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("expected no rules for other pair, got %d", len(rules))
		}
	})

	t.Run("Deactivate", func(t *testing.T) {
		if err := repo.DeactivateReferralRule(ctx, "ref-001"); err != nil {
			t.Fatalf("deactivate failed: %v", err)
		}

		rules, err := repo.ListReferralRules(ctx, domain.AudienceUser, domain.AudienceUser)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("expected deactivated rule excluded, got %d", len(rules))
		}
	})

	t.Run("RejectsNegativeReward", func(t *testing.T) {
		bad := &domain.ReferralRule{
			ID:             "ref-bad",
			ReferrerType:   domain.AudienceUser,
			RefereeType:    domain.AudienceUser,
			RequiredAction: domain.ActionFirstTransaction,
			ReferrerReward: -1,
		}
		if err := repo.SaveReferralRule(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestTransactionLog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	txs := []*domain.Transaction{
		{ID: "tx-1", Type: domain.TxTypeRecharge, Amount: 10000, ReceiverID: "acc-1", CreatedAt: base},
		{ID: "tx-2", Type: domain.TxTypePayment, Amount: 2500, Commission: 25, SenderID: "acc-1", ReceiverID: "m-1", CreatedAt: base.Add(time.Hour)},
		{ID: "tx-3", Type: domain.TxTypeTransfer, Amount: 1000, SenderID: "acc-2", ReceiverID: "acc-1", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "tx-4", Type: domain.TxTypeWithdrawal, Amount: 4000, Commission: 40, SenderID: "acc-1", CreatedAt: base.Add(3 * time.Hour)},
	}
	for _, tx := range txs {
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetTransaction(ctx, "tx-2")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Amount != 2500 || got.Commission != 25 {
			t.Errorf("unexpected transaction: %+v", got)
		}
	})

	t.Run("ListAscending", func(t *testing.T) {
		list, err := repo.ListTransactions(ctx, "acc-1", nil, nil)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(list) != 4 {
			t.Fatalf("expected 4 transactions, got %d", len(list))
		}
		for i := 1; i < len(list); i++ {
			if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
				t.Errorf("transactions not ascending at %d", i)
			}
		}
	})

	t.Run("ListWindow", func(t *testing.T) {
		from := base.Add(30 * time.Minute)
		to := base.Add(150 * time.Minute)
		list, err := repo.ListTransactions(ctx, "acc-1", &from, &to)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 transactions in window, got %d", len(list))
		}
		if list[0].ID != "tx-2" || list[1].ID != "tx-3" {
			t.Errorf("unexpected window contents: %s, %s", list[0].ID, list[1].ID)
		}
	})

	t.Run("Totals", func(t *testing.T) {
		// Before tx-4: credits = 10000 (recharge) + 1000 (received transfer),
		// debits = 2500 (sent payment).
		credits, debits, err := repo.TransactionTotals(ctx, "acc-1", base.Add(150*time.Minute))
		if err != nil {
			t.Fatalf("totals failed: %v", err)
		}
		if credits != 11000 {
			t.Errorf("expected credits 11000, got %d", credits)
		}
		if debits != 2500 {
			t.Errorf("expected debits 2500, got %d", debits)
		}
	})

	t.Run("CountByType", func(t *testing.T) {
		count, err := repo.CountTransactionsByType(ctx, "acc-1", domain.TxTypeRecharge)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 recharge, got %d", count)
		}

		count, err = repo.CountTransactionsByType(ctx, "acc-1", "")
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 4 {
			t.Errorf("expected 4 total, got %d", count)
		}
	})

	t.Run("RevenueReport", func(t *testing.T) {
		rev, err := repo.RevenueReport(ctx, nil, nil)
		if err != nil {
			t.Fatalf("revenue failed: %v", err)
		}
		if rev.TotalRevenue != 65 {
			t.Errorf("expected total revenue 65, got %d", rev.TotalRevenue)
		}
		if rev.TransactionCount != 2 {
			t.Errorf("expected 2 commission-bearing transactions, got %d", rev.TransactionCount)
		}
		if rev.ByType[domain.TxTypeWithdrawal].Total != 40 {
			t.Errorf("unexpected withdrawal slice: %+v", rev.ByType)
		}
	})
}

func TestReferralsAndAwards(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ref := &domain.Referral{
		ID:               "link-1",
		ReferrerID:       "acc-referrer",
		RefereeID:        "acc-referee",
		ReferrerAudience: domain.AudienceUser,
		RefereeAudience:  domain.AudienceUser,
	}

	t.Run("SaveAndLookup", func(t *testing.T) {
		if err := repo.SaveReferral(ctx, ref); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		got, err := repo.GetReferralByReferee(ctx, "acc-referee")
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if got.ReferrerID != "acc-referrer" {
			t.Errorf("unexpected referrer: %s", got.ReferrerID)
		}
	})

	t.Run("RefereeOnlyReferredOnce", func(t *testing.T) {
		dup := &domain.Referral{
			ID:               "link-2",
			ReferrerID:       "acc-other",
			RefereeID:        "acc-referee",
			ReferrerAudience: domain.AudienceUser,
			RefereeAudience:  domain.AudienceUser,
		}
		if err := repo.SaveReferral(ctx, dup); err == nil {
			t.Error("expected unique constraint violation for second referral")
		}
	})

	t.Run("AwardOncePerAction", func(t *testing.T) {
		award := &domain.ReferralAward{
			ID:             "award-1",
			RuleID:         "ref-001",
			ReferrerID:     "acc-referrer",
			RefereeID:      "acc-referee",
			RequiredAction: domain.ActionFirstTransaction,
			ReferrerReward: 500,
		}
		if err := repo.SaveReferralAward(ctx, award); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		has, err := repo.HasReferralAward(ctx, "acc-referee", domain.ActionFirstTransaction)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if !has {
			t.Error("expected award to exist")
		}

		has, err = repo.HasReferralAward(ctx, "acc-referee", domain.ActionFirstRecharge)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if has {
			t.Error("expected no award for a different action")
		}

		dup := *award
		dup.ID = "award-2"
		if err := repo.SaveReferralAward(ctx, &dup); err == nil {
			t.Error("expected unique constraint violation for duplicate award")
		}
	})

	t.Run("MissingReferee", func(t *testing.T) {
		if _, err := repo.GetReferralByReferee(ctx, "acc-unknown"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
